package plugin

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBoxSize is returned for box size strings that are not one or three floats
var ErrBoxSize = errors.New("box size must be one float or three space-separated floats")

// ParseBoxSize parses either a single float, replicated to all three axes, or
// exactly three whitespace-separated floats. It never pads or truncates.
func ParseBoxSize(value string) ([3]float64, error) {
	var box [3]float64

	words := strings.Fields(value)
	if len(words) != 1 && len(words) != 3 {
		return box, fmt.Errorf("%w: got %d values in %q", ErrBoxSize, len(words), value)
	}

	sizes := make([]float64, len(words))
	for i, w := range words {
		f, err := strconv.ParseFloat(w, 64)
		if err != nil {
			return box, fmt.Errorf("%w: %q is not a number", ErrBoxSize, w)
		}
		sizes[i] = f
	}

	if len(sizes) == 1 {
		return [3]float64{sizes[0], sizes[0], sizes[0]}, nil
	}
	copy(box[:], sizes)
	return box, nil
}

// FormatBoxSize renders a box size so that ParseBoxSize reads it back
func FormatBoxSize(box [3]float64) string {
	if box[0] == box[1] && box[1] == box[2] {
		return formatFloat(box[0])
	}
	return formatFloat(box[0]) + " " + formatFloat(box[1]) + " " + formatFloat(box[2])
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
