package plugin

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseBoxSize(t *testing.T) {
	box, err := ParseBoxSize("500")
	require.NoError(t, err)
	assert.Equal(t, [3]float64{500, 500, 500}, box)

	box, err = ParseBoxSize("500 500 1000")
	require.NoError(t, err)
	assert.Equal(t, [3]float64{500, 500, 1000}, box)

	box, err = ParseBoxSize("  1e3\t2  3 ")
	require.NoError(t, err)
	assert.Equal(t, [3]float64{1000, 2, 3}, box)
}

func TestParseBoxSize_Errors(t *testing.T) {
	for _, s := range []string{"", "1 2", "1 2 3 4", "abc", "1 two 3"} {
		t.Run(fmt.Sprintf("%q", s), func(t *testing.T) {
			_, err := ParseBoxSize(s)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrBoxSize))
		})
	}
}

func TestParseBoxSize_CountProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		vals := rapid.SliceOfN(rapid.Float64Range(-1e6, 1e6), 0, 8).Draw(t, "vals")
		words := make([]string, len(vals))
		for i, v := range vals {
			words[i] = formatFloat(v)
		}

		box, err := ParseBoxSize(strings.Join(words, " "))
		switch len(vals) {
		case 1:
			if err != nil || box != [3]float64{vals[0], vals[0], vals[0]} {
				t.Fatalf("one value: got %v, %v", box, err)
			}
		case 3:
			if err != nil || box != [3]float64{vals[0], vals[1], vals[2]} {
				t.Fatalf("three values: got %v, %v", box, err)
			}
		default:
			if !errors.Is(err, ErrBoxSize) {
				t.Fatalf("%d values must fail, got %v", len(vals), err)
			}
		}
	})
}

func TestFormatBoxSize(t *testing.T) {
	assert.Equal(t, "250", FormatBoxSize([3]float64{250, 250, 250}))
	assert.Equal(t, "1 2 3.5", FormatBoxSize([3]float64{1, 2, 3.5}))
}
