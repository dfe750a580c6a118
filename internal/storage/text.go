package storage

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

func init() {
	if err := Register(Dim1D, NewText1D); err != nil {
		panic(err)
	}
	if err := Register(Dim2D, NewText2D); err != nil {
		panic(err)
	}
}

// Text1D writes a dataset as whitespace-separated columns preceded by
// "# key = value" metadata lines and a "# column ..." header
type Text1D struct {
	Storage
}

// NewText1D creates a 1-D text backend
func NewText1D(path string) Backend {
	return &Text1D{Storage: NewStorage(path)}
}

func (t *Text1D) Write(data *Dataset, meta Meta) error {
	if err := checkRows(data); err != nil {
		return err
	}
	return t.WithStream(func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		writeMeta(bw, meta)
		writeHeader(bw, data.Columns)
		for _, row := range data.Rows {
			writeRow(bw, row)
		}
		return bw.Flush()
	})
}

// Text2D writes a dataset on a two-dimensional grid as Shape[0] blocks of
// Shape[1] rows separated by blank lines
type Text2D struct {
	Storage
}

// NewText2D creates a 2-D text backend
func NewText2D(path string) Backend {
	return &Text2D{Storage: NewStorage(path)}
}

func (t *Text2D) Write(data *Dataset, meta Meta) error {
	if err := checkRows(data); err != nil {
		return err
	}
	if len(data.Shape) != 2 || data.Shape[0]*data.Shape[1] != len(data.Rows) {
		return fmt.Errorf("2d dataset: shape %v does not match %d rows", data.Shape, len(data.Rows))
	}
	return t.WithStream(func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		writeMeta(bw, meta)
		fmt.Fprintf(bw, "# shape = %d %d\n", data.Shape[0], data.Shape[1])
		writeHeader(bw, data.Columns)
		for i, row := range data.Rows {
			if i > 0 && i%data.Shape[1] == 0 {
				bw.WriteString("\n")
			}
			writeRow(bw, row)
		}
		return bw.Flush()
	})
}

func checkRows(data *Dataset) error {
	if data == nil {
		return fmt.Errorf("nothing to write")
	}
	for i, row := range data.Rows {
		if len(row) != len(data.Columns) {
			return fmt.Errorf("row %d has %d values for %d columns", i, len(row), len(data.Columns))
		}
	}
	return nil
}

// writeMeta writes metadata sorted by key so output is deterministic
func writeMeta(w *bufio.Writer, meta Meta) {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "# %s = %s\n", k, formatMeta(meta[k]))
	}
}

func writeHeader(w *bufio.Writer, columns []string) {
	w.WriteString("# " + strings.Join(columns, " ") + "\n")
}

func writeRow(w *bufio.Writer, row []float64) {
	for i, v := range row {
		if i > 0 {
			w.WriteByte(' ')
		}
		w.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	w.WriteByte('\n')
}

func formatMeta(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case [3]float64:
		return fmt.Sprintf("%s %s %s", formatMeta(x[0]), formatMeta(x[1]), formatMeta(x[2]))
	case [3]int:
		return fmt.Sprintf("%d %d %d", x[0], x[1], x[2])
	}
	return fmt.Sprint(v)
}
