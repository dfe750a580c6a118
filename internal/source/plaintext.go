package source

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/particlekit/particlekit/internal/comm"
	"github.com/particlekit/particlekit/internal/cosmology"
	"github.com/particlekit/particlekit/internal/particle"
	"github.com/particlekit/particlekit/internal/plugin"
	"github.com/particlekit/particlekit/internal/stats"
)

// PlainText reads particles from a whitespace-separated text file, one
// particle per line. Blank lines and lines starting with '#' are skipped.
//
// Every rank counts the rows of the file and reads its own contiguous block,
// so the file must be visible to all ranks.
type PlainText struct {
	Path      string
	BoxSize   [3]float64
	UseCols   []int
	MassCol   int
	VelCols   []int
	RSDAxis   int
	Redshift  float64
	ChunkSize int

	cosmo *cosmology.Cosmology
}

func init() {
	Registry.MustRegister(plugin.Entry[particle.Source]{
		Tag:  "plaintext",
		Help: "read particle positions from a plain text file",
		Schema: plugin.NewSchema(
			plugin.Field{Name: "path", Kind: plugin.KindString, Help: "the file to read"},
			plugin.Field{Name: "BoxSize", Kind: plugin.KindBoxSize, Help: "box size, one value or three"},
			plugin.Field{Name: "usecols", Kind: plugin.KindInts, Flag: true, Default: []int{0, 1, 2}, Help: "columns holding x, y and z"},
			plugin.Field{Name: "mass-col", Kind: plugin.KindInt, Flag: true, Help: "column holding the particle mass"},
			plugin.Field{Name: "velcols", Kind: plugin.KindInts, Flag: true, Help: "columns holding the velocity in km/s"},
			plugin.Field{Name: "rsd", Kind: plugin.KindChoice, Flag: true, Choices: []string{"x", "y", "z"}, Help: "displace positions into redshift space along this axis"},
			plugin.Field{Name: "redshift", Kind: plugin.KindFloat, Flag: true, Default: 0.0, Help: "redshift used for the redshift-space displacement"},
			chunkSizeField,
		),
		New: newPlainText,
	})
}

func newPlainText(d *plugin.Descriptor, env *plugin.Env) (particle.Source, error) {
	p := &PlainText{
		Path:      d.Args.String("path"),
		BoxSize:   d.Args.BoxSize("BoxSize"),
		UseCols:   d.Args.Ints("usecols"),
		MassCol:   -1,
		VelCols:   d.Args.Ints("velcols"),
		RSDAxis:   -1,
		Redshift:  d.Args.Float("redshift"),
		ChunkSize: d.Args.Int("chunksize"),
		cosmo:     env.Cosmology,
	}
	if d.Args.Has("mass-col") {
		p.MassCol = d.Args.Int("mass-col")
		if p.MassCol < 0 {
			return nil, fmt.Errorf("mass-col must not be negative")
		}
	}
	if len(p.UseCols) != 3 {
		return nil, fmt.Errorf("usecols needs 3 columns, got %d", len(p.UseCols))
	}
	if p.VelCols != nil && len(p.VelCols) != 3 {
		return nil, fmt.Errorf("velcols needs 3 columns, got %d", len(p.VelCols))
	}
	if d.Args.Has("rsd") {
		if p.VelCols == nil {
			return nil, fmt.Errorf("rsd requires velcols")
		}
		p.RSDAxis, _ = stats.ParseAxis(d.Args.String("rsd"))
	}
	if p.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunksize must be positive, got %d", p.ChunkSize)
	}
	if p.cosmo == nil {
		p.cosmo = cosmology.Default()
	}
	return p, nil
}

// Read yields this rank's block of rows
func (p *PlainText) Read(ctx context.Context, fields []string, group comm.Group) (particle.ChunkReader, error) {
	total, err := countRows(p.Path)
	if err != nil {
		return nil, err
	}
	start, end := particle.Partition(total, group.Rank(), group.Size())

	f, err := os.Open(p.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p.Path, err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	withMass := p.MassCol >= 0 && particle.Wants(fields, particle.FieldMass)
	rsdFactor := 0.0
	if p.RSDAxis >= 0 {
		rsdFactor = p.cosmo.RSDFactor(p.Redshift)
	}

	row, line := 0, 0
	fill := func(ctx context.Context, n int) (particle.Chunk, error) {
		var chunk particle.Chunk
		if withMass {
			chunk.Mass = []float64{}
		}
		for row < end && len(chunk.Position) < n {
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return particle.Chunk{}, fmt.Errorf("%s: %w", p.Path, err)
				}
				return particle.Chunk{}, fmt.Errorf("%s: file shrank while reading", p.Path)
			}
			line++
			words, ok := dataRow(scanner.Text())
			if !ok {
				continue
			}
			row++
			if row <= start {
				continue
			}

			pos, mass, err := p.parseRow(words, rsdFactor)
			if err != nil {
				return particle.Chunk{}, fmt.Errorf("%s:%d: %w", p.Path, line, err)
			}
			chunk.Position = append(chunk.Position, pos)
			if withMass {
				chunk.Mass = append(chunk.Mass, mass)
			}
		}
		return chunk, nil
	}

	return &paddedReader{
		count:     particle.ChunkCount(total, group.Size(), p.ChunkSize),
		chunkSize: p.ChunkSize,
		fill:      fill,
		closer:    f,
	}, nil
}

func (p *PlainText) parseRow(words []string, rsdFactor float64) (particle.Vec3, float64, error) {
	column := func(i int) (float64, error) {
		if i < 0 || i >= len(words) {
			return 0, fmt.Errorf("column %d out of range, row has %d columns", i, len(words))
		}
		v, err := strconv.ParseFloat(words[i], 64)
		if err != nil {
			return 0, fmt.Errorf("column %d: %q is not a number", i, words[i])
		}
		return v, nil
	}

	var pos particle.Vec3
	for d, c := range p.UseCols {
		v, err := column(c)
		if err != nil {
			return pos, 0, err
		}
		pos[d] = v
	}
	if p.RSDAxis >= 0 {
		v, err := column(p.VelCols[p.RSDAxis])
		if err != nil {
			return pos, 0, err
		}
		pos[p.RSDAxis] += v * rsdFactor
	}

	var mass float64
	if p.MassCol >= 0 {
		v, err := column(p.MassCol)
		if err != nil {
			return pos, 0, err
		}
		mass = v
	}
	return pos, mass, nil
}

func dataRow(text string) ([]string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return nil, false
	}
	return strings.Fields(trimmed), true
}

func countRows(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	n := 0
	for scanner.Scan() {
		if _, ok := dataRow(scanner.Text()); ok {
			n++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}
