// Package run executes one painting run end to end: it sets up the process
// group, builds the source and mesh on every rank, paints, computes the
// requested statistic and writes it from rank 0.
package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/particlekit/particlekit/internal/catalog"
	"github.com/particlekit/particlekit/internal/comm"
	"github.com/particlekit/particlekit/internal/cosmology"
	"github.com/particlekit/particlekit/internal/mesh"
	"github.com/particlekit/particlekit/internal/paint"
	"github.com/particlekit/particlekit/internal/particle"
	"github.com/particlekit/particlekit/internal/plugin"
	"github.com/particlekit/particlekit/internal/source"
	"github.com/particlekit/particlekit/internal/stats"
	"github.com/particlekit/particlekit/internal/storage"
)

// Options describes one run
type Options struct {
	Descriptor string               `json:"descriptor"`
	Nmesh      [3]int               `json:"nmesh"`
	BoxSize    [3]float64           `json:"box_size"`
	Dim        storage.Dim          `json:"dim"`
	Axis       int                  `json:"axis"`
	Output     string               `json:"output"`
	Procs      int                  `json:"procs"`
	Redis      *comm.RedisConfig    `json:"-"`
	Group      comm.Group           `json:"-"`
	Cosmology  *cosmology.Cosmology `json:"-"`
}

// Result is what rank 0 produced
type Result struct {
	Total   float64
	Dataset *storage.Dataset
	Record  *catalog.Record
}

// Runner executes runs
type Runner struct {
	Logger    *zap.Logger
	Sources   *plugin.ExtensionPoint[particle.Source]
	Storage   *storage.Registry
	Catalog   *catalog.Catalog
	Observers []paint.Observer
}

// NewRunner creates a runner using the process-wide source registry
func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{Logger: logger, Sources: source.Registry}
}

// rankResult is filled by rank 0 only
type rankResult struct {
	total   float64
	dataset *storage.Dataset
}

// Run paints opts.Descriptor and writes the statistic. In-process runs start
// opts.Procs ranks; Redis runs and runs given a Group join as a single rank
// and only rank 0 writes output and records the run.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	started := time.Now()
	log := r.Logger.Named("run")

	desc, err := r.Sources.Parse(opts.Descriptor)
	if err != nil {
		return nil, err
	}
	if opts.BoxSize == ([3]float64{}) {
		if !desc.Args.Has("BoxSize") {
			return nil, fmt.Errorf("no box size given and %q has no BoxSize argument", desc.Tag)
		}
		opts.BoxSize = desc.Args.BoxSize("BoxSize")
	}
	if opts.Dim == "" {
		opts.Dim = storage.Dim1D
	}
	backend, err := r.storage().Get(opts.Dim, opts.Output)
	if err != nil {
		return nil, err
	}
	if opts.Axis < 0 || opts.Axis > 2 {
		return nil, fmt.Errorf("axis %d out of range", opts.Axis)
	}

	members, closeGroup, err := r.groups(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer closeGroup()

	log.Info("starting run",
		zap.String("descriptor", opts.Descriptor),
		zap.Int("ranks", members[0].Size()),
		zap.Ints("nmesh", opts.Nmesh[:]))

	var res rankResult
	g, gctx := errgroup.WithContext(ctx)
	for _, member := range members {
		g.Go(func() error {
			return r.runRank(gctx, member, desc, opts, &res)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// only the process hosting rank 0 writes
	if members[0].Rank() != 0 {
		return &Result{Total: res.total}, nil
	}

	meta := storage.Meta{
		"descriptor": opts.Descriptor,
		"nmesh":      opts.Nmesh,
		"BoxSize":    opts.BoxSize,
		"total":      res.total,
		"ranks":      members[0].Size(),
	}
	if opts.Dim == storage.Dim2D {
		meta["projected_along"] = stats.AxisName(opts.Axis)
	} else {
		meta["axis"] = stats.AxisName(opts.Axis)
	}
	if err := backend.Write(res.dataset, meta); err != nil {
		return nil, fmt.Errorf("write %s output: %w", opts.Dim, err)
	}

	result := &Result{Total: res.total, Dataset: res.dataset}
	if r.Catalog != nil {
		rec := &catalog.Record{
			Descriptor: opts.Descriptor,
			Dim:        string(opts.Dim),
			Nmesh:      opts.Nmesh,
			BoxSize:    opts.BoxSize,
			Ranks:      members[0].Size(),
			Total:      res.total,
			Output:     backend.Path(),
			StartedAt:  started.UTC(),
			Duration:   time.Since(started),
		}
		if err := r.Catalog.Record(ctx, rec); err != nil {
			return nil, err
		}
		result.Record = rec
	}

	log.Info("run complete", zap.Float64("total", res.total), zap.Duration("elapsed", time.Since(started)))
	return result, nil
}

func (r *Runner) storage() *storage.Registry {
	if r.Storage != nil {
		return r.Storage
	}
	return storage.DefaultRegistry()
}

// groups returns the members this process drives. A caller-supplied group
// is joined as a single member and left open.
func (r *Runner) groups(ctx context.Context, opts Options) ([]comm.Group, func(), error) {
	if opts.Group != nil {
		return []comm.Group{opts.Group}, func() {}, nil
	}
	if opts.Redis != nil {
		rg, err := comm.NewRedisGroup(ctx, *opts.Redis)
		if err != nil {
			return nil, nil, err
		}
		return []comm.Group{rg}, func() { rg.Close() }, nil
	}

	procs := opts.Procs
	if procs < 1 {
		procs = 1
	}
	local := comm.NewLocal(procs)
	members := make([]comm.Group, len(local))
	for i, m := range local {
		members[i] = m
	}
	return members, func() {}, nil
}

func (r *Runner) runRank(ctx context.Context, group comm.Group, desc *plugin.Descriptor, opts Options, res *rankResult) error {
	logger := r.Logger.With(zap.Int("rank", group.Rank()))
	env := plugin.NewEnv(group, opts.Cosmology, logger)

	src, err := r.Sources.New(desc, env)
	if err != nil {
		return err
	}
	slab, err := mesh.NewSlab(group, opts.Nmesh, opts.BoxSize)
	if err != nil {
		return err
	}

	total, err := paint.New(logger, r.Observers...).Paint(ctx, src, slab)
	if err != nil {
		return fmt.Errorf("rank %d: %w", group.Rank(), err)
	}

	dataset, err := statistic(ctx, slab, opts)
	if err != nil {
		return fmt.Errorf("rank %d: %w", group.Rank(), err)
	}

	if group.Rank() == 0 {
		res.total = total
		res.dataset = dataset
	}
	return nil
}

// statistic computes the dataset for opts.Dim. It is collective.
func statistic(ctx context.Context, slab *mesh.Slab, opts Options) (*storage.Dataset, error) {
	switch opts.Dim {
	case storage.Dim1D:
		p, err := stats.Profile1D(ctx, slab, opts.Axis)
		if err != nil {
			return nil, err
		}
		ds := &storage.Dataset{Columns: []string{stats.AxisName(p.Axis), "weight", "density", "delta"}}
		for i := range p.Centers {
			ds.Rows = append(ds.Rows, []float64{p.Centers[i], p.Weight[i], p.Density[i], p.Delta[i]})
		}
		return ds, nil
	case storage.Dim2D:
		p, err := stats.Project2D(ctx, slab, opts.Axis)
		if err != nil {
			return nil, err
		}
		ds := &storage.Dataset{
			Columns: []string{stats.AxisName(p.Plane[0]), stats.AxisName(p.Plane[1]), "density"},
			Shape:   []int{p.Shape[0], p.Shape[1]},
		}
		for i, u := range p.Centers[0] {
			for j, v := range p.Centers[1] {
				ds.Rows = append(ds.Rows, []float64{u, v, p.Density[i*p.Shape[1]+j]})
			}
		}
		return ds, nil
	}
	return nil, errors.New("no statistic for dimension " + string(opts.Dim))
}
