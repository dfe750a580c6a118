package commands

import (
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/particlekit/particlekit/internal/catalog"
	"github.com/particlekit/particlekit/internal/cli/ui"
	"github.com/particlekit/particlekit/internal/comm"
	"github.com/particlekit/particlekit/internal/paint"
	"github.com/particlekit/particlekit/internal/plugin"
	"github.com/particlekit/particlekit/internal/run"
	"github.com/particlekit/particlekit/internal/stats"
	"github.com/particlekit/particlekit/internal/storage"
)

type paintFlags struct {
	nmesh    string
	boxSize  string
	dim      string
	axis     string
	output   string
	procs    int
	backend  string
	rank     int
	size     int
	runID    string
	progress bool
	noRecord bool
}

// NewPaintCommand creates the paint command
func NewPaintCommand(a *app) *cobra.Command {
	f := &paintFlags{}

	cmd := &cobra.Command{
		Use:   "paint DESCRIPTOR",
		Short: "Paint a particle source and write its density statistic",
		Long: `Paint the particles named by DESCRIPTOR onto a slab-decomposed mesh and
write a 1-D density profile or a 2-D projection.

Examples:
  particlekit paint uniform:100000:1000 --nmesh 128 --axis z
  particlekit paint plaintext:halos.txt:1000:--mass-col 3 --dim 2d -o proj.txt
  particlekit paint uniform:1000000:1000 --comm redis --rank 0 --size 4 --run-id r1`,
		Args: cobra.ExactArgs(1),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if a.sources == nil || len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			return a.sources.Tags(), cobra.ShellCompDirectiveNoSpace
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPaint(cmd, a, f, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.nmesh, "nmesh", "", "mesh cells per side, N or Nx,Ny,Nz (default from config)")
	flags.StringVar(&f.boxSize, "boxsize", "", "box size, L or Lx,Ly,Lz (default from the descriptor)")
	flags.StringVar(&f.dim, "dim", "", "output dimensionality: 1d or 2d (default from config)")
	flags.StringVar(&f.axis, "axis", "", "profile axis, or projection axis for 2d (default from config)")
	flags.StringVarP(&f.output, "output", "o", "-", "output path, - for stdout")
	flags.IntVar(&f.procs, "procs", 0, "in-process ranks (default from config)")
	flags.StringVar(&f.backend, "comm", "", "process group: local or redis (default from config)")
	flags.IntVar(&f.rank, "rank", 0, "this process's rank in a redis group")
	flags.IntVar(&f.size, "size", 1, "number of processes in a redis group")
	flags.StringVar(&f.runID, "run-id", "", "identifier shared by every process of a redis run")
	flags.BoolVar(&f.progress, "progress", false, "show painting progress on stderr")
	flags.BoolVar(&f.noRecord, "no-record", false, "do not record the run in the catalog")

	return cmd
}

func runPaint(cmd *cobra.Command, a *app, f *paintFlags, descriptor string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := paintOptions(a, f, descriptor)
	if err != nil {
		return err
	}

	runner := run.NewRunner(a.logger)
	runner.Sources = a.sources

	ranks := opts.Procs
	if opts.Redis != nil {
		ranks = opts.Redis.Size
	} else if opts.Group != nil {
		ranks = 1
	}

	var progress *ui.PaintProgress
	if f.progress {
		progress = ui.NewPaintProgress(cmd.ErrOrStderr(), ranks, a.colorless())
		runner.Observers = []paint.Observer{progress}
	}

	if !f.noRecord && a.cfg.Catalog.DSN != "" {
		cat, err := catalog.Open(ctx, a.cfg.Catalog.DSN)
		if err != nil {
			return err
		}
		defer cat.Close()
		runner.Catalog = cat
	}

	res, err := runner.Run(ctx, opts)
	if err != nil {
		return err
	}
	if progress != nil {
		progress.Finish()
	}

	// the statistic itself may be on stdout, so the summary goes to stderr
	if res.Dataset != nil {
		kv := ui.NewKeyValueTable(cmd.ErrOrStderr(), a.colorless())
		kv.AddRow("total", strconv.FormatFloat(res.Total, 'g', -1, 64))
		kv.AddRow("ranks", strconv.Itoa(ranks))
		if opts.Output != "-" {
			kv.AddRow("output", opts.Output)
		}
		if res.Record != nil {
			kv.AddRow("run", res.Record.ID)
		}
		kv.Render()
	}
	return nil
}

// paintOptions merges flags over the configuration
func paintOptions(a *app, f *paintFlags, descriptor string) (run.Options, error) {
	cfg := a.cfg
	opts := run.Options{
		Descriptor: descriptor,
		Output:     f.output,
		Procs:      cfg.Paint.Procs,
		Cosmology:  &cfg.Cosmology,
	}

	nmesh := f.nmesh
	if nmesh == "" {
		nmesh = strconv.Itoa(cfg.Paint.Nmesh)
	}
	var err error
	if opts.Nmesh, err = parseNmesh(nmesh); err != nil {
		return opts, err
	}

	if f.boxSize != "" {
		if opts.BoxSize, err = plugin.ParseBoxSize(strings.ReplaceAll(f.boxSize, ",", " ")); err != nil {
			return opts, err
		}
	}

	dim := f.dim
	if dim == "" {
		dim = cfg.Paint.Dim
	}
	opts.Dim = storage.ParseDim(dim)

	axis := f.axis
	if axis == "" {
		axis = cfg.Paint.Axis
	}
	if opts.Axis, err = stats.ParseAxis(axis); err != nil {
		return opts, err
	}

	if f.procs > 0 {
		opts.Procs = f.procs
	}

	backend := f.backend
	if backend == "" {
		backend = cfg.Comm.Backend
	}
	switch backend {
	case "local":
		if opts.Procs == 1 {
			opts.Group = comm.Default()
		}
	case "redis":
		if f.size < 1 || f.rank < 0 || f.rank >= f.size {
			return opts, fmt.Errorf("rank %d is outside a group of size %d", f.rank, f.size)
		}
		runID := f.runID
		if runID == "" {
			if f.size > 1 {
				return opts, fmt.Errorf("--run-id is required when --size is greater than 1")
			}
			runID = uuid.NewString()
		}
		rc := cfg.RedisGroupConfig(runID, f.rank, f.size)
		opts.Redis = &rc
	default:
		return opts, fmt.Errorf("unknown process group %q: expected local or redis", backend)
	}
	return opts, nil
}

// parseNmesh accepts "N" or "Nx,Ny,Nz"
func parseNmesh(s string) ([3]int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 1 && len(parts) != 3 {
		return [3]int{}, fmt.Errorf("invalid nmesh %q: expected N or Nx,Ny,Nz", s)
	}
	var n [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v <= 0 {
			return [3]int{}, fmt.Errorf("invalid nmesh %q: cells per side must be positive integers", s)
		}
		n[i] = v
	}
	if len(parts) == 1 {
		n[1], n[2] = n[0], n[0]
	}
	return n, nil
}
