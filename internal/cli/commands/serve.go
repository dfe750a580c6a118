package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/particlekit/particlekit/internal/api"
	"github.com/particlekit/particlekit/internal/catalog"
	"github.com/particlekit/particlekit/internal/run"
)

// NewServeCommand creates the serve command
func NewServeCommand(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and the progress websocket",
		Long: `Serve the particlekit HTTP API.

Endpoints:
  GET  /api/sources              registered source types
  GET  /api/sources/{tag}        arguments of one source type
  POST /api/descriptors/parse    validate a descriptor
  GET  /api/storage              storage backends
  GET  /api/runs                 recorded runs
  POST /api/runs                 paint a descriptor
  GET  /ws/progress              painting progress events
  GET  /healthz                  liveness`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			outputDir := a.cfg.Server.OutputDir
			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return err
			}

			var cat *catalog.Catalog
			if a.cfg.Catalog.DSN != "" {
				c, err := catalog.Open(ctx, a.cfg.Catalog.DSN)
				if err != nil {
					return err
				}
				defer c.Close()
				cat = c
			}

			runner := run.NewRunner(a.logger)
			runner.Sources = a.sources

			hub := api.NewProgressHub(a.logger)
			defer hub.Close()

			server := api.NewServer(api.Config{
				Runner:    runner,
				Catalog:   cat,
				Hub:       hub,
				Logger:    a.logger,
				OutputDir: outputDir,
				Procs:     a.cfg.Paint.Procs,
				MaxProcs:  a.cfg.Server.MaxProcs,
				MaxCells:  a.cfg.Server.MaxCells,
				Cosmology: &a.cfg.Cosmology,
			})
			a.logger.Info("serving", zap.String("addr", addr), zap.String("output_dir", outputDir))
			return server.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
