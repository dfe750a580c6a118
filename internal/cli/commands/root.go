package commands

import (
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/particlekit/particlekit/internal/cli/config"
	"github.com/particlekit/particlekit/internal/cli/ui"
	"github.com/particlekit/particlekit/internal/loader"
	"github.com/particlekit/particlekit/internal/logging"
	"github.com/particlekit/particlekit/internal/particle"
	"github.com/particlekit/particlekit/internal/plugin"
	"github.com/particlekit/particlekit/internal/source"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// app carries the state every subcommand shares. It is filled in by the root
// command before any subcommand runs.
type app struct {
	configPath string
	plugins    []string
	logLevel   string
	noColor    bool

	cfg     *config.Config
	logger  *zap.Logger
	sources *plugin.ExtensionPoint[particle.Source]
}

// setup loads the configuration, builds the logger and assembles the source
// registry from the builtins plus every configured plugin file
func (a *app) setup(cmd *cobra.Command) error {
	if a.noColor {
		color.NoColor = true
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.Log.Level
	if cmd.Flags().Changed("log-level") {
		level = a.logLevel
	}
	if _, err := logging.ParseLevel(level); err != nil {
		return err
	}
	a.logger = logging.New(logging.Options{Level: level, Development: cfg.Log.Development})

	sources := plugin.NewExtensionPoint[particle.Source](source.Registry.Name())
	if err := sources.RegisterAll(source.Registry.Entries()); err != nil {
		return err
	}
	paths := append(append([]string{}, cfg.Plugins...), a.plugins...)
	ns, err := loader.LoadAll(paths, loader.NewNamespace())
	if err != nil {
		return err
	}
	if err := sources.RegisterAll(ns.Entries()); err != nil {
		return err
	}
	if len(paths) > 0 {
		a.logger.Debug("loaded plugins", zap.Strings("files", ns.Files()), zap.Int("sources", sources.Len()))
	}
	a.sources = sources
	return nil
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "particlekit",
		Short: "Paint particle catalogs onto distributed meshes",
		Long: color.CyanString(`particlekit - distributed particle painting

particlekit reads particles from pluggable sources, paints their mass onto a
slab-decomposed mesh shared by a group of ranks, and writes density
statistics through pluggable storage backends.

Sources are named by colon-delimited descriptors such as
  uniform:100000:1000:--seed 7
and can be extended with Lua plugin files.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ./particlekit.yml)")
	flags.StringArrayVar(&a.plugins, "plugin", nil, "Lua plugin file to load (repeatable)")
	flags.StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewPaintCommand(a))
	rootCmd.AddCommand(NewPluginsCommand(a))
	rootCmd.AddCommand(NewStorageCommand(a))
	rootCmd.AddCommand(NewRunsCommand(a))
	rootCmd.AddCommand(NewServeCommand(a))
	rootCmd.AddCommand(NewInitCommand(a))

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the particlekit version, Git commit, build date, and Go version",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			kv := ui.NewKeyValueTable(cmd.OutOrStdout(), color.NoColor)
			kv.AddRow("particlekit version", Version)
			kv.AddRow("Git commit", GitCommit)
			kv.AddRow("Build date", BuildDate)
			kv.AddRow("Go version", goVer)
			kv.Render()
		},
	}
}

// Execute runs the root command and renders any error
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		noColor, _ := rootCmd.PersistentFlags().GetBool("no-color")
		ui.WriteError(rootCmd.ErrOrStderr(), ui.DescribeError(err, noColor || color.NoColor))
		return err
	}
	return nil
}

// colorless reports whether colored output is off for this invocation
func (a *app) colorless() bool {
	return a.noColor || color.NoColor
}
