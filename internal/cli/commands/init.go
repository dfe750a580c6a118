package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/particlekit/particlekit/internal/cli/config"
	"github.com/particlekit/particlekit/internal/cli/ui"
)

// NewInitCommand creates the init command
func NewInitCommand(a *app) *cobra.Command {
	var (
		yes   bool
		force bool
		path  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a particlekit.yml configuration file",
		Long: `Write a particlekit.yml configuration file, prompting for the common
settings. Use --yes to accept the defaults without prompting.`,
		Args: cobra.NoArgs,
		// init must work even when the existing configuration is broken
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.Default()
			if !yes {
				if err := promptConfig(cfg); err != nil {
					return err
				}
			}
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			ui.WriteSuccess(cmd.OutOrStdout(), "Wrote "+path, a.colorless())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "accept defaults without prompting")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.Flags().StringVar(&path, "path", config.FileName, "file to write")
	return cmd
}

func promptConfig(cfg *config.Config) error {
	questions := []*survey.Question{
		{
			Name:     "nmesh",
			Prompt:   &survey.Input{Message: "Mesh cells per side:", Default: strconv.Itoa(cfg.Paint.Nmesh)},
			Validate: positiveInt,
		},
		{
			Name:     "procs",
			Prompt:   &survey.Input{Message: "In-process ranks:", Default: strconv.Itoa(cfg.Paint.Procs)},
			Validate: positiveInt,
		},
		{
			Name: "backend",
			Prompt: &survey.Select{
				Message: "Process group:",
				Options: []string{"local", "redis"},
				Default: cfg.Comm.Backend,
			},
		},
		{
			Name: "catalog",
			Prompt: &survey.Input{
				Message: "Run catalog DSN:",
				Default: cfg.Catalog.DSN,
				Help:    "A SQLite file path or a postgres:// URL. Leave empty to disable the catalog.",
			},
		},
		{
			Name:     "addr",
			Prompt:   &survey.Input{Message: "API listen address:", Default: cfg.Server.Addr},
			Validate: survey.Required,
		},
	}

	answers := struct {
		Nmesh   string
		Procs   string
		Backend string
		Catalog string
		Addr    string
	}{}
	if err := survey.Ask(questions, &answers); err != nil {
		return err
	}

	cfg.Paint.Nmesh, _ = strconv.Atoi(answers.Nmesh)
	cfg.Paint.Procs, _ = strconv.Atoi(answers.Procs)
	cfg.Comm.Backend = answers.Backend
	cfg.Catalog.DSN = answers.Catalog
	cfg.Server.Addr = answers.Addr

	if cfg.Comm.Backend == "redis" {
		prompt := &survey.Input{Message: "Redis address:", Default: cfg.Comm.Redis.Addr}
		if err := survey.AskOne(prompt, &cfg.Comm.Redis.Addr, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
	}
	return nil
}

func positiveInt(ans interface{}) error {
	s, _ := ans.(string)
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fmt.Errorf("enter a positive integer")
	}
	return nil
}
