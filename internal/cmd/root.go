// Package cmd wires the command-line interface of the monitor.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nikitaKurtin/dbnd/internal/build"
	"github.com/nikitaKurtin/dbnd/internal/config"
	"github.com/nikitaKurtin/dbnd/internal/logger"
	"github.com/nikitaKurtin/dbnd/internal/logger/tag"
)

// Context holds the loaded configuration and logger-carrying context for a
// command run.
type Context struct {
	context.Context

	Command *cobra.Command
	Config  *config.Config
}

// NewRootCommand builds the root command with all subcommands attached.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           build.AppName,
		Short:         "Sync dag-run state from Airflow deployments to a tracking backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "path to the monitor config file")
	rootCmd.PersistentFlags().Bool("quiet", false, "suppress log output to stderr")

	rootCmd.AddCommand(CmdMonitor())
	rootCmd.AddCommand(CmdVersion())
	return rootCmd
}

// NewContext loads configuration and attaches a configured logger to the
// command context.
func NewContext(cmd *cobra.Command) (*Context, error) {
	ctx := cmd.Context()

	cfgPath, _ := cmd.Flags().GetString("config")
	var loaderOpts []config.LoaderOption
	if cfgPath != "" {
		loaderOpts = append(loaderOpts, config.WithConfigFile(cfgPath))
	}
	cfg, err := config.Load(loaderOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	quiet, _ := cmd.Flags().GetBool("quiet")

	var opts []logger.Option
	if cfg.Log.Debug {
		opts = append(opts, logger.WithDebug())
	}
	if quiet || cfg.Log.Quiet {
		opts = append(opts, logger.WithQuiet())
	}
	if cfg.Log.Format != "" {
		opts = append(opts, logger.WithFormat(cfg.Log.Format))
	}
	ctx = logger.WithLogger(ctx, logger.NewLogger(opts...))

	if cfgPath != "" {
		logger.Debug(ctx, "Loaded configuration", tag.File(cfgPath))
	}
	for _, w := range cfg.Warnings {
		logger.Warn(ctx, w)
	}

	return &Context{
		Context: ctx,
		Command: cmd,
		Config:  cfg,
	}, nil
}
