package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/isdmx/codeloop/app"
	"github.com/isdmx/codeloop/config"
)

type rootOptions struct {
	varsFile string
	verbose  bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "codeloop",
		Short:         "Sandboxed Python execution with generate, run and assess retries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.varsFile, "vars", "", "YAML file with variables and tables")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log debug output to stderr")

	root.AddCommand(
		newExecCommand(opts),
		newAnalyzeCommand(opts),
		newImageCommand(opts),
		newUsageCommand(opts),
		newRunsCommand(opts),
	)
	return root
}

// startApp builds the application graph, fills targets and starts it. The
// returned function stops it.
func startApp(ctx context.Context, opts *rootOptions, extra fx.Option, targets ...any) (func(), error) {
	fxApp := fx.New(
		app.Module,
		fx.Decorate(func(cfg *config.Config) *config.Config {
			cfg.Logging.Mode = config.LogModeCLI
			if opts.verbose {
				cfg.Logging.Level = "debug"
			}
			return cfg
		}),
		extra,
		fx.Populate(targets...),
		fx.NopLogger,
	)
	if err := fxApp.Err(); err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	if err := fxApp.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start: %w", err)
	}
	return func() {
		_ = fxApp.Stop(context.WithoutCancel(ctx))
	}, nil
}
