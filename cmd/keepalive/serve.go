package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loykin/keepalive"
	storefactory "github.com/loykin/keepalive/internal/store/factory"
)

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the keepalive daemon",
		Long: `Start the keepalive daemon: the sweep engine plus the HTTP control API.
Configuration comes from the TOML file, overridable with KEEPALIVE_* variables.
Without a config file, defaults apply and GITHUB_TOKEN must be set.

Examples:
  keepalive serve --config=keepalive.toml
  keepalive serve keepalive.toml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			ctx, stop := signalContext()
			defer stop()
			return runServe(ctx, path, keepalive.Options{Version: version})
		},
	}
}

// runServe blocks until ctx is cancelled.
func runServe(ctx context.Context, configPath string, opts keepalive.Options) error {
	cfg, err := keepalive.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	app, err := keepalive.New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	app.Logger().Info("Keepalive daemon starting",
		"version", version,
		"store", storefactory.Redact(cfg.Store.DSN),
		"interval_minutes", int(app.Engine().Interval().Minutes()),
		"history_sinks", len(cfg.History.DSNs),
	)
	err = app.ListenAndRun(ctx)
	app.Logger().Info("Keepalive daemon stopped")
	return err
}
