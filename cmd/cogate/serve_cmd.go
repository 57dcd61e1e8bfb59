// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"

	"github.com/ManuGH/cogate/internal/config"
	"github.com/ManuGH/cogate/internal/daemon"
	"github.com/ManuGH/cogate/internal/log"
	"github.com/ManuGH/cogate/internal/version"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")
	return cmd
}

func runServe(configPath string) error {
	// Safe defaults until the config is loaded.
	log.Configure(log.Config{Level: "info", Service: "cogate", Version: version.Version})
	logger := log.WithComponent("main")

	loader := config.NewLoader(configPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "cogate", Version: version.Version})

	logger.Info().
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("config", loader.Path()).
		Str("listen", cfg.ListenAddr).
		Msg("starting cogate")

	ctx, stop := daemon.WaitForShutdown()
	defer stop()

	app, err := daemon.Build(ctx, config.NewHolder(cfg, loader), version.Version)
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}
	if err := app.Run(ctx); err != nil {
		return err
	}
	logger.Info().Msg("cogate stopped")
	return nil
}
