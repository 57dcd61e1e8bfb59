// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ManuGH/cogate/internal/config"
	"github.com/ManuGH/cogate/internal/version"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "***"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	var file string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := config.NewLoader(file, version.Version).Load(); err != nil {
				return fmt.Errorf("configuration error in %s:\n  %w", file, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", file)
			return nil
		},
	}
	validate.Flags().StringVarP(&file, "file", "f", "", "path to YAML configuration file")
	_ = validate.MarkFlagRequired("file")

	var dumpFile, format string
	dump := &cobra.Command{
		Use:   "dump",
		Short: "Print the effective configuration (defaults + file + env)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewLoader(dumpFile, version.Version).Load()
			if err != nil {
				return err
			}
			return dumpConfig(cmd.OutOrStdout(), cfg, format)
		},
	}
	dump.Flags().StringVarP(&dumpFile, "file", "f", "", "path to YAML configuration file")
	dump.Flags().StringVar(&format, "format", "yaml", "output format: yaml or json")

	cmd.AddCommand(validate, dump)
	return cmd
}

func dumpConfig(w io.Writer, cfg config.AppConfig, format string) error {
	if cfg.Redis.Password != "" {
		cfg.Redis.Password = redacted
	}
	if cfg.Identity.ProxyToken != "" {
		cfg.Identity.ProxyToken = redacted
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encode YAML: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (use yaml or json)", format)
	}
}
