package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newHealthcheckCmd() *cobra.Command {
	var (
		addr    string
		mode    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe a running gateway (for container health checks)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/healthz"
			if mode == "ready" {
				path = "/readyz"
			}
			client := http.Client{Timeout: timeout}
			resp, err := client.Get("http://" + addr + path)
			if err != nil {
				return fmt.Errorf("healthcheck failed (network): %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("healthcheck failed (status): %s", resp.Status)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Healthcheck successful (%s)\n", mode)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:8080", "gateway address")
	cmd.Flags().StringVar(&mode, "mode", "ready", "healthcheck mode: ready (default) or live")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "check timeout")
	return cmd
}
