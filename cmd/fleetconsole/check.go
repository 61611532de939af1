package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/fleetconsole/pkg/probe"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check connectivity to the fleet server",
	Long: `Test each layer between the console and the fleet server once: TCP,
TLS (for https servers), the WebSocket operator channel and, with
--image-type, the manifest endpoint.

Examples:
  # Check the configured server
  fleetconsole check

  # Also check that the ubuntu manifest can be fetched
  fleetconsole check --image-type ubuntu`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().String("image-type", "", "Image type whose manifest should be fetchable")
	checkCmd.Flags().Duration("timeout", probe.DefaultTimeout, "Timeout for each check")
}

func runCheck(cmd *cobra.Command, args []string) error {
	imageType, _ := cmd.Flags().GetString("image-type")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if err := cfg.requireServer(); err != nil {
		return err
	}
	tlsConfig, err := cfg.tlsConfig()
	if err != nil {
		return err
	}

	checkers, err := probe.ForServer(cfg.Server, tlsConfig, imageType)
	if err != nil {
		return err
	}

	fmt.Printf("Checking %s\n", cfg.Server)
	results := probe.RunAll(cmd.Context(), timeout, checkers...)
	for _, r := range results {
		mark := "✓"
		if !r.Healthy {
			mark = "✗"
		}
		fmt.Printf("  %s %-9s %s (%s)\n", mark, r.Type, r.Message, r.Duration.Round(time.Millisecond))
	}

	if !probe.Healthy(results) {
		return errors.New("one or more checks failed")
	}
	return nil
}
