package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var rebootCmd = &cobra.Command{
	Use:   "reboot HOSTNAME",
	Short: "Reboot an instance",
	Long: `Connect to the fleet server, wait for the operator channel to open and
ask HOSTNAME to reboot.

Without --timestamp the host reboots onto whatever build it would pick
itself. The command is fire-and-forget: success means the request was
written to the channel, not that the host acted on it.

Examples:
  # Reboot a host
  fleetconsole reboot web-01

  # Reboot onto a specific build
  fleetconsole reboot web-01 --timestamp 1700000000`,
	Args: cobra.ExactArgs(1),
	RunE: runReboot,
}

func init() {
	rebootCmd.Flags().Int64("timestamp", 0, "Build timestamp to reboot onto")
	rebootCmd.Flags().Duration("wait", 30*time.Second, "How long to wait for the channel to open")
}

func runReboot(cmd *cobra.Command, args []string) error {
	hostname := args[0]
	wait, _ := cmd.Flags().GetDuration("wait")

	var timestamp *int64
	if cmd.Flags().Changed("timestamp") {
		ts, _ := cmd.Flags().GetInt64("timestamp")
		timestamp = &ts
	}

	c, err := newConsole()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	waitCtx, cancelWait := context.WithTimeout(ctx, wait)
	defer cancelWait()
	if err := c.WaitConnected(waitCtx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.Server, err)
	}

	if err := c.Reboot(ctx, hostname, timestamp); err != nil {
		return err
	}

	if timestamp != nil {
		fmt.Printf("✓ Reboot sent to %s (build %d)\n", hostname, *timestamp)
	} else {
		fmt.Printf("✓ Reboot sent to %s\n", hostname)
	}
	return nil
}
