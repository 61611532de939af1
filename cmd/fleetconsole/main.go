package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/fleetconsole/pkg/console"
	"github.com/cuemby/fleetconsole/pkg/log"
	"github.com/cuemby/fleetconsole/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// cfg is resolved before any subcommand runs
var cfg *Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetconsole",
	Short: "Fleet console - live view and control of an image-based fleet",
	Long: `fleetconsole connects to a fleet server over a WebSocket operator
channel and keeps a live model of every image type, every reporting
instance and the builds published for each image type.

Instances that stop reporting are marked stale; operators can reboot a
host, optionally onto a specific build.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(cmd)
		if err != nil {
			return err
		}

		log.Init(log.Config{
			Level:      log.ParseLevel(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})
		metrics.SetVersion(Version)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("fleetconsole version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fleetconsole version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	addConfigFlags(rootCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(rebootCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(prefsCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(certInfoCmd)
	rootCmd.AddCommand(checkCmd)
}

// newConsole builds a console for the configured server
func newConsole(opts ...console.Option) (*console.Console, error) {
	if err := cfg.requireServer(); err != nil {
		return nil, err
	}

	tlsConfig, err := cfg.tlsConfig()
	if err != nil {
		return nil, err
	}

	c, err := console.New(console.Config{
		Server:    cfg.Server,
		TLSConfig: tlsConfig,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create console: %w", err)
	}
	return c, nil
}
