package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/fleetconsole/pkg/api"
	"github.com/cuemby/fleetconsole/pkg/console"
	"github.com/cuemby/fleetconsole/pkg/events"
	"github.com/cuemby/fleetconsole/pkg/log"
	"github.com/cuemby/fleetconsole/pkg/metrics"
	"github.com/cuemby/fleetconsole/pkg/render"
	"github.com/cuemby/fleetconsole/pkg/storage"
)

const (
	clearScreen     = "\033[H\033[2J"
	maxRecentEvents = 10
	shutdownTimeout = 5 * time.Second

	// per client, on the HTTP API
	commandRate  = 2
	commandBurst = 5
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show the live fleet",
	Long: `Connect to the fleet server and redraw the fleet table until interrupted.

The health, metrics and fleet API is served on --http-addr while watching.

Examples:
  # Watch the fleet
  fleetconsole watch --server https://images.example.com

  # Include the published builds of every image type
  fleetconsole watch --server https://images.example.com --builds`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Duration("interval", time.Second, "Redraw interval")
	watchCmd.Flags().Bool("builds", false, "List manifest builds under each image type")
	watchCmd.Flags().Bool("no-render", false, "Log events instead of drawing the table")
}

func runWatch(cmd *cobra.Command, args []string) error {
	interval, _ := cmd.Flags().GetDuration("interval")
	showBuilds, _ := cmd.Flags().GetBool("builds")
	noRender, _ := cmd.Flags().GetBool("no-render")

	allowed, err := cfg.allowedCIDRs()
	if err != nil {
		return err
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open data directory: %w", err)
	}
	defer store.Close()

	prefs, err := store.GetPreferences()
	if err != nil {
		return fmt.Errorf("failed to load preferences: %w", err)
	}

	c, err := newConsole(console.WithManifestCache(store))
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(c)
	collector.Start()
	defer collector.Stop()

	// Subscribe before the loop starts so no early event is missed
	sub := c.Subscribe()

	grp, gctx := errgroup.WithContext(cmd.Context())

	grp.Go(func() error {
		return c.Run(gctx)
	})

	if cfg.HTTPAddr != "" {
		server := api.NewServer(c, api.Options{
			ReadOnly:     cfg.ReadOnly,
			AllowedCIDRs: allowed,
			CommandRate:  commandRate,
			CommandBurst: commandBurst,
		})

		grp.Go(func() error {
			return server.Start(cfg.HTTPAddr)
		})

		grp.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shutdown HTTP API: %w", err)
			}
			return nil
		})
	}

	grp.Go(func() error {
		if noRender {
			logEvents(gctx, sub)
			return nil
		}
		table := render.NewTable(os.Stdout, prefs)
		table.ShowBuilds = showBuilds
		drawLoop(gctx, os.Stdout, table, c, sub, interval)
		return nil
	})

	return grp.Wait()
}

// drawLoop redraws the fleet table every interval, with the most recent
// events underneath
func drawLoop(ctx context.Context, out io.Writer, table *render.Table, source metrics.SnapshotSource, sub events.Subscriber, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var recent []string
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			recent = appendRecent(recent, formatEvent(ev))
		case <-ticker.C:
			fmt.Fprint(out, clearScreen+table.Render(source.Snapshot()))
			if len(recent) > 0 {
				fmt.Fprintf(out, "\n%s\n", strings.Join(recent, "\n"))
			}
		}
	}
}

// logEvents writes every event to the log until ctx is done
func logEvents(ctx context.Context, sub events.Subscriber) {
	logger := log.WithComponent("watch")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			entry := logger.Info().Str("event", string(ev.Type))
			for k, v := range ev.Metadata {
				entry = entry.Str(k, v)
			}
			entry.Msg(ev.Message)
		}
	}
}

func appendRecent(recent []string, line string) []string {
	recent = append(recent, line)
	if len(recent) > maxRecentEvents {
		recent = recent[len(recent)-maxRecentEvents:]
	}
	return recent
}

func formatEvent(ev *events.Event) string {
	return fmt.Sprintf("%s  %-20s %s", ev.Timestamp.Format(time.TimeOnly), ev.Type, ev.Message)
}
