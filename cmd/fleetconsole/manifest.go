package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/fleetconsole/pkg/manifest"
	"github.com/cuemby/fleetconsole/pkg/render"
	"github.com/cuemby/fleetconsole/pkg/storage"
	"github.com/cuemby/fleetconsole/pkg/types"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest IMAGE_TYPE",
	Short: "Show the published builds of an image type",
	Long: `Fetch the manifest of IMAGE_TYPE from the fleet server and list its builds
in server order. A successful fetch refreshes the local manifest cache.

Examples:
  # Fetch and show the builds
  fleetconsole manifest ubuntu

  # Show the last cached copy without contacting the server
  fleetconsole manifest ubuntu --cached`,
	Args: cobra.ExactArgs(1),
	RunE: runManifest,
}

func init() {
	manifestCmd.Flags().Bool("cached", false, "Read the local cache instead of fetching")
	manifestCmd.Flags().Bool("json", false, "Print the manifest as JSON")
}

func runManifest(cmd *cobra.Command, args []string) error {
	imageType := args[0]
	cached, _ := cmd.Flags().GetBool("cached")
	asJSON, _ := cmd.Flags().GetBool("json")

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open data directory: %w", err)
	}
	defer store.Close()

	var m *types.Manifest
	if cached {
		m, err = store.GetManifest(imageType)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no cached manifest for %s", imageType)
		}
		if err != nil {
			return err
		}
	} else {
		if err := cfg.requireServer(); err != nil {
			return err
		}
		tlsConfig, err := cfg.tlsConfig()
		if err != nil {
			return err
		}

		m, err = manifest.NewFetcher(cfg.Server, tlsConfig).Fetch(cmd.Context(), imageType)
		if err != nil {
			return err
		}
		if err := store.SaveManifest(imageType, m); err != nil {
			return fmt.Errorf("failed to cache manifest: %w", err)
		}
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	}

	prefs, err := store.GetPreferences()
	if err != nil {
		return fmt.Errorf("failed to load preferences: %w", err)
	}
	fmt.Print(render.NewTable(os.Stdout, prefs).RenderManifest(imageType, m))
	return nil
}
