package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/fleetconsole/pkg/storage"
	"github.com/cuemby/fleetconsole/pkg/types"
)

// Preference commands
var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Manage display preferences",
}

var prefsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the stored preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store storage.Store) error {
			prefs, err := store.GetPreferences()
			if err != nil {
				return err
			}
			return yaml.NewEncoder(os.Stdout).Encode(prefs)
		})
	},
}

var prefsSetVolumeIDLenCmd = &cobra.Command{
	Use:   "set-volume-id-len N",
	Short: "Truncate displayed volume ids to N characters (0 = unlimited)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid length %q: %w", args[0], err)
		}
		return withStore(func(store storage.Store) error {
			if err := store.SetVolumeIDLen(n); err != nil {
				return err
			}
			fmt.Printf("✓ volume_id_len set to %d\n", n)
			return nil
		})
	},
}

var prefsSetVolumeIDURLCmd = &cobra.Command{
	Use:   "set-volume-id-url TEMPLATE",
	Short: "Link volume ids using TEMPLATE (" + types.VolumeIDPlaceholder + " is replaced, empty disables links)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store storage.Store) error {
			if err := store.SetVolumeIDURL(args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ volume_id_url set to %q\n", args[0])
			return nil
		})
	},
}

func init() {
	prefsCmd.AddCommand(prefsGetCmd)
	prefsCmd.AddCommand(prefsSetVolumeIDLenCmd)
	prefsCmd.AddCommand(prefsSetVolumeIDURLCmd)
}

// Manifest cache commands
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the local manifest cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached manifests",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store storage.Store) error {
			manifests, err := store.ListManifests()
			if err != nil {
				return err
			}
			if len(manifests) == 0 {
				fmt.Println("No cached manifests")
				return nil
			}

			names := make([]string, 0, len(manifests))
			for name := range manifests {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("%s\t%d builds\n", name, len(manifests[name].Builds))
			}
			return nil
		})
	},
}

var cacheDeleteCmd = &cobra.Command{
	Use:   "delete IMAGE_TYPE",
	Short: "Remove the cached manifest of IMAGE_TYPE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store storage.Store) error {
			if err := store.DeleteManifest(args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ Cached manifest removed: %s\n", args[0])
			return nil
		})
	},
}

func init() {
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheDeleteCmd)
}

// withStore opens the configured data directory for the duration of fn
func withStore(fn func(storage.Store) error) error {
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open data directory: %w", err)
	}
	defer store.Close()
	return fn(store)
}
