package storage

import (
	"errors"

	"github.com/cuemby/fleetconsole/pkg/types"
)

// ErrNotFound is returned when a key is absent
var ErrNotFound = errors.New("not found")

// Store defines the interface for the console's local state
type Store interface {
	// Preferences
	GetPreferences() (types.Preferences, error)
	SetVolumeIDLen(n int) error
	SetVolumeIDURL(template string) error

	// Manifest cache
	SaveManifest(imageType string, manifest *types.Manifest) error
	GetManifest(imageType string) (*types.Manifest, error)
	ListManifests() (map[string]*types.Manifest, error)
	DeleteManifest(imageType string) error

	// Utility
	Close() error
}
