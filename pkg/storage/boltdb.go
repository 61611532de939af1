package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/fleetconsole/pkg/log"
	"github.com/cuemby/fleetconsole/pkg/types"
)

const dbFile = "fleetconsole.db"

var (
	// Bucket names
	bucketPreferences = []byte("preferences")
	bucketManifests   = []byte("manifests")

	// Preference keys
	keyVolumeIDLen = []byte("volume_id_len")
	keyVolumeIDURL = []byte("volume_id_url")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db     *bolt.DB
	logger zerolog.Logger
}

// NewBoltStore creates a new BoltDB-backed store under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, dbFile)
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketPreferences, bucketManifests} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	logger := log.WithComponent("storage")
	logger.Debug().Str("path", dbPath).Msg("Opened store")

	return &BoltStore{db: db, logger: logger}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// GetPreferences returns the stored preferences. Unset keys keep their
// defaults: no truncation and no volume link.
func (s *BoltStore) GetPreferences() (types.Preferences, error) {
	var prefs types.Preferences
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPreferences)
		if data := b.Get(keyVolumeIDLen); data != nil {
			if err := json.Unmarshal(data, &prefs.VolumeIDLen); err != nil {
				return fmt.Errorf("failed to decode %s: %w", keyVolumeIDLen, err)
			}
		}
		if data := b.Get(keyVolumeIDURL); data != nil {
			if err := json.Unmarshal(data, &prefs.VolumeIDURL); err != nil {
				return fmt.Errorf("failed to decode %s: %w", keyVolumeIDURL, err)
			}
		}
		return nil
	})
	return prefs, err
}

// SetVolumeIDLen stores the volume id display length. 0 means unlimited.
func (s *BoltStore) SetVolumeIDLen(n int) error {
	if n < 0 {
		return fmt.Errorf("volume id length must not be negative: %d", n)
	}
	return s.putPreference(keyVolumeIDLen, n)
}

// SetVolumeIDURL stores the volume link template. An empty template
// disables links.
func (s *BoltStore) SetVolumeIDURL(template string) error {
	return s.putPreference(keyVolumeIDURL, template)
}

func (s *BoltStore) putPreference(key []byte, v any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPreferences).Put(key, data)
	})
}

// Manifest cache operations
func (s *BoltStore) SaveManifest(imageType string, manifest *types.Manifest) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(manifest)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketManifests).Put([]byte(imageType), data)
	})
}

func (s *BoltStore) GetManifest(imageType string) (*types.Manifest, error) {
	var manifest types.Manifest
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketManifests).Get([]byte(imageType))
		if data == nil {
			return fmt.Errorf("manifest %w: %s", ErrNotFound, imageType)
		}
		return json.Unmarshal(data, &manifest)
	})
	if err != nil {
		return nil, err
	}
	return &manifest, nil
}

func (s *BoltStore) ListManifests() (map[string]*types.Manifest, error) {
	manifests := make(map[string]*types.Manifest)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketManifests).ForEach(func(k, v []byte) error {
			var manifest types.Manifest
			if err := json.Unmarshal(v, &manifest); err != nil {
				return err
			}
			manifests[string(k)] = &manifest
			return nil
		})
	})
	return manifests, err
}

func (s *BoltStore) DeleteManifest(imageType string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketManifests).Delete([]byte(imageType))
	})
}
