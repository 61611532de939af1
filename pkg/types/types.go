package types

import (
	"time"
)

// ImageType is a named class of machine image grouping the instances that run it
type ImageType struct {
	Name      string
	Instances map[string]*Instance // keyed by hostname

	// Manifest is the last successfully fetched build list, nil until the
	// first fetch completes
	Manifest          *Manifest
	ManifestError     string // last fetch failure, cleared on success
	ManifestUpdatedAt time.Time

	// SelectorHost is the hostname whose version selector is open, empty when closed.
	// A build selection on this image type reboots this host.
	SelectorHost string
}

// NewImageType creates an empty image type
func NewImageType(name string) *ImageType {
	return &ImageType{
		Name:      name,
		Instances: make(map[string]*Instance),
	}
}

// Instance is one reporting host running some version of an image type
type Instance struct {
	ImageType string `json:"image_type"`
	Hostname  string `json:"hostname"`

	// LastReport is the local receipt time of the latest report
	LastReport time.Time `json:"last_report"`

	UptimeSeconds         int64  `json:"uptime_seconds"`
	UptimeLabel           string `json:"uptime_label"`
	CurrentImageTimestamp int64  `json:"current_image_timestamp"`
	CurrentVolumeID       string `json:"current_volume_id,omitempty"`
	NextImageTimestamp    int64  `json:"next_image_timestamp"`
	NextVolumeID          string `json:"next_volume_id,omitempty"`
	Status                string `json:"status,omitempty"`

	IsTarget bool   `json:"is_target"`
	IsStale  bool   `json:"is_stale"`
	AgeLabel string `json:"age_label"`
}

// Manifest is the list of available builds for an image type
type Manifest struct {
	// Timestamp is when the server generated the manifest (unix seconds), 0 if absent
	Timestamp int64   `json:"timestamp,omitempty"`
	Builds    []Build `json:"builds"`
}

// Build is one published image in a manifest
type Build struct {
	Timestamp          int64  `json:"timestamp"`
	VolumeID           string `json:"volume_id,omitempty"`
	Hash               string `json:"hash,omitempty"`
	RolloutBasisPoints int    `json:"rollout_bp,omitempty"`
}

// FleetSnapshot is an immutable, ordered copy of the console model
type FleetSnapshot struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Connected   bool            `json:"connected"`
	ImageTypes  []ImageTypeView `json:"image_types"`
}

// ImageTypeView is the read-only projection of an ImageType.
// Instances are ordered by hostname.
type ImageTypeView struct {
	Name              string     `json:"name"`
	Manifest          *Manifest  `json:"manifest,omitempty"`
	ManifestError     string     `json:"manifest_error,omitempty"`
	ManifestUpdatedAt time.Time  `json:"manifest_updated_at,omitempty"`
	SelectorHost      string     `json:"selector_host,omitempty"`
	Instances         []Instance `json:"instances"`
}

// InstanceCount returns the number of instances across all image types
func (s *FleetSnapshot) InstanceCount() int {
	n := 0
	for _, it := range s.ImageTypes {
		n += len(it.Instances)
	}
	return n
}

// FindInstance looks up an instance by hostname across all image types
func (s *FleetSnapshot) FindInstance(hostname string) (Instance, bool) {
	for _, it := range s.ImageTypes {
		for _, inst := range it.Instances {
			if inst.Hostname == hostname {
				return inst, true
			}
		}
	}
	return Instance{}, false
}

// ImageType looks up an image type view by name
func (s *FleetSnapshot) ImageType(name string) (ImageTypeView, bool) {
	for _, it := range s.ImageTypes {
		if it.Name == name {
			return it, true
		}
	}
	return ImageTypeView{}, false
}
