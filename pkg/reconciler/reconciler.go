package reconciler

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/cuemby/fleetconsole/pkg/protocol"
	"github.com/cuemby/fleetconsole/pkg/types"
)

var (
	// ErrUnknownImageType is returned when a message names an image type that is
	// not part of the current image_types set
	ErrUnknownImageType = errors.New("unknown image type")

	// ErrUnknownInstance is returned when an instance lookup fails
	ErrUnknownInstance = errors.New("unknown instance")
)

// Reconciler owns the console model and applies inbound messages to it.
//
// It is not safe for concurrent use: exactly one goroutine (the console loop)
// may call its methods. Readers on other goroutines use Snapshot copies.
type Reconciler struct {
	imageTypes map[string]*types.ImageType

	// targets is the most recent target set, kept so instances created after
	// a targets message still reflect it
	targets map[string]struct{}
}

// StalenessChange records an instance whose IsStale flag flipped during a
// recompute
type StalenessChange struct {
	ImageType string
	Hostname  string
	Stale     bool
}

// NewReconciler creates an empty model
func NewReconciler() *Reconciler {
	return &Reconciler{
		imageTypes: make(map[string]*types.ImageType),
		targets:    make(map[string]struct{}),
	}
}

// ApplyImageTypes reconciles the image type set against names. Image types not
// in names are deleted with all their instances; names not yet present are
// created. Both returned slices are sorted. The caller is expected to fetch a
// manifest for every added name.
func (r *Reconciler) ApplyImageTypes(names []string) (added, removed []string) {
	want := lo.SliceToMap(names, func(name string) (string, struct{}) {
		return name, struct{}{}
	})

	for _, name := range lo.Keys(r.imageTypes) {
		if _, ok := want[name]; !ok {
			delete(r.imageTypes, name)
			removed = append(removed, name)
		}
	}

	for name := range want {
		if _, ok := r.imageTypes[name]; !ok {
			r.imageTypes[name] = types.NewImageType(name)
			added = append(added, name)
		}
	}

	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// ApplyReport overwrites an instance's snapshot fields with the report and
// stamps it with the local receipt time now. Timestamps carried in the
// report are never used for staleness. created is true when the hostname
// was new under its image type.
func (r *Reconciler) ApplyReport(report protocol.Report, now time.Time) (created bool, err error) {
	it, ok := r.imageTypes[report.ImageType]
	if !ok {
		return false, fmt.Errorf("report for %s: %w: %s", report.Hostname, ErrUnknownImageType, report.ImageType)
	}

	inst, ok := it.Instances[report.Hostname]
	if !ok {
		_, isTarget := r.targets[report.Hostname]
		inst = &types.Instance{
			ImageType: it.Name,
			Hostname:  report.Hostname,
			IsTarget:  isTarget,
		}
		it.Instances[report.Hostname] = inst
		created = true
	}

	inst.LastReport = now
	inst.UptimeSeconds = report.UptimeSeconds
	inst.UptimeLabel = types.FormatAge(report.UptimeSeconds)
	inst.CurrentImageTimestamp = report.Timestamp
	inst.CurrentVolumeID = report.VolumeID
	inst.NextImageTimestamp = report.NextTimestamp
	inst.NextVolumeID = report.NextVolumeID
	inst.Status = report.Status
	updateAge(inst, now)

	return created, nil
}

// ApplyTargets replaces the target set. Every instance of every image type has
// IsTarget overwritten with its membership in hostnames. Returns the number of
// known instances that are targets.
func (r *Reconciler) ApplyTargets(hostnames []string) int {
	r.targets = lo.SliceToMap(hostnames, func(h string) (string, struct{}) {
		return h, struct{}{}
	})

	count := 0
	for _, it := range r.imageTypes {
		for hostname, inst := range it.Instances {
			_, inst.IsTarget = r.targets[hostname]
			if inst.IsTarget {
				count++
			}
		}
	}
	return count
}

// RecomputeStaleness refreshes IsStale and AgeLabel of every instance
// against now and returns the instances whose IsStale flag changed, ordered
// by image type then hostname.
func (r *Reconciler) RecomputeStaleness(now time.Time) []StalenessChange {
	var changes []StalenessChange
	for _, it := range r.imageTypes {
		for _, inst := range it.Instances {
			was := inst.IsStale
			updateAge(inst, now)
			if inst.IsStale != was {
				changes = append(changes, StalenessChange{
					ImageType: it.Name,
					Hostname:  inst.Hostname,
					Stale:     inst.IsStale,
				})
			}
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].ImageType != changes[j].ImageType {
			return changes[i].ImageType < changes[j].ImageType
		}
		return changes[i].Hostname < changes[j].Hostname
	})
	return changes
}

// ReplaceManifest swaps in a freshly fetched manifest wholesale, keeping the
// server's build order, and clears any previous fetch error.
func (r *Reconciler) ReplaceManifest(name string, manifest *types.Manifest, now time.Time) error {
	it, ok := r.imageTypes[name]
	if !ok {
		return fmt.Errorf("manifest for %w: %s", ErrUnknownImageType, name)
	}

	builds := make([]types.Build, len(manifest.Builds))
	copy(builds, manifest.Builds)
	it.Manifest = &types.Manifest{
		Timestamp: manifest.Timestamp,
		Builds:    builds,
	}
	it.ManifestError = ""
	it.ManifestUpdatedAt = now
	return nil
}

// MarkManifestFailed records a fetch failure. The previous manifest, if any,
// stays in place.
func (r *Reconciler) MarkManifestFailed(name string, cause error) error {
	it, ok := r.imageTypes[name]
	if !ok {
		return fmt.Errorf("manifest for %w: %s", ErrUnknownImageType, name)
	}
	it.ManifestError = cause.Error()
	return nil
}

// OpenSelector opens the version selector of an image type for hostname.
// Opening it for another host replaces the previous one.
func (r *Reconciler) OpenSelector(imageType, hostname string) error {
	it, ok := r.imageTypes[imageType]
	if !ok {
		return fmt.Errorf("open selector: %w: %s", ErrUnknownImageType, imageType)
	}
	if _, ok := it.Instances[hostname]; !ok {
		return fmt.Errorf("open selector: %w: %s/%s", ErrUnknownInstance, imageType, hostname)
	}
	it.SelectorHost = hostname
	return nil
}

// CloseSelector closes the version selector of an image type
func (r *Reconciler) CloseSelector(imageType string) error {
	it, ok := r.imageTypes[imageType]
	if !ok {
		return fmt.Errorf("close selector: %w: %s", ErrUnknownImageType, imageType)
	}
	it.SelectorHost = ""
	return nil
}

// SelectorHost returns the hostname whose version selector is open on
// imageType, or "" when closed
func (r *Reconciler) SelectorHost(imageType string) (string, error) {
	it, ok := r.imageTypes[imageType]
	if !ok {
		return "", fmt.Errorf("selector: %w: %s", ErrUnknownImageType, imageType)
	}
	return it.SelectorHost, nil
}

// HasImageType reports whether name is part of the current image type set
func (r *Reconciler) HasImageType(name string) bool {
	_, ok := r.imageTypes[name]
	return ok
}

// ImageTypeNames returns the current image type names in lexicographic order
func (r *Reconciler) ImageTypeNames() []string {
	names := lo.Keys(r.imageTypes)
	sort.Strings(names)
	return names
}

// Instance returns a copy of one instance
func (r *Reconciler) Instance(imageType, hostname string) (types.Instance, error) {
	it, ok := r.imageTypes[imageType]
	if !ok {
		return types.Instance{}, fmt.Errorf("%w: %s", ErrUnknownImageType, imageType)
	}
	inst, ok := it.Instances[hostname]
	if !ok {
		return types.Instance{}, fmt.Errorf("%w: %s/%s", ErrUnknownInstance, imageType, hostname)
	}
	return *inst, nil
}

// Manifest returns the cached manifest of an image type, nil if none was fetched
func (r *Reconciler) Manifest(imageType string) (*types.Manifest, error) {
	it, ok := r.imageTypes[imageType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownImageType, imageType)
	}
	return it.Manifest, nil
}

// Snapshot returns a deep copy of the model ordered by image type name and,
// within each type, by hostname
func (r *Reconciler) Snapshot(now time.Time, connected bool) *types.FleetSnapshot {
	snap := &types.FleetSnapshot{
		GeneratedAt: now,
		Connected:   connected,
		ImageTypes:  make([]types.ImageTypeView, 0, len(r.imageTypes)),
	}

	for _, name := range r.ImageTypeNames() {
		it := r.imageTypes[name]
		view := types.ImageTypeView{
			Name:              it.Name,
			ManifestError:     it.ManifestError,
			ManifestUpdatedAt: it.ManifestUpdatedAt,
			SelectorHost:      it.SelectorHost,
			Instances:         make([]types.Instance, 0, len(it.Instances)),
		}
		if it.Manifest != nil {
			builds := make([]types.Build, len(it.Manifest.Builds))
			copy(builds, it.Manifest.Builds)
			view.Manifest = &types.Manifest{Timestamp: it.Manifest.Timestamp, Builds: builds}
		}

		hostnames := lo.Keys(it.Instances)
		sort.Strings(hostnames)
		for _, hostname := range hostnames {
			view.Instances = append(view.Instances, *it.Instances[hostname])
		}
		snap.ImageTypes = append(snap.ImageTypes, view)
	}

	return snap
}

func updateAge(inst *types.Instance, now time.Time) {
	inst.IsStale = types.IsStale(inst.LastReport, now)
	inst.AgeLabel = types.FormatAge(types.AgeSeconds(inst.LastReport, now))
}
