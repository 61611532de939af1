package metrics

import (
	"time"

	"github.com/cuemby/fleetconsole/pkg/types"
)

// DefaultCollectInterval is how often gauges are refreshed from the fleet
const DefaultCollectInterval = 15 * time.Second

// SnapshotSource provides the current fleet view
type SnapshotSource interface {
	Snapshot() *types.FleetSnapshot
}

// Collector refreshes fleet gauges from periodic snapshots
type Collector struct {
	source   SnapshotSource
	interval time.Duration
	stopCh   chan struct{}

	// image types published on the previous pass, so vanished ones are cleared
	published map[string]struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source SnapshotSource) *Collector {
	return &Collector{
		source:    source,
		interval:  DefaultCollectInterval,
		stopCh:    make(chan struct{}),
		published: make(map[string]struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	snap := c.source.Snapshot()
	if snap == nil {
		return
	}

	if snap.Connected {
		Connected.Set(1)
	} else {
		Connected.Set(0)
	}

	ImageTypesTotal.Set(float64(len(snap.ImageTypes)))

	targets := 0
	seen := make(map[string]struct{}, len(snap.ImageTypes))
	for _, it := range snap.ImageTypes {
		fresh, stale := 0, 0
		for _, inst := range it.Instances {
			if inst.IsStale {
				stale++
			} else {
				fresh++
			}
			if inst.IsTarget {
				targets++
			}
		}
		InstancesTotal.WithLabelValues(it.Name, "fresh").Set(float64(fresh))
		InstancesTotal.WithLabelValues(it.Name, "stale").Set(float64(stale))
		seen[it.Name] = struct{}{}
	}
	TargetsTotal.Set(float64(targets))

	for name := range c.published {
		if _, ok := seen[name]; !ok {
			InstancesTotal.DeleteLabelValues(name, "fresh")
			InstancesTotal.DeleteLabelValues(name, "stale")
		}
	}
	c.published = seen
}
