package console

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cuemby/fleetconsole/pkg/events"
	"github.com/cuemby/fleetconsole/pkg/log"
	"github.com/cuemby/fleetconsole/pkg/metrics"
	"github.com/cuemby/fleetconsole/pkg/protocol"
	"github.com/cuemby/fleetconsole/pkg/reconciler"
	"github.com/cuemby/fleetconsole/pkg/storage"
	"github.com/cuemby/fleetconsole/pkg/types"
)

// event is anything the loop processes
type event interface {
	kind() string
}

type frameEvent struct {
	frame    []byte
	received time.Time
}

type openEvent struct{}

type closeEvent struct {
	err error
}

type tickEvent struct{}

type fetchEvent struct {
	imageType string
	seq       uint64
	manifest  *types.Manifest
	err       error
}

// requestEvent runs an operator request on the loop
type requestEvent struct {
	op     string
	fn     func() error
	result chan error
}

func (frameEvent) kind() string     { return "frame" }
func (openEvent) kind() string      { return "open" }
func (closeEvent) kind() string     { return "close" }
func (tickEvent) kind() string      { return "tick" }
func (fetchEvent) kind() string     { return "fetch" }
func (r requestEvent) kind() string { return "request_" + r.op }

// handle processes one event, then publishes a fresh snapshot. Events raised
// while handling, and request results, are released only after the snapshot
// that reflects them is visible.
func (c *Console) handle(ev event) {
	timer := metrics.NewTimer()
	now := c.now()

	var reply func()
	switch ev := ev.(type) {
	case frameEvent:
		c.handleFrame(ev)
	case openEvent:
		c.connected = true
		c.logger.Info().Msg("Operator channel open")
		c.publish(events.EventConnectionOpened, "connected to "+c.cfg.Server, nil)
	case closeEvent:
		c.connected = false
		msg := "connection closed"
		if ev.err != nil {
			msg = "connection lost: " + ev.err.Error()
		}
		c.logger.Warn().Msg("Operator channel closed")
		c.publish(events.EventConnectionClosed, msg, nil)
	case tickEvent:
		c.handleTick(now)
	case fetchEvent:
		c.handleFetch(ev, now)
	case requestEvent:
		err := ev.fn()
		reply = func() { ev.result <- err }
	}

	c.snapshot.Store(c.model.Snapshot(now, c.connected))

	for _, e := range c.pending {
		c.broker.Publish(e)
	}
	c.pending = c.pending[:0]

	if reply != nil {
		reply()
	}
	timer.ObserveDurationVec(metrics.EventDuration, ev.kind())
}

func (c *Console) handleFrame(ev frameEvent) {
	msg, err := protocol.Decode(ev.frame)
	if err != nil {
		metrics.MessagesDroppedTotal.WithLabelValues("malformed").Inc()
		c.logger.Warn().Err(err).Int("size", len(ev.frame)).Msg("Dropped malformed message")
		c.publish(events.EventProtocolViolation, err.Error(), nil)
		return
	}

	switch m := msg.(type) {
	case protocol.ImageTypes:
		metrics.MessagesTotal.WithLabelValues(string(protocol.TypeImageTypes)).Inc()
		c.applyImageTypes(m)

	case protocol.Report:
		metrics.MessagesTotal.WithLabelValues(string(protocol.TypeReport)).Inc()
		c.applyReport(m, ev.received)

	case protocol.Targets:
		metrics.MessagesTotal.WithLabelValues(string(protocol.TypeTargets)).Inc()
		n := c.model.ApplyTargets(m.Hostnames)
		c.logger.Debug().Int("targets", len(m.Hostnames)).Int("matched", n).Msg("Applied targets")
		c.publish(events.EventTargetsUpdated, fmt.Sprintf("%d targets", len(m.Hostnames)), map[string]string{
			"targets": strconv.Itoa(len(m.Hostnames)),
			"matched": strconv.Itoa(n),
		})

	case protocol.NewManifest:
		metrics.MessagesTotal.WithLabelValues(string(protocol.TypeNewManifest)).Inc()
		if !c.model.HasImageType(m.ImageType) {
			c.dropUnknownImageType(protocol.TypeNewManifest, m.ImageType, "")
			return
		}
		c.startFetch(m.ImageType)

	case protocol.Unknown:
		metrics.MessagesTotal.WithLabelValues("unknown").Inc()
		c.logger.Debug().Str("type", m.Kind).Msg("Ignoring unknown message type")
	}
}

func (c *Console) applyImageTypes(m protocol.ImageTypes) {
	added, removed := c.model.ApplyImageTypes(m.Names)

	for _, name := range removed {
		c.logger.Info().Str("image_type", name).Msg("Image type removed")
		c.publish(events.EventImageTypeRemoved, "image type "+name+" removed", map[string]string{
			"image_type": name,
		})
	}
	for _, name := range added {
		c.logger.Info().Str("image_type", name).Msg("Image type added")
		c.publish(events.EventImageTypeAdded, "image type "+name+" added", map[string]string{
			"image_type": name,
		})
		c.seedManifest(name)
		c.startFetch(name)
	}
}

// seedManifest shows the cached manifest of imageType until a fetch
// replaces it. A seeded manifest has a zero ManifestUpdatedAt.
func (c *Console) seedManifest(imageType string) {
	if c.cache == nil {
		return
	}
	logger := log.WithImageType(imageType).With().Str("component", "console").Logger()

	cached, err := c.cache.GetManifest(imageType)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warn().Err(err).Msg("Failed to read cached manifest")
		}
		return
	}
	if cached == nil {
		return
	}
	if err := c.model.ReplaceManifest(imageType, cached, time.Time{}); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed cached manifest")
		return
	}
	logger.Debug().Int("builds", len(cached.Builds)).Msg("Showing cached manifest until fetched")
}

func (c *Console) applyReport(r protocol.Report, received time.Time) {
	created, err := c.model.ApplyReport(r, received)
	if err != nil {
		if errors.Is(err, reconciler.ErrUnknownImageType) {
			c.dropUnknownImageType(protocol.TypeReport, r.ImageType, r.Hostname)
			return
		}
		c.logger.Error().Err(err).Msg("Failed to apply report")
		return
	}

	c.logger.Debug().
		Str("image_type", r.ImageType).
		Str("hostname", r.Hostname).
		Str("id", r.ID).
		Str("client", r.Client).
		Msg("Applied report")

	if created {
		c.publish(events.EventInstanceCreated, r.Hostname+" reported under "+r.ImageType, map[string]string{
			"image_type": r.ImageType,
			"hostname":   r.Hostname,
		})
	}
}

func (c *Console) dropUnknownImageType(kind protocol.MessageType, imageType, hostname string) {
	metrics.MessagesDroppedTotal.WithLabelValues("unknown_image_type").Inc()

	logger := log.WithImageType(imageType).With().Str("component", "console").Logger()
	if hostname != "" {
		logger = logger.With().Str("hostname", hostname).Logger()
	}
	logger.Warn().Str("type", string(kind)).Msg("Dropped message for unknown image type")

	metadata := map[string]string{"type": string(kind), "image_type": imageType}
	if hostname != "" {
		metadata["hostname"] = hostname
	}
	c.publish(events.EventProtocolViolation, string(kind)+" for unknown image type "+imageType, metadata)
}

func (c *Console) handleTick(now time.Time) {
	for _, change := range c.model.RecomputeStaleness(now) {
		metadata := map[string]string{
			"image_type": change.ImageType,
			"hostname":   change.Hostname,
		}
		if change.Stale {
			c.publish(events.EventInstanceStale, change.Hostname+" stopped reporting", metadata)
		} else {
			c.publish(events.EventInstanceRecovered, change.Hostname+" reporting again", metadata)
		}
	}
}

// startFetch fetches a manifest in the background. Completions come back as
// fetchEvents tagged with a per image type sequence number, so only the
// newest fetch for a type is applied.
func (c *Console) startFetch(imageType string) {
	c.fetchSeq[imageType]++
	seq := c.fetchSeq[imageType]
	ctx := c.ctx

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		m, err := c.fetcher.Fetch(ctx, imageType)
		c.post(fetchEvent{imageType: imageType, seq: seq, manifest: m, err: err})
	}()
}

func (c *Console) handleFetch(ev fetchEvent, now time.Time) {
	logger := log.WithImageType(ev.imageType).With().
		Str("component", "console").
		Uint64("seq", ev.seq).
		Logger()

	if !c.model.HasImageType(ev.imageType) {
		logger.Debug().Msg("Ignoring manifest for removed image type")
		return
	}
	if ev.seq != c.fetchSeq[ev.imageType] {
		logger.Debug().Uint64("latest", c.fetchSeq[ev.imageType]).Msg("Ignoring superseded manifest fetch")
		return
	}

	if ev.err != nil {
		_ = c.model.MarkManifestFailed(ev.imageType, ev.err)
		metrics.UpdateComponent(metrics.ComponentManifest, false, ev.imageType+": "+ev.err.Error())
		logger.Warn().Err(ev.err).Msg("Manifest fetch failed, keeping previous manifest")
		c.publish(events.EventManifestFailed, "manifest for "+ev.imageType+" failed: "+ev.err.Error(), map[string]string{
			"image_type": ev.imageType,
		})
		return
	}

	_ = c.model.ReplaceManifest(ev.imageType, ev.manifest, now)
	metrics.UpdateComponent(metrics.ComponentManifest, true, "")
	if c.cache != nil {
		if err := c.cache.SaveManifest(ev.imageType, ev.manifest); err != nil {
			logger.Warn().Err(err).Msg("Failed to cache manifest")
		}
	}
	logger.Info().Int("builds", len(ev.manifest.Builds)).Msg("Manifest updated")
	c.publish(events.EventManifestUpdated, "manifest for "+ev.imageType+" updated", map[string]string{
		"image_type": ev.imageType,
		"builds":     strconv.Itoa(len(ev.manifest.Builds)),
	})
}
