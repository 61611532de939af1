package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fleetconsole/pkg/client"
	"github.com/cuemby/fleetconsole/pkg/events"
	"github.com/cuemby/fleetconsole/pkg/reconciler"
	"github.com/cuemby/fleetconsole/pkg/storage"
	"github.com/cuemby/fleetconsole/pkg/types"
)

const (
	waitFor = 2 * time.Second
	pollDur = 5 * time.Millisecond
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeChannel records sent messages; Send fails while it is marked closed
type fakeChannel struct {
	mu     sync.Mutex
	open   atomic.Bool
	sent   []string
	starts atomic.Int32
}

func (f *fakeChannel) Start(ctx context.Context) { f.starts.Add(1) }

func (f *fakeChannel) Send(v any) error {
	if !f.open.Load() {
		return client.ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, string(data))
	return nil
}

func (f *fakeChannel) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fetchResponse struct {
	manifest *types.Manifest
	err      error
	release  chan struct{} // blocks the fetch until closed when set
}

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string][]fetchResponse
	calls     []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{responses: make(map[string][]fetchResponse)}
}

func (f *fakeFetcher) queue(imageType string, responses ...fetchResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[imageType] = append(f.responses[imageType], responses...)
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeFetcher) Fetch(ctx context.Context, imageType string) (*types.Manifest, error) {
	f.mu.Lock()
	f.calls = append(f.calls, imageType)
	resp := fetchResponse{manifest: &types.Manifest{Builds: []types.Build{}}}
	if q := f.responses[imageType]; len(q) > 0 {
		resp = q[0]
		f.responses[imageType] = q[1:]
	}
	f.mu.Unlock()

	if resp.release != nil {
		select {
		case <-resp.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return resp.manifest, resp.err
}

type fakeCache struct {
	mu    sync.Mutex
	saved map[string]*types.Manifest
}

func (f *fakeCache) SaveManifest(imageType string, m *types.Manifest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[imageType] = m
	return nil
}

func (f *fakeCache) GetManifest(imageType string) (*types.Manifest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.saved[imageType]
	if !ok {
		return nil, fmt.Errorf("manifest %w: %s", storage.ErrNotFound, imageType)
	}
	return m, nil
}

func (f *fakeCache) Get(imageType string) *types.Manifest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved[imageType]
}

type harness struct {
	console *Console
	clock   *fakeClock
	channel *fakeChannel
	fetcher *fakeFetcher
	events  events.Subscriber
	cancel  context.CancelFunc
	stopped chan struct{}
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		clock:   &fakeClock{now: t0},
		channel: &fakeChannel{},
		fetcher: newFakeFetcher(),
		stopped: make(chan struct{}),
	}

	opts = append([]Option{
		WithChannel(func(client.Handler) Channel { return h.channel }),
		WithFetcher(h.fetcher),
	}, opts...)

	c, err := New(Config{
		Server:       "https://images.example.com",
		TickInterval: time.Millisecond,
		Now:          h.clock.Now,
	}, opts...)
	require.NoError(t, err)
	h.console = c
	h.events = c.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.stopped)
		_ = c.Run(ctx)
	}()

	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.stopped
}

func (h *harness) send(frame string) {
	h.console.HandleMessage([]byte(frame))
}

func (h *harness) open() {
	h.channel.open.Store(true)
	h.console.HandleOpen()
}

func (h *harness) snapshot() *types.FleetSnapshot {
	return h.console.Snapshot()
}

func (h *harness) instance(t *testing.T, hostname string) types.Instance {
	t.Helper()
	var inst types.Instance
	require.Eventually(t, func() bool {
		var ok bool
		inst, ok = h.snapshot().FindInstance(hostname)
		return ok
	}, waitFor, pollDur)
	return inst
}

// waitEvent returns the next event of type typ, skipping others
func (h *harness) waitEvent(t *testing.T, typ events.EventType) *events.Event {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case ev, ok := <-h.events:
			require.True(t, ok, "event feed closed")
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
			return nil
		}
	}
}

func imageNames(snap *types.FleetSnapshot) []string {
	names := make([]string, 0, len(snap.ImageTypes))
	for _, it := range snap.ImageTypes {
		names = append(names, it.Name)
	}
	return names
}

// TestScenario walks an image type through its whole lifecycle
func TestScenario(t *testing.T) {
	h := newHarness(t)
	h.open()

	h.send(`{"type":"image_types","data":{"image_types":["ubuntu"]}}`)
	require.Eventually(t, func() bool {
		return len(h.snapshot().ImageTypes) == 1
	}, waitFor, pollDur)
	it, _ := h.snapshot().ImageType("ubuntu")
	assert.Empty(t, it.Instances)
	require.Eventually(t, func() bool { return len(h.fetcher.Calls()) == 1 }, waitFor, pollDur)
	assert.Equal(t, []string{"ubuntu"}, h.fetcher.Calls())

	h.send(`{"type":"report","data":{"image_type":"ubuntu","hostname":"h1","uptime_seconds":120,"timestamp":1700000000,"next_timestamp":1700000000}}`)
	inst := h.instance(t, "h1")
	assert.Equal(t, "2m", inst.UptimeLabel)
	assert.Equal(t, t0, inst.LastReport)
	assert.False(t, inst.IsStale)
	assert.False(t, inst.IsTarget)

	h.clock.Advance(20 * time.Second)
	require.Eventually(t, func() bool {
		inst, _ := h.snapshot().FindInstance("h1")
		return inst.IsStale && inst.AgeLabel == "20s"
	}, waitFor, pollDur)
	h.waitEvent(t, events.EventInstanceStale)

	h.send(`{"type":"targets","data":{"targets":["h1"]}}`)
	require.Eventually(t, func() bool {
		inst, _ := h.snapshot().FindInstance("h1")
		return inst.IsTarget
	}, waitFor, pollDur)

	h.send(`{"type":"image_types","data":{"image_types":[]}}`)
	require.Eventually(t, func() bool {
		return len(h.snapshot().ImageTypes) == 0
	}, waitFor, pollDur)
	_, found := h.snapshot().FindInstance("h1")
	assert.False(t, found)
	h.waitEvent(t, events.EventImageTypeRemoved)
}

func TestImageTypeOrdering(t *testing.T) {
	h := newHarness(t)

	h.send(`{"type":"image_types","data":{"image_types":["ubuntu","alpine","debian"]}}`)
	require.Eventually(t, func() bool {
		return len(h.snapshot().ImageTypes) == 3
	}, waitFor, pollDur)
	assert.Equal(t, []string{"alpine", "debian", "ubuntu"}, imageNames(h.snapshot()))

	h.send(`{"type":"image_types","data":{"image_types":["debian","centos"]}}`)
	require.Eventually(t, func() bool {
		names := imageNames(h.snapshot())
		return len(names) == 2 && names[0] == "centos" && names[1] == "debian"
	}, waitFor, pollDur)
}

func TestRecoverableMessageErrors(t *testing.T) {
	h := newHarness(t)

	t.Run("malformed frame is dropped", func(t *testing.T) {
		h.send(`{"type":"report","data":`)
		ev := h.waitEvent(t, events.EventProtocolViolation)
		assert.Contains(t, ev.Message, "malformed")
	})

	t.Run("report for an undeclared image type is dropped", func(t *testing.T) {
		h.send(`{"type":"report","data":{"image_type":"centos","hostname":"c1"}}`)
		ev := h.waitEvent(t, events.EventProtocolViolation)
		assert.Equal(t, "centos", ev.Metadata["image_type"])
		assert.Equal(t, "c1", ev.Metadata["hostname"])
	})

	t.Run("new_manifest for an undeclared image type is dropped", func(t *testing.T) {
		h.send(`{"type":"new_manifest","data":{"image_type":"centos"}}`)
		ev := h.waitEvent(t, events.EventProtocolViolation)
		assert.Equal(t, "new_manifest", ev.Metadata["type"])
		assert.Empty(t, h.fetcher.Calls())
	})

	t.Run("unknown type is ignored", func(t *testing.T) {
		h.send(`{"type":"heartbeat","data":{}}`)
	})

	t.Run("processing continues", func(t *testing.T) {
		h.send(`{"type":"image_types","data":{"image_types":["ubuntu"]}}`)
		h.send(`{"type":"report","data":{"image_type":"ubuntu","hostname":"h1","uptime_seconds":5}}`)
		inst := h.instance(t, "h1")
		assert.Equal(t, "5s", inst.UptimeLabel)
		_, found := h.snapshot().FindInstance("c1")
		assert.False(t, found)
	})
}

func TestReportUsesReceiptTime(t *testing.T) {
	h := newHarness(t)
	h.send(`{"type":"image_types","data":{"image_types":["ubuntu"]}}`)

	h.clock.Advance(time.Hour)
	h.send(`{"type":"report","data":{"image_type":"ubuntu","hostname":"h1","timestamp":1,"next_timestamp":2,"volume_id":"v1","status":"ok"}}`)

	inst := h.instance(t, "h1")
	assert.Equal(t, t0.Add(time.Hour), inst.LastReport)
	assert.Equal(t, int64(1), inst.CurrentImageTimestamp)
	assert.Equal(t, "v1", inst.CurrentVolumeID)
	assert.Equal(t, "ok", inst.Status)
}

func TestManifestLifecycle(t *testing.T) {
	m1 := &types.Manifest{Builds: []types.Build{{Timestamp: 2, VolumeID: "v2"}, {Timestamp: 1, VolumeID: "v1"}}}
	m2 := &types.Manifest{Builds: []types.Build{{Timestamp: 3, VolumeID: "v3"}}}

	manifestOf := func(h *harness) *types.Manifest {
		it, ok := h.snapshot().ImageType("ubuntu")
		if !ok {
			return nil
		}
		return it.Manifest
	}

	t.Run("new_manifest replaces wholesale", func(t *testing.T) {
		h := newHarness(t)
		h.fetcher.queue("ubuntu", fetchResponse{manifest: m1}, fetchResponse{manifest: m2})

		h.send(`{"type":"image_types","data":{"image_types":["ubuntu"]}}`)
		h.waitEvent(t, events.EventManifestUpdated)
		assert.Equal(t, m1.Builds, manifestOf(h).Builds)

		h.send(`{"type":"new_manifest","data":{"image_type":"ubuntu"}}`)
		h.waitEvent(t, events.EventManifestUpdated)
		assert.Equal(t, m2.Builds, manifestOf(h).Builds)
	})

	t.Run("failure keeps the previous manifest", func(t *testing.T) {
		h := newHarness(t)
		h.fetcher.queue("ubuntu", fetchResponse{manifest: m1}, fetchResponse{err: errors.New("HTTP 500")})

		h.send(`{"type":"image_types","data":{"image_types":["ubuntu"]}}`)
		h.waitEvent(t, events.EventManifestUpdated)

		require.NoError(t, h.console.RefreshManifest(context.Background(), "ubuntu"))
		h.waitEvent(t, events.EventManifestFailed)

		it, _ := h.snapshot().ImageType("ubuntu")
		assert.Equal(t, m1.Builds, it.Manifest.Builds)
		assert.Equal(t, "HTTP 500", it.ManifestError)
	})

	t.Run("superseded fetch is discarded", func(t *testing.T) {
		h := newHarness(t)
		gate := make(chan struct{})
		h.fetcher.queue("ubuntu", fetchResponse{manifest: m1, release: gate}, fetchResponse{manifest: m2})

		h.send(`{"type":"image_types","data":{"image_types":["ubuntu"]}}`)
		require.Eventually(t, func() bool { return len(h.fetcher.Calls()) == 1 }, waitFor, pollDur)
		h.send(`{"type":"new_manifest","data":{"image_type":"ubuntu"}}`)
		h.waitEvent(t, events.EventManifestUpdated)
		assert.Equal(t, m2.Builds, manifestOf(h).Builds)

		close(gate)
		assert.Never(t, func() bool {
			m := manifestOf(h)
			return m == nil || len(m.Builds) != 1
		}, 100*time.Millisecond, pollDur)
	})

	t.Run("completion for a removed image type is a no-op", func(t *testing.T) {
		h := newHarness(t)
		gate := make(chan struct{})
		h.fetcher.queue("ubuntu", fetchResponse{manifest: m1, release: gate})

		h.send(`{"type":"image_types","data":{"image_types":["ubuntu"]}}`)
		h.send(`{"type":"image_types","data":{"image_types":[]}}`)
		require.Eventually(t, func() bool { return len(h.snapshot().ImageTypes) == 0 }, waitFor, pollDur)

		close(gate)
		assert.Never(t, func() bool { return len(h.snapshot().ImageTypes) != 0 }, 100*time.Millisecond, pollDur)
	})

	t.Run("successful fetches are cached", func(t *testing.T) {
		cache := &fakeCache{saved: make(map[string]*types.Manifest)}
		h := newHarness(t, WithManifestCache(cache))
		h.fetcher.queue("ubuntu", fetchResponse{manifest: m1}, fetchResponse{err: errors.New("timeout")})

		h.send(`{"type":"image_types","data":{"image_types":["ubuntu"]}}`)
		h.waitEvent(t, events.EventManifestUpdated)
		assert.Equal(t, m1, cache.Get("ubuntu"))

		require.NoError(t, h.console.RefreshManifest(context.Background(), "ubuntu"))
		h.waitEvent(t, events.EventManifestFailed)
		assert.Equal(t, m1, cache.Get("ubuntu"))
	})

	t.Run("cached manifest survives a failed first fetch", func(t *testing.T) {
		cache := &fakeCache{saved: map[string]*types.Manifest{"ubuntu": m1}}
		h := newHarness(t, WithManifestCache(cache))
		h.fetcher.queue("ubuntu", fetchResponse{err: errors.New("HTTP 503")})

		h.send(`{"type":"image_types","data":{"image_types":["ubuntu","debian"]}}`)
		h.waitEvent(t, events.EventManifestFailed)

		it, ok := h.snapshot().ImageType("ubuntu")
		require.True(t, ok)
		require.NotNil(t, it.Manifest)
		assert.Equal(t, m1.Builds, it.Manifest.Builds)
		assert.Equal(t, "HTTP 503", it.ManifestError)
		assert.True(t, it.ManifestUpdatedAt.IsZero())
	})

	t.Run("fetch replaces the cached manifest", func(t *testing.T) {
		cache := &fakeCache{saved: map[string]*types.Manifest{"ubuntu": m1}}
		h := newHarness(t, WithManifestCache(cache))
		h.fetcher.queue("ubuntu", fetchResponse{manifest: m2})

		h.send(`{"type":"image_types","data":{"image_types":["ubuntu"]}}`)
		h.waitEvent(t, events.EventManifestUpdated)

		assert.Equal(t, m2.Builds, manifestOf(h).Builds)
		assert.Equal(t, m2, cache.Get("ubuntu"))
	})

	t.Run("unknown image type cannot be refreshed", func(t *testing.T) {
		h := newHarness(t)
		err := h.console.RefreshManifest(context.Background(), "ubuntu")
		assert.True(t, errors.Is(err, reconciler.ErrUnknownImageType))
	})
}

func TestRunOnce(t *testing.T) {
	h := newHarness(t)
	h.stop()

	err := h.console.Run(context.Background())
	assert.True(t, errors.Is(err, ErrStopped))
}

func TestConnectionState(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, int32(1), h.channel.starts.Load())
	assert.False(t, h.console.Connected())

	h.open()
	h.waitEvent(t, events.EventConnectionOpened)
	require.Eventually(t, h.console.Connected, waitFor, pollDur)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.console.WaitConnected(ctx))

	h.channel.open.Store(false)
	h.console.HandleClose(errors.New("EOF"))
	ev := h.waitEvent(t, events.EventConnectionClosed)
	assert.Contains(t, ev.Message, "EOF")
	assert.False(t, h.console.Connected())
}

func TestCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("reboot while disconnected is dropped", func(t *testing.T) {
		h := newHarness(t)

		err := h.console.Reboot(ctx, "h1", nil)
		assert.True(t, errors.Is(err, client.ErrNotConnected))
		h.waitEvent(t, events.EventCommandDropped)
		assert.Empty(t, h.channel.Sent())
	})

	t.Run("reboot", func(t *testing.T) {
		h := newHarness(t)
		h.open()

		require.NoError(t, h.console.Reboot(ctx, "h1", nil))
		h.waitEvent(t, events.EventCommandSent)
		require.Len(t, h.channel.Sent(), 1)
		assert.JSONEq(t, `{"type":"command","target":"h1","data":{"command":"reboot"}}`, h.channel.Sent()[0])
	})

	t.Run("select build through the version selector", func(t *testing.T) {
		h := newHarness(t)
		h.open()
		h.send(`{"type":"image_types","data":{"image_types":["ubuntu"]}}`)
		h.send(`{"type":"report","data":{"image_type":"ubuntu","hostname":"h1"}}`)
		h.instance(t, "h1")

		require.NoError(t, h.console.OpenSelector(ctx, "ubuntu", "h1"))
		it, _ := h.snapshot().ImageType("ubuntu")
		assert.Equal(t, "h1", it.SelectorHost)

		hostname, err := h.console.SelectBuild(ctx, "ubuntu", 1700000100)
		require.NoError(t, err)
		assert.Equal(t, "h1", hostname)
		require.Len(t, h.channel.Sent(), 1)
		assert.JSONEq(t, `{"type":"command","target":"h1","data":{"command":"reboot","timestamp":1700000100}}`, h.channel.Sent()[0])

		it, _ = h.snapshot().ImageType("ubuntu")
		assert.Empty(t, it.SelectorHost)
	})

	t.Run("selector requires a known instance", func(t *testing.T) {
		h := newHarness(t)
		h.send(`{"type":"image_types","data":{"image_types":["ubuntu"]}}`)

		err := h.console.OpenSelector(ctx, "ubuntu", "ghost")
		assert.True(t, errors.Is(err, reconciler.ErrUnknownInstance))

		require.NoError(t, h.console.CloseSelector(ctx, "ubuntu"))
	})

	t.Run("requests fail once stopped", func(t *testing.T) {
		h := newHarness(t)
		h.stop()

		err := h.console.Reboot(ctx, "h1", nil)
		assert.True(t, errors.Is(err, ErrStopped))
	})
}
