package console

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/fleetconsole/pkg/client"
	"github.com/cuemby/fleetconsole/pkg/command"
	"github.com/cuemby/fleetconsole/pkg/events"
	"github.com/cuemby/fleetconsole/pkg/log"
	"github.com/cuemby/fleetconsole/pkg/manifest"
	"github.com/cuemby/fleetconsole/pkg/metrics"
	"github.com/cuemby/fleetconsole/pkg/reconciler"
	"github.com/cuemby/fleetconsole/pkg/storage"
	"github.com/cuemby/fleetconsole/pkg/types"
)

const (
	// DefaultTickInterval is how often staleness is recomputed
	DefaultTickInterval = 250 * time.Millisecond

	queueSize = 256
)

// ErrStopped is returned by operator requests once the console loop has exited
var ErrStopped = errors.New("console stopped")

// Channel is the operator channel the console runs over
type Channel interface {
	Start(ctx context.Context)
	Send(v any) error
}

// Fetcher retrieves the manifest of an image type
type Fetcher interface {
	Fetch(ctx context.Context, imageType string) (*types.Manifest, error)
}

// ManifestCache keeps the last good manifest of each image type.
// GetManifest returns storage.ErrNotFound for a type never cached.
type ManifestCache interface {
	SaveManifest(imageType string, manifest *types.Manifest) error
	GetManifest(imageType string) (*types.Manifest, error)
}

// Config holds console settings
type Config struct {
	// Server is the base URL of the fleet server, e.g. "https://images.example.com"
	Server string

	// TLSConfig carries the client certificate and CA pool. May be nil.
	TLSConfig *tls.Config

	// TickInterval defaults to DefaultTickInterval
	TickInterval time.Duration

	// ReconnectDelay defaults to client.DefaultReconnectDelay
	ReconnectDelay time.Duration

	// Now overrides the wall clock, mainly for tests
	Now func() time.Time
}

// Option customizes a Console
type Option func(*Console)

// WithChannel replaces the WebSocket channel. The factory receives the
// console as the channel's handler.
func WithChannel(factory func(client.Handler) Channel) Option {
	return func(c *Console) {
		c.channel = factory(c)
	}
}

// WithFetcher replaces the HTTP manifest fetcher
func WithFetcher(f Fetcher) Option {
	return func(c *Console) {
		c.fetcher = f
	}
}

// WithManifestCache saves every successfully fetched manifest to cache and
// shows the cached manifest of a newly declared image type until its first
// fetch succeeds
func WithManifestCache(cache ManifestCache) Option {
	return func(c *Console) {
		c.cache = cache
	}
}

// Console is the state sync core. One goroutine, Run, owns the model and
// processes every event (inbound frames, ticks, fetch completions, channel
// open/close and operator requests) strictly one at a time. Other goroutines
// read immutable snapshots and talk to the loop through its queue.
type Console struct {
	cfg     Config
	now     func() time.Time
	channel Channel
	fetcher Fetcher
	cache   ManifestCache
	broker  *events.Broker
	logger  zerolog.Logger

	events   chan event
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	snapshot atomic.Pointer[types.FleetSnapshot]

	// owned by the loop
	model     *reconciler.Reconciler
	issuer    *command.Issuer
	connected bool
	fetchSeq  map[string]uint64
	pending   []*events.Event
	ctx       context.Context
}

// New creates a console for cfg. Nothing runs until Run.
func New(cfg Config, opts ...Option) (*Console, error) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Console{
		cfg:      cfg,
		now:      cfg.Now,
		broker:   events.NewBroker(),
		logger:   log.WithComponent("console"),
		events:   make(chan event, queueSize),
		done:     make(chan struct{}),
		model:    reconciler.NewReconciler(),
		fetchSeq: make(map[string]uint64),
		ctx:      context.Background(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.channel == nil {
		url, err := client.MasterURL(cfg.Server)
		if err != nil {
			return nil, err
		}
		c.channel = client.NewConn(client.Config{
			URL:            url,
			TLSConfig:      cfg.TLSConfig,
			ReconnectDelay: cfg.ReconnectDelay,
		}, c)
	}
	if c.fetcher == nil {
		c.fetcher = manifest.NewFetcher(cfg.Server, cfg.TLSConfig)
	}

	c.issuer = command.NewIssuer(c.channel, c.model)
	c.snapshot.Store(c.model.Snapshot(c.now(), false))
	return c, nil
}

// Run starts the channel and processes events until ctx is cancelled. A
// console runs once; calling Run again after it returned gives ErrStopped.
func (c *Console) Run(ctx context.Context) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}

	c.ctx = ctx
	c.broker.Start()
	defer c.broker.Stop()

	c.logger.Info().
		Str("server", c.cfg.Server).
		Dur("tick_interval", c.cfg.TickInterval).
		Msg("Console started")

	metrics.RegisterComponent(metrics.ComponentConnection, false, "connecting")
	c.channel.Start(ctx)

	c.wg.Add(1)
	go c.tick(ctx)

	for {
		select {
		case ev := <-c.events:
			c.handle(ev)
		case <-ctx.Done():
			c.stopOnce.Do(func() { close(c.done) })
			c.wg.Wait()
			c.logger.Info().Msg("Console stopped")
			return nil
		}
	}
}

// tick feeds the periodic staleness recompute into the queue. A tick that
// finds the queue full is skipped; the next one recomputes everything anyway.
func (c *Console) tick(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			select {
			case c.events <- tickEvent{}:
			default:
			}
		case <-ctx.Done():
			return
		}
	}
}

// post queues ev for the loop. It blocks while the queue is full and gives
// up once the loop has stopped.
func (c *Console) post(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// HandleOpen implements client.Handler
func (c *Console) HandleOpen() {
	c.post(openEvent{})
}

// HandleMessage implements client.Handler. The receipt time is taken here,
// before queueing.
func (c *Console) HandleMessage(frame []byte) {
	c.post(frameEvent{frame: frame, received: c.now()})
}

// HandleClose implements client.Handler
func (c *Console) HandleClose(err error) {
	c.post(closeEvent{err: err})
}

// Snapshot returns the latest published view of the fleet. The result is
// shared and must not be modified.
func (c *Console) Snapshot() *types.FleetSnapshot {
	return c.snapshot.Load()
}

// Connected reports whether the operator channel is open
func (c *Console) Connected() bool {
	return c.Snapshot().Connected
}

// WaitConnected blocks until the channel is open or ctx is done
func (c *Console) WaitConnected(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for !c.Connected() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrStopped
		case <-ticker.C:
		}
	}
	return nil
}

// Subscribe returns a feed of fleet change events
func (c *Console) Subscribe() events.Subscriber {
	return c.broker.Subscribe()
}

// Unsubscribe ends a feed returned by Subscribe
func (c *Console) Unsubscribe(sub events.Subscriber) {
	c.broker.Unsubscribe(sub)
}

// Reboot asks hostname to reboot, onto the build with timestamp when it is
// non-nil. Commands issued while disconnected are dropped and return
// client.ErrNotConnected.
func (c *Console) Reboot(ctx context.Context, hostname string, timestamp *int64) error {
	return c.request(ctx, "reboot", func() error {
		err := c.issuer.IssueReboot(hostname, timestamp)
		c.publishCommand(hostname, timestamp, err)
		return err
	})
}

// OpenSelector opens the version selector of imageType for hostname
func (c *Console) OpenSelector(ctx context.Context, imageType, hostname string) error {
	return c.request(ctx, "open_selector", func() error {
		if err := c.model.OpenSelector(imageType, hostname); err != nil {
			return err
		}
		c.publish(events.EventSelectorOpened, "version selector opened", map[string]string{
			"image_type": imageType,
			"hostname":   hostname,
		})
		return nil
	})
}

// CloseSelector closes the version selector of imageType
func (c *Console) CloseSelector(ctx context.Context, imageType string) error {
	return c.request(ctx, "close_selector", func() error {
		if err := c.model.CloseSelector(imageType); err != nil {
			return err
		}
		c.publish(events.EventSelectorClosed, "version selector closed", map[string]string{
			"image_type": imageType,
		})
		return nil
	})
}

// SelectBuild reboots the host whose selector is open on imageType onto the
// build with timestamp and closes the selector. It returns that hostname.
func (c *Console) SelectBuild(ctx context.Context, imageType string, timestamp int64) (string, error) {
	var hostname string
	err := c.request(ctx, "select_build", func() error {
		host, err := c.issuer.SelectBuild(imageType, timestamp)
		hostname = host
		if host == "" {
			return err
		}
		c.publishCommand(host, &timestamp, err)
		c.publish(events.EventSelectorClosed, "version selector closed", map[string]string{
			"image_type": imageType,
		})
		return err
	})
	return hostname, err
}

// RefreshManifest fetches the manifest of imageType again
func (c *Console) RefreshManifest(ctx context.Context, imageType string) error {
	return c.request(ctx, "refresh_manifest", func() error {
		if !c.model.HasImageType(imageType) {
			return fmt.Errorf("%w: %s", reconciler.ErrUnknownImageType, imageType)
		}
		c.startFetch(imageType)
		return nil
	})
}

// request runs fn on the loop and waits for its result
func (c *Console) request(ctx context.Context, op string, fn func() error) error {
	req := requestEvent{op: op, fn: fn, result: make(chan error, 1)}

	select {
	case c.events <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// publish queues an event; handle releases it after the next snapshot
func (c *Console) publish(typ events.EventType, message string, metadata map[string]string) {
	c.pending = append(c.pending, &events.Event{
		Type:      typ,
		Timestamp: c.now(),
		Message:   message,
		Metadata:  metadata,
	})
}

func (c *Console) publishCommand(hostname string, timestamp *int64, err error) {
	metadata := map[string]string{"hostname": hostname}
	if timestamp != nil {
		metadata["timestamp"] = fmt.Sprintf("%d", *timestamp)
	}

	switch {
	case err == nil:
		c.publish(events.EventCommandSent, "reboot sent to "+hostname, metadata)
	case errors.Is(err, client.ErrNotConnected):
		c.publish(events.EventCommandDropped, "reboot to "+hostname+" dropped, not connected", metadata)
	default:
		metadata["error"] = err.Error()
		c.publish(events.EventCommandDropped, "reboot to "+hostname+" failed", metadata)
	}
}

var (
	_ client.Handler         = (*Console)(nil)
	_ metrics.SnapshotSource = (*Console)(nil)
	_ Channel                = (*client.Conn)(nil)
	_ Fetcher                = (*manifest.Fetcher)(nil)
	_ ManifestCache          = (*storage.BoltStore)(nil)
)
