package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cuemby/fleetconsole/pkg/events"
	"github.com/cuemby/fleetconsole/pkg/log"
	"github.com/cuemby/fleetconsole/pkg/metrics"
	"github.com/cuemby/fleetconsole/pkg/types"
)

// Console is the part of the console the HTTP surface drives
type Console interface {
	Snapshot() *types.FleetSnapshot
	Subscribe() events.Subscriber
	Unsubscribe(sub events.Subscriber)

	Reboot(ctx context.Context, hostname string, timestamp *int64) error
	OpenSelector(ctx context.Context, imageType, hostname string) error
	CloseSelector(ctx context.Context, imageType string) error
	SelectBuild(ctx context.Context, imageType string, timestamp int64) (string, error)
	RefreshManifest(ctx context.Context, imageType string) error
}

// Options configures the HTTP surface
type Options struct {
	// ReadOnly rejects every request that would send a command or change
	// selector state
	ReadOnly bool

	// AllowedCIDRs restricts the API to these client networks when set
	AllowedCIDRs []string

	// CommandRate limits commands per client; zero disables the limit
	CommandRate  rate.Limit
	CommandBurst int
}

// Server exposes health, metrics and the fleet view over HTTP
type Server struct {
	console Console
	mux     *http.ServeMux
	handler http.Handler
	server  *http.Server
	logger  zerolog.Logger
}

// NewServer creates the HTTP surface for console
func NewServer(console Console, opts Options) *Server {
	mux := http.NewServeMux()
	s := &Server{
		console: console,
		mux:     mux,
		logger:  log.WithComponent("api"),
	}

	// Health
	mux.Handle("GET /health", metrics.HealthHandler())
	mux.Handle("GET /ready", metrics.ReadyHandler())
	mux.Handle("GET /live", metrics.LivenessHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	// Fleet view
	mux.HandleFunc("GET /v1/fleet", s.getFleet)
	mux.HandleFunc("GET /v1/image-types/{name}", s.getImageType)
	mux.HandleFunc("GET /v1/instances/{hostname}", s.getInstance)
	mux.HandleFunc("GET /v1/events", s.streamEvents)

	// Operator actions
	mux.HandleFunc("POST /v1/instances/{hostname}/reboot", s.reboot)
	mux.HandleFunc("POST /v1/image-types/{name}/manifest/refresh", s.refreshManifest)
	mux.HandleFunc("POST /v1/image-types/{name}/selector", s.openSelector)
	mux.HandleFunc("DELETE /v1/image-types/{name}/selector", s.closeSelector)
	mux.HandleFunc("POST /v1/image-types/{name}/selector/select", s.selectBuild)

	var h http.Handler = mux
	if opts.ReadOnly {
		h = ReadOnly(h)
	}
	if opts.CommandRate > 0 {
		h = LimitCommands(s.logger, opts.CommandRate, max(opts.CommandBurst, 1), h)
	}
	if len(opts.AllowedCIDRs) > 0 {
		h = AllowFrom(s.logger, opts.AllowedCIDRs, h)
	}
	s.handler = RequestLogger(s.logger, h)

	s.server = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // event streams stay open
		IdleTimeout:  60 * time.Second,
	}

	metrics.RegisterComponent(metrics.ComponentAPI, true, "serving")
	return s
}

// Handler returns the root handler, including middleware
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentAPI, false, err.Error())
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP API listening")

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		metrics.UpdateComponent(metrics.ComponentAPI, false, err.Error())
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones until ctx
// expires. A Serve that starts afterwards returns immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	metrics.UpdateComponent(metrics.ComponentAPI, false, "shutting down")
	return s.server.Shutdown(ctx)
}
