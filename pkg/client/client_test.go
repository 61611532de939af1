package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fleetconsole/pkg/protocol"
)

const waitTimeout = 2 * time.Second

// recorder is a Handler that forwards notifications to channels
type recorder struct {
	opened   chan struct{}
	messages chan string
	closed   chan error
}

func newRecorder() *recorder {
	return &recorder{
		opened:   make(chan struct{}, 16),
		messages: make(chan string, 64),
		closed:   make(chan error, 16),
	}
}

func (r *recorder) HandleOpen()                { r.opened <- struct{}{} }
func (r *recorder) HandleMessage(frame []byte) { r.messages <- string(frame) }
func (r *recorder) HandleClose(err error)      { r.closed <- err }

func (r *recorder) waitOpen(t *testing.T) {
	t.Helper()
	select {
	case <-r.opened:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for open")
	}
}

func (r *recorder) waitClose(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.closed:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for close")
		return nil
	}
}

// fleetServer is a test master endpoint that hands accepted connections to the test
type fleetServer struct {
	*httptest.Server
	conns    chan *websocket.Conn
	attempts atomic.Int32
	reject   atomic.Int32 // number of upcoming dials to refuse
}

func newFleetServer(t *testing.T, subprotocols ...string) *fleetServer {
	t.Helper()
	if subprotocols == nil {
		subprotocols = []string{protocol.Subprotocol}
	}

	s := &fleetServer{conns: make(chan *websocket.Conn, 16)}
	upgrader := websocket.Upgrader{Subprotocols: subprotocols}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.attempts.Add(1)
		if r.URL.Path != protocol.MasterPath {
			http.NotFound(w, r)
			return
		}
		if s.reject.Load() > 0 {
			s.reject.Add(-1)
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		select {
		case s.conns <- ws:
		default:
			_ = ws.Close()
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *fleetServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-s.conns:
		t.Cleanup(func() { _ = ws.Close() })
		return ws
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

func (s *fleetServer) masterURL(t *testing.T) string {
	t.Helper()
	u, err := MasterURL(s.URL)
	require.NoError(t, err)
	return u
}

func startConn(t *testing.T, url string, h Handler) *Conn {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	c := NewConn(Config{URL: url, ReconnectDelay: 50 * time.Millisecond}, h)
	c.Start(ctx)
	return c
}

func TestMasterURL(t *testing.T) {
	tests := []struct {
		server  string
		want    string
		wantErr bool
	}{
		{server: "https://images.example.com", want: "wss://images.example.com/ws/master"},
		{server: "https://images.example.com:8443/", want: "wss://images.example.com:8443/ws/master"},
		{server: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080/ws/master"},
		{server: "wss://images.example.com/console?x=1", want: "wss://images.example.com/console/ws/master"},
		{server: "ftp://images.example.com", wantErr: true},
		{server: "https://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.server, func(t *testing.T) {
			got, err := MasterURL(tt.server)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConnReceivesInOrder(t *testing.T) {
	server := newFleetServer(t)
	rec := newRecorder()
	c := startConn(t, server.masterURL(t), rec)

	ws := server.accept(t)
	rec.waitOpen(t)
	assert.True(t, c.Connected())
	assert.Equal(t, protocol.Subprotocol, ws.Subprotocol())

	frames := []string{`{"type":"image_types"}`, `{"type":"report"}`, `{"type":"targets"}`}
	for _, f := range frames {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(f)))
	}

	for _, want := range frames {
		select {
		case got := <-rec.messages:
			assert.Equal(t, want, got)
		case <-time.After(waitTimeout):
			t.Fatal("timed out waiting for message")
		}
	}
}

func TestConnSend(t *testing.T) {
	server := newFleetServer(t)
	rec := newRecorder()
	c := startConn(t, server.masterURL(t), rec)

	ws := server.accept(t)
	rec.waitOpen(t)

	ts := int64(1700000000)
	require.NoError(t, c.Send(protocol.NewReboot("h1", &ts)))

	_ = ws.SetReadDeadline(time.Now().Add(waitTimeout))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"command","target":"h1","data":{"command":"reboot","timestamp":1700000000}}`, string(data))
}

func TestConnSendWhileDisconnected(t *testing.T) {
	c := NewConn(Config{URL: "ws://127.0.0.1:1/ws/master"}, newRecorder())

	err := c.Send(protocol.NewReboot("h1", nil))
	assert.True(t, errors.Is(err, ErrNotConnected))
	assert.False(t, c.Connected())
}

func TestConnReconnectsAfterClose(t *testing.T) {
	server := newFleetServer(t)
	rec := newRecorder()
	c := startConn(t, server.masterURL(t), rec)

	first := server.accept(t)
	rec.waitOpen(t)

	require.NoError(t, first.Close())
	assert.Error(t, rec.waitClose(t))

	// a command issued in the gap is dropped, not queued
	err := c.Send(protocol.NewReboot("h1", nil))
	assert.True(t, errors.Is(err, ErrNotConnected))

	second := server.accept(t)
	rec.waitOpen(t)
	assert.True(t, c.Connected())

	// nothing was replayed onto the new channel
	_ = second.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = second.ReadMessage()
	assert.Error(t, err)
}

func TestConnRetriesFailedDial(t *testing.T) {
	server := newFleetServer(t)
	server.reject.Store(2)
	rec := newRecorder()
	startConn(t, server.masterURL(t), rec)

	server.accept(t)
	rec.waitOpen(t)
	assert.Equal(t, int32(3), server.attempts.Load())
}

func TestConnRejectsMissingSubprotocol(t *testing.T) {
	server := newFleetServer(t, "something-else")
	rec := newRecorder()
	c := startConn(t, server.masterURL(t), rec)

	// the server keeps being dialled but the channel never opens
	require.Eventually(t, func() bool { return server.attempts.Load() >= 2 }, waitTimeout, 10*time.Millisecond)
	assert.False(t, c.Connected())
	assert.Empty(t, rec.opened)
}

func TestConnDuplicateConnectSkipped(t *testing.T) {
	server := newFleetServer(t)
	rec := newRecorder()
	c := startConn(t, server.masterURL(t), rec)

	server.accept(t)
	rec.waitOpen(t)

	// a stale reconnect timer firing while the channel is open
	c.connect()

	select {
	case <-server.conns:
		t.Fatal("duplicate connection was dialled")
	case <-time.After(150 * time.Millisecond):
	}
	assert.Equal(t, int32(1), server.attempts.Load())
}

func TestConnStopsOnCancel(t *testing.T) {
	server := newFleetServer(t)
	rec := newRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	c := NewConn(Config{URL: server.masterURL(t), ReconnectDelay: 20 * time.Millisecond}, rec)
	c.Start(ctx)

	server.accept(t)
	rec.waitOpen(t)

	cancel()
	rec.waitClose(t)
	assert.False(t, c.Connected())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), server.attempts.Load())
}

func TestConnUnreachable(t *testing.T) {
	rec := newRecorder()
	c := startConn(t, "ws://127.0.0.1:1/ws/master", rec)

	time.Sleep(120 * time.Millisecond)
	assert.False(t, c.Connected())
	assert.Empty(t, rec.opened)
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name         string
		subprotocols []string
		reject       int32
		wantErr      string
	}{
		{name: "accepted", subprotocols: []string{protocol.Subprotocol}},
		{name: "sub-protocol not echoed", subprotocols: []string{"something-else"}, wantErr: "sub-protocol"},
		{name: "handshake refused", subprotocols: []string{protocol.Subprotocol}, reject: 1, wantErr: "HTTP 503"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newFleetServer(t, tt.subprotocols...)
			server.reject.Store(tt.reject)

			err := Probe(context.Background(), Config{URL: server.masterURL(t)})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int32(1), server.attempts.Load())
		})
	}
}
