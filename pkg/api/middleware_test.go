package api

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "remote address", remote: "10.0.0.5:51234", want: "10.0.0.5"},
		{name: "remote without port", remote: "10.0.0.5", want: "10.0.0.5"},
		{name: "first forwarded address", headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, remote: "10.0.0.1:80", want: "203.0.113.7"},
		{name: "real ip header", headers: map[string]string{"X-Real-IP": "203.0.113.9"}, remote: "10.0.0.1:80", want: "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}

func TestMatchCIDR(t *testing.T) {
	ip := net.ParseIP("192.168.1.20")

	assert.True(t, matchCIDR(ip, "192.168.1.0/24"))
	assert.True(t, matchCIDR(ip, "192.168.1.20"))
	assert.False(t, matchCIDR(ip, "192.168.2.0/24"))
	assert.False(t, matchCIDR(ip, "192.168.1.21"))
	assert.False(t, matchCIDR(ip, "not-a-cidr/8"))
}

func TestValidateCIDRs(t *testing.T) {
	require.NoError(t, ValidateCIDRs([]string{"127.0.0.1", "10.0.0.0/8", "::1"}))
	assert.Error(t, ValidateCIDRs([]string{"10.0.0.0/33"}))
	assert.Error(t, ValidateCIDRs([]string{"localhost"}))
}

func TestAllowFrom(t *testing.T) {
	fc := newFakeConsole()
	h := NewServer(fc, Options{AllowedCIDRs: []string{"127.0.0.1", "10.0.0.0/8"}}).Handler()

	tests := []struct {
		name   string
		remote string
		want   int
	}{
		{name: "loopback allowed", remote: "127.0.0.1:40000", want: http.StatusOK},
		{name: "private network allowed", remote: "10.1.2.3:40000", want: http.StatusOK},
		{name: "other address refused", remote: "192.0.2.1:40000", want: http.StatusForbidden},
		{name: "unparsable address refused", remote: "pipe", want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/fleet", nil)
			req.RemoteAddr = tt.remote
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestLimitCommands(t *testing.T) {
	fc := newFakeConsole()
	// A negligible refill rate makes the burst the whole allowance
	h := NewServer(fc, Options{CommandRate: 0.001, CommandBurst: 2}).Handler()

	reboot := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/instances/h1/reboot", nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusAccepted, reboot("10.0.0.1:1000"))
	assert.Equal(t, http.StatusAccepted, reboot("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, reboot("10.0.0.1:1002"))
	assert.Len(t, fc.Calls(), 2)

	assert.Equal(t, http.StatusAccepted, reboot("10.0.0.2:1000"), "limits are per client")

	req := httptest.NewRequest(http.MethodGet, "/v1/fleet", nil)
	req.RemoteAddr = "10.0.0.1:1003"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, "reads are not limited")
}
