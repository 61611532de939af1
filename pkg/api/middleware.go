package api

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ReadOnly wraps next so that only safe methods reach it. Anything that would
// issue a command or change selector state is answered with 403.
func ReadOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isReadOnlyMethod(r.Method) {
			writeError(w, http.StatusForbidden, "write operations not allowed: console API is read-only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isReadOnlyMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// statusRecorder remembers the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working through the recorder
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// RequestLogger logs one debug line per request
func RequestLogger(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// AllowFrom wraps next so that only clients inside one of cidrs reach it. An
// entry without a prefix length matches that single address.
func AllowFrom(logger zerolog.Logger, cidrs []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := clientIP(r)
		ip := net.ParseIP(addr)
		if ip == nil {
			writeError(w, http.StatusForbidden, "invalid client address")
			return
		}
		for _, cidr := range cidrs {
			if matchCIDR(ip, cidr) {
				next.ServeHTTP(w, r)
				return
			}
		}
		logger.Warn().Str("client", addr).Str("path", r.URL.Path).Msg("Request refused by allow list")
		writeError(w, http.StatusForbidden, "access denied")
	})
}

// commandLimiter rate limits commands per client address
type commandLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// maxLimiters bounds the per-client table; it is reset when exceeded
const maxLimiters = 10000

func newCommandLimiter(limit rate.Limit, burst int) *commandLimiter {
	return &commandLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *commandLimiter) allow(client string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[client]
	if !ok {
		if len(l.limiters) >= maxLimiters {
			l.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[client] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// LimitCommands wraps next so that each client can issue at most limit
// commands per second with the given burst. Reads are never limited.
func LimitCommands(logger zerolog.Logger, limit rate.Limit, burst int, next http.Handler) http.Handler {
	limiter := newCommandLimiter(limit, burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isReadOnlyMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		addr := clientIP(r)
		if !limiter.allow(addr) {
			logger.Warn().Str("client", addr).Str("path", r.URL.Path).Msg("Command rate limit exceeded")
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many commands, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the first forwarded address, then X-Real-IP, then the
// peer address
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func matchCIDR(ip net.IP, cidr string) bool {
	if !strings.Contains(cidr, "/") {
		single := net.ParseIP(cidr)
		return single != nil && ip.Equal(single)
	}
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return false
	}
	return ipNet.Contains(ip)
}

// ValidateCIDRs reports the first entry that is neither an address nor a CIDR
func ValidateCIDRs(cidrs []string) error {
	for _, cidr := range cidrs {
		if strings.Contains(cidr, "/") {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("invalid CIDR %q: %w", cidr, err)
			}
			continue
		}
		if net.ParseIP(cidr) == nil {
			return fmt.Errorf("invalid address %q", cidr)
		}
	}
	return nil
}
