package probe

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// CheckType represents the type of connectivity check
type CheckType string

const (
	CheckTypeTCP       CheckType = "tcp"
	CheckTypeTLS       CheckType = "tls"
	CheckTypeHTTP      CheckType = "http"
	CheckTypeWebSocket CheckType = "websocket"
)

// Result represents the outcome of a check
type Result struct {
	Type      CheckType
	Target    string
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all checkers must implement
type Checker interface {
	// Check performs the check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of check
	Type() CheckType
}

// DefaultTimeout bounds every check run by RunAll
const DefaultTimeout = 10 * time.Second

// RunAll runs checkers concurrently, each bounded by timeout, and returns the
// results in the order of checkers
func RunAll(ctx context.Context, timeout time.Duration, checkers ...Checker) []Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	results := make([]Result, len(checkers))
	var grp errgroup.Group
	for i, checker := range checkers {
		grp.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			results[i] = checker.Check(checkCtx)
			return nil
		})
	}
	_ = grp.Wait()
	return results
}

// Healthy reports whether every result passed
func Healthy(results []Result) bool {
	for _, r := range results {
		if !r.Healthy {
			return false
		}
	}
	return true
}

func result(t CheckType, target string, start time.Time, healthy bool, message string) Result {
	return Result{
		Type:      t,
		Target:    target,
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
