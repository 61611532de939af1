package types

import (
	"fmt"
	"time"
)

// StaleAfter is how long an instance may go without reporting before it is stale
const StaleAfter = 15 * time.Second

var ageTiers = []struct {
	seconds int64
	suffix  string
}{
	{7 * 24 * 60 * 60, "w"},
	{24 * 60 * 60, "d"},
	{60 * 60, "h"},
	{60, "m"},
}

// FormatAge renders a number of seconds as a short label such as "2m" or "3d".
// The largest tier whose threshold is strictly exceeded wins, so 60 renders
// as "60s" and 61 as "1m".
func FormatAge(seconds int64) string {
	for _, tier := range ageTiers {
		if seconds > tier.seconds {
			return fmt.Sprintf("%d%s", seconds/tier.seconds, tier.suffix)
		}
	}
	return fmt.Sprintf("%ds", seconds)
}

// AgeSeconds returns the whole seconds elapsed between last and now, clamped at 0
func AgeSeconds(last, now time.Time) int64 {
	d := now.Sub(last)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// IsStale reports whether a report received at last is stale at now
func IsStale(last, now time.Time) bool {
	return now.Sub(last) >= StaleAfter
}
