// Package ratelimit implements sliding-window-average rate limiting with
// in-memory and Redis-backed storage.
//
// The algorithm keeps two counters per key, one for the window containing
// now and one for the previous window. The effective load is
// previous*(1-f) + current where f is the elapsed fraction of the current
// window; a consumption is denied when effective+cost would exceed the
// limit.
package ratelimit

import (
	"context"
	"time"
)

// Store checks and consumes rate-limit quota atomically.
type Store interface {
	// CheckAndConsume returns true and consumes cost units when the key has
	// quota left, false without consuming otherwise.
	CheckAndConsume(ctx context.Context, key string, cost uint32, limit uint32, interval time.Duration) (bool, error)
	Close()
}

// windowState quantizes now into the sliding-window terms used by both
// backends: the current window index, and the elapsed fraction of it.
func windowState(now time.Time, interval time.Duration) (window int64, fraction float64) {
	ns := now.UnixNano()
	size := interval.Nanoseconds()
	window = ns / size
	fraction = float64(ns%size) / float64(size)
	return window, fraction
}
