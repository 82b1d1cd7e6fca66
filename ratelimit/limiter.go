// Package ratelimit provides fixed-window admission control keyed by arbitrary strings.
//
// Callers compose the key (for example "submit:" + user id) and pass their own
// (limit, window) pair, so independent logical limiters can share one backend.
// The contract never fails: a backend that cannot answer lets the request through.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of a single admission check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetTime time.Time
}

// RetryAfter is how long a rejected caller should back off, rounded up to whole seconds.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed {
		return 0
	}
	d := r.ResetTime.Sub(now)
	if d <= 0 {
		return time.Second
	}
	return d.Truncate(time.Second) + roundUp(d%time.Second)
}

func roundUp(rem time.Duration) time.Duration {
	if rem > 0 {
		return time.Second
	}
	return 0
}

// Limiter decides whether a request identified by key is admitted.
// Implementations must be safe for concurrent use.
type Limiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) Result
}

// Rule binds a key namespace to its own (limit, window) pair.
type Rule struct {
	Prefix string
	Limit  int
	Window time.Duration
}

// Check runs the rule for one caller identity.
func (r Rule) Check(ctx context.Context, l Limiter, id string) Result {
	return l.Check(ctx, r.Prefix+id, r.Limit, r.Window)
}

func normalize(limit int, window time.Duration) (int, time.Duration) {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return limit, window
}
