package ratelimit

import (
	"context"
	"sync"
	"time"
)

type windowEntry struct {
	count int
	reset time.Time
}

// MemoryLimiter keeps fixed-window counters in process memory.
// Counters are lost on restart and are not shared between instances; use RedisLimiter for that.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	now     func() time.Time

	lifecycle sync.Mutex
	stop      chan struct{}
	done      chan struct{}
}

// NewMemoryLimiter creates an empty limiter using the wall clock.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}
}

// WithClock replaces the time source, mainly for tests.
func (m *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	return m
}

// Check implements Limiter.
func (m *MemoryLimiter) Check(_ context.Context, key string, limit int, window time.Duration) Result {
	limit, window = normalize(limit, window)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if !ok || now.After(e.reset) {
		e = &windowEntry{count: 1, reset: now.Add(window)}
		m.entries[key] = e
		return Result{Allowed: true, Limit: limit, Remaining: limit - 1, ResetTime: e.reset}
	}
	if e.count >= limit {
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetTime: e.reset}
	}
	e.count++
	return Result{Allowed: true, Limit: limit, Remaining: limit - e.count, ResetTime: e.reset}
}

// Sweep drops every entry whose window has elapsed and returns how many were removed.
func (m *MemoryLimiter) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for key, e := range m.entries {
		if now.After(e.reset) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Start runs Sweep every interval until Stop is called. Calling Start twice is a no-op.
func (m *MemoryLimiter) Start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.stop != nil {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.sweepLoop(interval, m.stop, m.done)
}

func (m *MemoryLimiter) sweepLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-stop:
			return
		}
	}
}

// Stop halts the sweep goroutine and waits for it to exit.
func (m *MemoryLimiter) Stop() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.stop == nil {
		return
	}
	close(m.stop)
	<-m.done
	m.stop, m.done = nil, nil
}
