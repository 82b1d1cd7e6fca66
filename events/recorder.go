package events

import (
	"context"
	"sync"
)

// Recorder keeps published events in memory. Useful for tests and local runs.
type Recorder struct {
	mu     sync.Mutex
	Events []Recorded
}

// Recorded is one captured event.
type Recorded struct {
	Subject string
	Payload any
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, subject string, payload any) error {
	r.mu.Lock()
	r.Events = append(r.Events, Recorded{Subject: subject, Payload: payload})
	r.mu.Unlock()
	return nil
}

// Subjects returns the captured subjects in publish order.
func (r *Recorder) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Events))
	for _, e := range r.Events {
		out = append(out, e.Subject)
	}
	return out
}
