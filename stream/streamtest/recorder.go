// Package streamtest provides helpers for asserting on stream subscriptions
// in tests.
package streamtest

import (
	"sync"
	"testing"
	"time"
)

// Kind identifies a recorded event.
type Kind string

const (
	KindNext     Kind = "next"
	KindError    Kind = "error"
	KindComplete Kind = "complete"
)

// Event is one recorded observer callback.
type Event struct {
	Kind  Kind
	Value any
	Err   error
}

// Recorder is a stream.Observer that records every callback it receives.
// It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
	once   sync.Once
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{done: make(chan struct{})}
}

func (r *Recorder) Next(v any) {
	r.mu.Lock()
	r.events = append(r.events, Event{Kind: KindNext, Value: v})
	r.mu.Unlock()
}

func (r *Recorder) Error(err error) {
	r.mu.Lock()
	r.events = append(r.events, Event{Kind: KindError, Err: err})
	r.mu.Unlock()
	r.once.Do(func() { close(r.done) })
}

func (r *Recorder) Complete() {
	r.mu.Lock()
	r.events = append(r.events, Event{Kind: KindComplete})
	r.mu.Unlock()
	r.once.Do(func() { close(r.done) })
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Values returns the values of all recorded next events.
func (r *Recorder) Values() []any {
	var out []any
	for _, ev := range r.Events() {
		if ev.Kind == KindNext {
			out = append(out, ev.Value)
		}
	}
	return out
}

// Err returns the recorded terminal error, if any.
func (r *Recorder) Err() error {
	for _, ev := range r.Events() {
		if ev.Kind == KindError {
			return ev.Err
		}
	}
	return nil
}

// Done is closed once a terminal event has been recorded.
func (r *Recorder) Done() <-chan struct{} { return r.done }

// Wait blocks until a terminal event is recorded, failing t after timeout.
func (r *Recorder) Wait(t testing.TB, timeout time.Duration) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(timeout):
		t.Fatalf("timeout waiting for terminal event; recorded %d events", len(r.Events()))
	}
}
