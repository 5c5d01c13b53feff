package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// DefaultTimeout bounds how long Drain waits for a stream to close.
const DefaultTimeout = 5 * time.Second

// Recorder collects events passed to its Emit method. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []core.Event
}

// Emit appends ev; it matches execution.Emitter.
func (r *Recorder) Emit(ev core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the kinds of the recorded events.
func (r *Recorder) Kinds() []core.EventKind { return Kinds(r.Events()) }

// Drain reads ch until it is closed and fails the test after DefaultTimeout.
func Drain(t testing.TB, ch <-chan core.Event) []core.Event {
	t.Helper()

	var out []core.Event
	timeout := time.After(DefaultTimeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("event stream not closed after %s; got %v", DefaultTimeout, Kinds(out))
			return out
		}
	}
}

// Next reads one event from ch and fails the test after DefaultTimeout.
func Next(t testing.TB, ch <-chan core.Event) core.Event {
	t.Helper()

	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event stream closed")
		}
		return ev
	case <-time.After(DefaultTimeout):
		t.Fatalf("no event after %s", DefaultTimeout)
	}
	return core.Event{}
}

// Kinds maps events to their kinds.
func Kinds(events []core.Event) []core.EventKind {
	out := make([]core.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

// Last returns the final event or the zero Event.
func Last(events []core.Event) core.Event {
	if len(events) == 0 {
		return core.Event{}
	}
	return events[len(events)-1]
}

// Count returns how many events have the given kind.
func Count(events []core.Event, kind core.EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
