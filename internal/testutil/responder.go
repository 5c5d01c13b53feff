package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/agentrelay/core"
)

var _ core.Responder = (*GatedResponder)(nil)

// GatedResponder blocks every call until Release is invoked or the call
// context ends. Entered receives one value per call once it is blocked.
type GatedResponder struct {
	Reply string
	Err   error

	Entered chan string

	gate    chan struct{}
	once    sync.Once
	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
}

// NewGatedResponder returns a responder answering reply once released.
func NewGatedResponder(reply string) *GatedResponder {
	return &GatedResponder{
		Reply:   reply,
		Entered: make(chan string, 64),
		gate:    make(chan struct{}),
	}
}

// Respond implements core.Responder.
func (g *GatedResponder) Respond(ctx context.Context, prompt, _ string) (string, error) {
	g.calls.Add(1)
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		seen := g.maxSeen.Load()
		if n <= seen || g.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	select {
	case g.Entered <- prompt:
	default:
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-g.gate:
	}
	return g.Reply, g.Err
}

// Release unblocks all current and future calls.
func (g *GatedResponder) Release() { g.once.Do(func() { close(g.gate) }) }

// Calls reports how many times Respond was entered.
func (g *GatedResponder) Calls() int { return int(g.calls.Load()) }

// MaxConcurrent reports the highest number of simultaneous calls observed.
func (g *GatedResponder) MaxConcurrent() int { return int(g.maxSeen.Load()) }
