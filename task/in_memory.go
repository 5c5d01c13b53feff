// Package task provides the in-memory TaskRegistry.
package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// Options configures an InMemoryRegistry.
type Options struct {
	// MaxTerminal caps how many terminal tasks are retained. The least
	// recently finished ones are evicted first. Zero keeps all of them.
	MaxTerminal int
	// Clock returns the current time; defaults to time.Now.
	Clock func() time.Time
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

type entry struct {
	mu      sync.Mutex
	task    *core.Task
	deleted bool
}

// InMemoryRegistry is a volatile TaskRegistry storing tasks in a process
// local map. The map lock guards membership and creation order only; each
// task carries its own mutex, so mutations of different tasks never contend
// while every state change stays atomic per task. Each returned task is a
// copy.
//
// Lock order is map lock before entry lock. Nothing acquires the map lock
// or touches the terminal cache while holding an entry lock.
type InMemoryRegistry struct {
	mu       sync.RWMutex
	tasks    map[string]*entry
	order    []string
	terminal *lru.Cache[string, struct{}]
	clock    func() time.Time
	logger   logging.Logger
}

// NewInMemoryRegistry constructs an empty registry.
func NewInMemoryRegistry(optFns ...func(o *Options)) *InMemoryRegistry {
	opts := Options{Clock: time.Now, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	r := &InMemoryRegistry{
		tasks:  make(map[string]*entry),
		clock:  opts.Clock,
		logger: logging.OrNoOp(opts.Logger),
	}

	if opts.MaxTerminal > 0 {
		cache, err := lru.NewWithEvict[string, struct{}](opts.MaxTerminal, func(id string, _ struct{}) {
			r.drop(id, nil)
		})
		if err == nil {
			r.terminal = cache
		}
	}

	return r
}

func (r *InMemoryRegistry) lookup(taskID string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tasks[taskID]
	return e, ok
}

// acquire returns the locked entry for taskID. The caller must unlock e.mu.
func (r *InMemoryRegistry) acquire(taskID string) (*entry, bool) {
	for {
		e, ok := r.lookup(taskID)
		if !ok {
			return nil, false
		}
		e.mu.Lock()
		if !e.deleted {
			return e, true
		}
		// dropped while we waited; the id may have been recreated
		e.mu.Unlock()
	}
}

// Create registers a submitted task; an existing id is returned unchanged.
func (r *InMemoryRegistry) Create(_ context.Context, taskID, sessionID string, metadata map[string]string) (*core.Task, error) {
	if e, ok := r.acquire(taskID); ok {
		defer e.mu.Unlock()
		return e.task.Clone(), nil
	}

	r.mu.Lock()
	if e, ok := r.tasks[taskID]; ok {
		r.mu.Unlock()
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.task.Clone(), nil
	}
	t := core.NewTask(taskID, sessionID, metadata)
	t.CreatedAt = r.clock().UTC()
	t.UpdatedAt = t.CreatedAt
	r.tasks[taskID] = &entry{task: t}
	r.order = append(r.order, taskID)
	r.mu.Unlock()

	r.logger.Debug("task created", "task_id", taskID, "session_id", sessionID)

	return t.Clone(), nil
}

// UpdateStatus transitions the task and returns the resulting snapshot.
func (r *InMemoryRegistry) UpdateStatus(_ context.Context, taskID string, state core.TaskState, metadata map[string]string) (*core.Task, error) {
	e, ok := r.acquire(taskID)
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, core.ErrNotFound)
	}

	from := e.task.State
	changed, err := e.task.Transition(state, metadata, r.clock().UTC())
	snap := e.task.Clone()
	e.mu.Unlock()

	if err != nil {
		return snap, err
	}
	if changed {
		r.logger.Debug("task transition", "task_id", taskID, "from", from, "to", snap.State)
		r.trackTerminal(snap)
	}

	return snap, nil
}

// UpdateProgress records progress for a working task.
func (r *InMemoryRegistry) UpdateProgress(_ context.Context, taskID string, progress float64, stage string) (*core.Task, error) {
	e, ok := r.acquire(taskID)
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, core.ErrNotFound)
	}
	defer e.mu.Unlock()

	e.task.Advance(progress, stage, r.clock().UTC())

	return e.task.Clone(), nil
}

// RequestCancel flags the task and moves it to cancelled when not terminal.
func (r *InMemoryRegistry) RequestCancel(_ context.Context, taskID string) (bool, error) {
	e, ok := r.acquire(taskID)
	if !ok {
		return false, nil
	}

	moved := e.task.RequestCancel(r.clock().UTC())
	snap := e.task.Clone()
	e.mu.Unlock()

	if moved {
		r.trackTerminal(snap)
	}

	return true, nil
}

// IsCancelled reports whether cancellation was requested for the task.
func (r *InMemoryRegistry) IsCancelled(_ context.Context, taskID string) (bool, error) {
	e, ok := r.acquire(taskID)
	if !ok {
		return false, fmt.Errorf("task %s: %w", taskID, core.ErrNotFound)
	}
	defer e.mu.Unlock()

	return e.task.IsCancelled(), nil
}

// Snapshot returns a copy of the task.
func (r *InMemoryRegistry) Snapshot(_ context.Context, taskID string) (*core.Task, error) {
	e, ok := r.acquire(taskID)
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, core.ErrNotFound)
	}
	defer e.mu.Unlock()

	return e.task.Clone(), nil
}

// ListBySession returns the session's tasks in creation order.
func (r *InMemoryRegistry) ListBySession(_ context.Context, sessionID string) ([]*core.Task, error) {
	res := make([]*core.Task, 0)
	for _, e := range r.entries() {
		e.mu.Lock()
		if !e.deleted && e.task.SessionID == sessionID {
			res = append(res, e.task.Clone())
		}
		e.mu.Unlock()
	}

	return res, nil
}

// Prune removes terminal tasks last updated before now-olderThan and reports
// how many were removed.
func (r *InMemoryRegistry) Prune(_ context.Context, olderThan time.Duration) (int, error) {
	cutoff := r.clock().UTC().Add(-olderThan)

	var expired []*entry
	for _, e := range r.entries() {
		e.mu.Lock()
		if !e.deleted && e.task.State.IsTerminal() && e.task.UpdatedAt.Before(cutoff) {
			expired = append(expired, e)
		}
		e.mu.Unlock()
	}

	removed := 0
	for _, e := range expired {
		// terminal tasks never change, so the id is stable
		id := e.task.ID
		if r.drop(id, e) {
			removed++
		}
		if r.terminal != nil {
			r.terminal.Remove(id)
		}
	}
	if removed > 0 {
		r.logger.Info("pruned terminal tasks", "count", removed, "older_than", olderThan)
	}

	return removed, nil
}

// Len returns the number of tracked tasks.
func (r *InMemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// entries returns the live entries in creation order.
func (r *InMemoryRegistry) entries() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]*entry, 0, len(r.order))
	for _, id := range r.order {
		if e, ok := r.tasks[id]; ok {
			res = append(res, e)
		}
	}
	return res
}

func (r *InMemoryRegistry) trackTerminal(t *core.Task) {
	if r.terminal != nil && t.State.IsTerminal() {
		r.terminal.Add(t.ID, struct{}{})
	}
}

// drop removes the task stored under id. A non-nil want restricts removal
// to that entry; a nil want only removes terminal tasks.
func (r *InMemoryRegistry) drop(id string, want *entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok || (want != nil && e != want) {
		return false
	}

	e.mu.Lock()
	if want == nil && !e.task.State.IsTerminal() {
		// stale cache key for an id that was pruned and recreated
		e.mu.Unlock()
		return false
	}
	e.deleted = true
	e.mu.Unlock()

	delete(r.tasks, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}
