package task

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

// Interface compliance (compile-time assertions)
var _ core.TaskRegistry = (*InMemoryRegistry)(nil)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestInMemoryRegistry_CreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := NewInMemoryRegistry()

	first, err := r.Create(ctx, "t1", "s1", map[string]string{"source": "a"})
	require.NoError(t, err)
	_, err = r.UpdateStatus(ctx, "t1", core.TaskWorking, nil)
	require.NoError(t, err)

	again, err := r.Create(ctx, "t1", "other", map[string]string{"source": "b"})
	require.NoError(t, err)
	assert.Equal(t, core.TaskWorking, again.State)
	assert.Equal(t, "s1", again.SessionID)
	assert.Equal(t, "a", again.Metadata["source"])
	assert.Equal(t, first.CreatedAt, again.CreatedAt)
	assert.Equal(t, 1, r.Len())
}

func TestInMemoryRegistry_CancelScenario(t *testing.T) {
	ctx := context.Background()
	r := NewInMemoryRegistry()

	_, err := r.Create(ctx, "t1", "s1", nil)
	require.NoError(t, err)
	_, err = r.UpdateStatus(ctx, "t1", core.TaskWorking, nil)
	require.NoError(t, err)

	ok, err := r.RequestCancel(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, ok)

	snap, err := r.Snapshot(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, core.TaskCancelled, snap.State)
	assert.True(t, snap.CancelRequested)

	snap, err = r.UpdateStatus(ctx, "t1", core.TaskCompleted, nil)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCancelled, snap.State)

	cancelled, err := r.IsCancelled(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestInMemoryRegistry_TerminalIsSticky(t *testing.T) {
	ctx := context.Background()
	r := NewInMemoryRegistry()
	_, _ = r.Create(ctx, "t1", "s1", nil)
	_, _ = r.UpdateStatus(ctx, "t1", core.TaskWorking, nil)
	done, err := r.UpdateStatus(ctx, "t1", core.TaskCompleted, map[string]string{"result": "ok"})
	require.NoError(t, err)

	for _, s := range []core.TaskState{core.TaskFailed, core.TaskCancelled, core.TaskWorking, core.TaskCompleted} {
		snap, err := r.UpdateStatus(ctx, "t1", s, map[string]string{"result": "late"})
		require.NoError(t, err)
		assert.Equal(t, done, snap)
	}

	snap, err := r.UpdateProgress(ctx, "t1", 0.1, "late")
	require.NoError(t, err)
	assert.Equal(t, done, snap)

	ok, err := r.RequestCancel(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, ok)
	snap, _ = r.Snapshot(ctx, "t1")
	assert.Equal(t, done, snap)
}

func TestInMemoryRegistry_UnknownTask(t *testing.T) {
	ctx := context.Background()
	r := NewInMemoryRegistry()

	_, err := r.Snapshot(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = r.UpdateStatus(ctx, "missing", core.TaskWorking, nil)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = r.UpdateProgress(ctx, "missing", 0.5, "")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = r.IsCancelled(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	ok, err := r.RequestCancel(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInMemoryRegistry_ProgressMonotonic(t *testing.T) {
	ctx := context.Background()
	r := NewInMemoryRegistry()
	_, _ = r.Create(ctx, "t1", "s1", nil)
	_, _ = r.UpdateStatus(ctx, "t1", core.TaskWorking, nil)

	var seen []float64
	for _, p := range []float64{0.2, 0.6, 0.4, 0.8} {
		snap, err := r.UpdateProgress(ctx, "t1", p, "")
		require.NoError(t, err)
		seen = append(seen, snap.Progress)
	}
	assert.Equal(t, []float64{0.2, 0.6, 0.6, 0.8}, seen)
}

func TestInMemoryRegistry_SnapshotIsCopy(t *testing.T) {
	ctx := context.Background()
	r := NewInMemoryRegistry()
	snap, _ := r.Create(ctx, "t1", "s1", map[string]string{"k": "v"})
	snap.State = core.TaskCompleted
	snap.Metadata["k"] = "changed"

	again, _ := r.Snapshot(ctx, "t1")
	assert.Equal(t, core.TaskSubmitted, again.State)
	assert.Equal(t, "v", again.Metadata["k"])
}

func TestInMemoryRegistry_ListBySession(t *testing.T) {
	ctx := context.Background()
	r := NewInMemoryRegistry()
	for i, sid := range []string{"s1", "s2", "s1", "s1"} {
		_, err := r.Create(ctx, fmt.Sprintf("t%d", i), sid, nil)
		require.NoError(t, err)
	}

	tasks, err := r.ListBySession(ctx, "s1")
	require.NoError(t, err)
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"t0", "t2", "t3"}, ids)

	none, err := r.ListBySession(ctx, "s9")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestInMemoryRegistry_Prune(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := NewInMemoryRegistry(func(o *Options) { o.Clock = clock.Now })

	_, _ = r.Create(ctx, "old", "s1", nil)
	_, _ = r.UpdateStatus(ctx, "old", core.TaskFailed, nil)
	_, _ = r.Create(ctx, "running", "s1", nil)
	_, _ = r.UpdateStatus(ctx, "running", core.TaskWorking, nil)

	clock.Advance(25 * time.Hour)
	_, _ = r.Create(ctx, "fresh", "s1", nil)
	_, _ = r.UpdateStatus(ctx, "fresh", core.TaskCancelled, nil)

	removed, err := r.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = r.Snapshot(ctx, "old")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = r.Snapshot(ctx, "running")
	assert.NoError(t, err, "non-terminal tasks are never pruned")
	_, err = r.Snapshot(ctx, "fresh")
	assert.NoError(t, err)
}

func TestInMemoryRegistry_MaxTerminal(t *testing.T) {
	ctx := context.Background()
	r := NewInMemoryRegistry(func(o *Options) { o.MaxTerminal = 2 })

	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("t%d", i)
		_, _ = r.Create(ctx, id, "s1", nil)
		_, _ = r.UpdateStatus(ctx, id, core.TaskWorking, nil)
		_, _ = r.UpdateStatus(ctx, id, core.TaskCompleted, nil)
	}
	_, _ = r.Create(ctx, "live", "s1", nil)

	assert.Equal(t, 3, r.Len())
	_, err := r.Snapshot(ctx, "t0")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = r.Snapshot(ctx, "t3")
	assert.NoError(t, err)
	_, err = r.Snapshot(ctx, "live")
	assert.NoError(t, err)
}

func TestInMemoryRegistry_ConcurrentTransitions(t *testing.T) {
	ctx := context.Background()
	r := NewInMemoryRegistry()
	_, _ = r.Create(ctx, "t1", "s1", nil)
	_, _ = r.UpdateStatus(ctx, "t1", core.TaskWorking, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = r.UpdateStatus(ctx, "t1", core.TaskCompleted, nil)
		}()
		go func() {
			defer wg.Done()
			_, _ = r.RequestCancel(ctx, "t1")
		}()
	}
	wg.Wait()

	snap, err := r.Snapshot(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, snap.State.IsTerminal())
	if snap.State == core.TaskCompleted {
		assert.False(t, snap.CancelRequested)
	}
}

func TestInMemoryRegistry_TasksDoNotContend(t *testing.T) {
	ctx := context.Background()
	r := NewInMemoryRegistry()
	_, _ = r.Create(ctx, "busy", "s1", nil)
	_, _ = r.Create(ctx, "other", "s2", nil)

	// Hold the busy task's lock as a long mutation would.
	e, ok := r.acquire("busy")
	require.True(t, ok)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.UpdateStatus(ctx, "other", core.TaskWorking, nil)
		_, _ = r.UpdateProgress(ctx, "other", 0.5, "halfway")
		_, _ = r.Create(ctx, "fresh", "s2", nil)
		_, _ = r.ListBySession(ctx, "s2")
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("operations on other tasks blocked behind a busy task")
	}
	e.mu.Unlock()

	snap, err := r.Snapshot(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, core.TaskWorking, snap.State)
	assert.Equal(t, 0.5, snap.Progress)
}

func TestInMemoryRegistry_PruneThenRecreate(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := NewInMemoryRegistry(func(o *Options) {
		o.Clock = clock.Now
		o.MaxTerminal = 1
	})

	_, _ = r.Create(ctx, "t1", "s1", nil)
	_, _ = r.UpdateStatus(ctx, "t1", core.TaskFailed, nil)
	clock.Advance(2 * time.Hour)

	removed, err := r.Prune(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	created, err := r.Create(ctx, "t1", "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, core.TaskSubmitted, created.State)

	// Finishing another task must not evict the recreated one.
	_, _ = r.Create(ctx, "t2", "s1", nil)
	_, _ = r.UpdateStatus(ctx, "t2", core.TaskCancelled, nil)

	snap, err := r.Snapshot(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, core.TaskSubmitted, snap.State)
}
