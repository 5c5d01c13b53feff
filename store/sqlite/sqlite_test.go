package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/testutil"
	"github.com/hupe1980/agentrelay/orchestrator"
	"github.com/hupe1980/agentrelay/responder"
)

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

func openTestDB(t *testing.T, clock func() time.Time) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.db")
	db, err := Open(Config{Path: path, Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestTaskRegistry_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t, nil)
	r := db.Tasks()

	created, err := r.Create(ctx, "t1", "s1", map[string]string{"origin": "test"})
	require.NoError(t, err)
	assert.Equal(t, core.TaskSubmitted, created.State)

	again, err := r.Create(ctx, "t1", "other", nil)
	require.NoError(t, err)
	assert.Equal(t, "s1", again.SessionID, "Create is idempotent")
	assert.Equal(t, "test", again.Metadata["origin"])

	_, err = r.UpdateStatus(ctx, "t1", core.TaskCompleted, nil)
	assert.ErrorIs(t, err, core.ErrInvalidState, "submitted cannot complete directly")

	_, err = r.UpdateStatus(ctx, "t1", core.TaskWorking, nil)
	require.NoError(t, err)

	var seen []float64
	for _, p := range []float64{0.2, 0.6, 0.4, 1.5} {
		snap, err := r.UpdateProgress(ctx, "t1", p, "step")
		require.NoError(t, err)
		seen = append(seen, snap.Progress)
	}
	assert.Equal(t, []float64{0.2, 0.6, 0.6, 1.0}, seen)

	done, err := r.UpdateStatus(ctx, "t1", core.TaskCompleted, map[string]string{"result": "ok"})
	require.NoError(t, err)
	assert.Equal(t, core.TaskCompleted, done.State)
	assert.Equal(t, "ok", done.Metadata["result"])
	assert.Equal(t, "step", done.Stage)

	for _, s := range []core.TaskState{core.TaskFailed, core.TaskCancelled, core.TaskWorking} {
		snap, err := r.UpdateStatus(ctx, "t1", s, map[string]string{"result": "late"})
		require.NoError(t, err)
		assert.Equal(t, done, snap)
	}

	ok, err := r.RequestCancel(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, ok)
	snap, err := r.Snapshot(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, done, snap, "terminal tasks are never resurrected")
}

func TestTaskRegistry_CancelWins(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t, nil)
	r := db.Tasks()

	_, _ = r.Create(ctx, "t1", "s1", nil)
	_, _ = r.UpdateStatus(ctx, "t1", core.TaskWorking, nil)

	ok, err := r.RequestCancel(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, ok)

	snap, err := r.UpdateStatus(ctx, "t1", core.TaskCompleted, nil)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCancelled, snap.State)
	assert.True(t, snap.CancelRequested)

	cancelled, err := r.IsCancelled(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestTaskRegistry_UnknownTask(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t, nil)
	r := db.Tasks()

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

func TestTaskRegistry_ListBySessionAndPrune(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	db, _ := openTestDB(t, clock.Now)
	r := db.Tasks()

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

	_, _ = r.UpdateStatus(ctx, "t0", core.TaskFailed, nil)
	_, _ = r.UpdateStatus(ctx, "t2", core.TaskWorking, nil)
	clock.Advance(25 * time.Hour)
	_, _ = r.UpdateStatus(ctx, "t3", core.TaskCancelled, nil)

	removed, err := r.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = r.Snapshot(ctx, "t0")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = r.Snapshot(ctx, "t2")
	assert.NoError(t, err, "non-terminal tasks are never pruned")
	_, err = r.Snapshot(ctx, "t3")
	assert.NoError(t, err)
}

func TestTaskRegistry_ConcurrentTransitions(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t, nil)
	r := db.Tasks()
	_, _ = r.Create(ctx, "t1", "s1", nil)
	_, _ = r.UpdateStatus(ctx, "t1", core.TaskWorking, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = r.UpdateStatus(ctx, "t1", core.TaskCompleted, nil)
			} else {
				_, _ = r.RequestCancel(ctx, "t1")
			}
		}(i)
	}
	wg.Wait()

	snap, err := r.Snapshot(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, snap.State.IsTerminal())
	if snap.CancelRequested {
		assert.Equal(t, core.TaskCancelled, snap.State)
	}
}

func TestSessionStore_TurnsAndContext(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t, nil)
	s := db.Sessions()

	_, err := s.Get(ctx, "s1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	created, err := s.Ensure(ctx, "s1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", created.UserID)
	assert.Empty(t, created.History)

	again, err := s.Ensure(ctx, "s1", "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", again.UserID, "Ensure never overwrites")

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendTurn(ctx, "s1", core.NewTurn(core.RoleUser, fmt.Sprintf("m%d", i))))
	}

	recent, err := s.RecentContext(ctx, "s1", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3", "m4"}, contents(recent))

	all, err := s.RecentContext(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	none, err := s.RecentContext(ctx, "unknown", 3)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, s.AppendTurn(ctx, "lazy", core.NewTurn(core.RoleAssistant, "hi")))
	lazy, err := s.Get(ctx, "lazy")
	require.NoError(t, err)
	assert.Equal(t, core.DefaultUserID, lazy.UserID)
	require.Len(t, lazy.History, 1)
	assert.Equal(t, lazy.History[0].Timestamp, lazy.LastActivity)
}

func TestSessionStore_ConversationState(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t, nil)
	s := db.Sessions()

	state, err := s.ConversationState(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, state)

	require.NoError(t, s.SetConversationState(ctx, "ghost", nil))
	_, err = s.Get(ctx, "ghost")
	assert.ErrorIs(t, err, core.ErrNotFound, "clearing an unknown session creates nothing")

	want := &core.ConversationState{
		Stage:           core.StageCollectingInfo,
		OriginalRequest: "help",
		RequiredInfo:    []string{"topic", "details"},
		CollectedInfo:   map[string]string{"topic": "billing"},
		CurrentQuestion: "details",
		TaskIDs:         []string{"t1", "t2"},
	}
	require.NoError(t, s.SetConversationState(ctx, "s1", want))

	got, err := s.ConversationState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	sess, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, want, sess.Conversation)
	assert.Equal(t, core.SessionAwaitingInput, sess.Summary().Status)

	require.NoError(t, s.SetConversationState(ctx, "s1", nil))
	got, err = s.ConversationState(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionStore_ClearAndDelete(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t, nil)
	s := db.Sessions()

	assert.ErrorIs(t, s.Clear(ctx, "missing"), core.ErrNotFound)
	assert.NoError(t, s.Delete(ctx, "missing"))

	testutil.NewSessionBuilder("s1").
		UserID("alice").
		User("hello").
		Assistant("hi").
		Conversation(&core.ConversationState{Stage: core.StageConfirmation, TaskIDs: []string{"t1"}}).
		Seed(t, s)

	require.NoError(t, s.Clear(ctx, "s1"))
	sess, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.UserID)
	assert.Empty(t, sess.History)
	assert.Nil(t, sess.Conversation)

	require.NoError(t, s.AppendTurn(ctx, "s1", core.NewTurn(core.RoleUser, "again")))
	require.NoError(t, s.Delete(ctx, "s1"))
	_, err = s.Get(ctx, "s1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	recent, err := s.RecentContext(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, recent, "turns are removed with the session")
}

func TestDB_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "relay.db")

	db, err := Open(Config{Path: path})
	require.NoError(t, err)
	_, err = db.Tasks().Create(ctx, "t1", "s1", nil)
	require.NoError(t, err)
	_, err = db.Tasks().UpdateStatus(ctx, "t1", core.TaskWorking, nil)
	require.NoError(t, err)
	require.NoError(t, db.Sessions().AppendTurn(ctx, "s1", core.NewTurn(core.RoleUser, "persisted")))
	require.NoError(t, db.Close())

	db, err = Open(Config{Path: path})
	require.NoError(t, err)
	defer db.Close()

	snap, err := db.Tasks().Snapshot(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, core.TaskWorking, snap.State)

	sess, err := db.Sessions().Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, sess.History, 1)
	assert.Equal(t, "persisted", sess.History[0].Content)
}

func TestOrchestrator_WithSQLiteStores(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t, nil)

	mock := responder.NewMock()
	mock.AddResponse("What is Go?", "A programming language.")
	o := orchestrator.New(mock, func(o *orchestrator.Options) {
		o.Tasks = db.Tasks()
		o.Sessions = db.Sessions()
	})

	events := testutil.Drain(t, o.Execute(ctx, "t1", "s1", "What is Go?"))
	assert.Equal(t, core.EventCompleted, testutil.Last(events).Kind)
	assert.Equal(t, "A programming language.", testutil.Last(events).Content)

	snap, err := db.Tasks().Snapshot(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, core.TaskCompleted, snap.State)
	assert.Equal(t, 1.0, snap.Progress)

	sess, err := db.Sessions().Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"What is Go?", "A programming language."}, contents(sess.History))

	res := o.Cancel(ctx, "t1")
	assert.Equal(t, core.EventInvalidState, res.Kind)
}

func contents(turns []core.Turn) []string {
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.Content)
	}
	return out
}
