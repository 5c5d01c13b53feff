package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/testutil"
	"github.com/hupe1980/agentrelay/responder"
)

func TestHandle_RejectsInvalidRequests(t *testing.T) {
	ctx := context.Background()
	mock := responder.NewMock()
	o := New(mock)

	tests := []struct {
		name  string
		req   core.Request
		field string
	}{
		{name: "nil", req: nil},
		{name: "chat without message", req: core.ChatRequest{TaskID: "t1", SessionID: "s1"}, field: "message"},
		{name: "chat without task id", req: core.ChatRequest{SessionID: "s1", Message: "hi"}, field: "task_id"},
		{name: "lifecycle with unknown action", req: core.LifecycleRequest{SessionID: "s1", Action: "archived"}, field: "action"},
		{name: "unknown task type", req: core.TaskRequest{TaskID: "t1", SessionID: "s1", TaskType: "dance"}, field: "task_type"},
		{
			name:  "task missing required field",
			req:   core.TaskRequest{TaskID: "t1", SessionID: "s1", TaskType: "data-analysis", Data: map[string]any{"dataSource": "sales.csv"}},
			field: "task_data.analysisType",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := o.Handle(ctx, tt.req)
			require.Error(t, err)
			assert.Nil(t, ch)
			assert.Equal(t, core.CodeInvalidRequest, core.ErrorCode(err))

			var re *core.RequestError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, tt.field, re.Field)
		})
	}

	_, err := o.Snapshot(ctx, "t1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Empty(t, mock.Calls())
}

func TestHandle_Chat(t *testing.T) {
	ctx := context.Background()
	o := New(responder.NewMock())

	ch, err := o.Handle(ctx, &core.ChatRequest{TaskID: "t1", SessionID: "s1", UserID: "alice", Message: "What is the capital of France?"})
	require.NoError(t, err)
	assert.Equal(t, core.EventCompleted, testutil.Last(testutil.Drain(t, ch)).Kind)

	sess, err := o.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.UserID)
}

func TestHandle_TaskSkipsClarification(t *testing.T) {
	ctx := context.Background()
	mock := responder.NewMock()
	o := New(mock)

	// an open clarification in the same session must not swallow the task
	testutil.Drain(t, o.Execute(ctx, "t0", "s1", "help"))

	ch, err := o.Handle(ctx, core.TaskRequest{
		TaskID:    "t1",
		SessionID: "s1",
		TaskType:  "data-analysis",
		Data:      map[string]any{"dataSource": "sales.csv", "analysisType": "trend"},
	})
	require.NoError(t, err)

	events := testutil.Drain(t, ch)
	assert.Equal(t, core.EventCompleted, testutil.Last(events).Kind)

	require.Len(t, mock.Calls(), 1)
	assert.Contains(t, mock.Calls()[0].Prompt, "Task type: data-analysis\ndataSource: sales.csv\nanalysisType: trend")

	snap, err := o.Snapshot(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "data-analysis", snap.Metadata["task_type"])

	summary, err := o.SessionSummary(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, core.SessionAwaitingInput, summary.Status)
}

func TestHandle_Lifecycle(t *testing.T) {
	ctx := context.Background()
	o := New(responder.NewMock())

	lifecycle := func(action core.LifecycleAction) core.Event {
		t.Helper()
		ch, err := o.Handle(ctx, core.LifecycleRequest{SessionID: "s1", UserID: "bob", Action: action})
		require.NoError(t, err)
		events := testutil.Drain(t, ch)
		require.Len(t, events, 1)
		return events[0]
	}

	t.Run("clear unknown session", func(t *testing.T) {
		ev := lifecycle(core.LifecycleCleared)
		assert.Equal(t, core.EventError, ev.Kind)
		assert.Equal(t, core.CodeNotFound, ev.ErrorCode)
	})

	t.Run("create", func(t *testing.T) {
		ev := lifecycle(core.LifecycleCreated)
		assert.Equal(t, core.EventSessionUpdated, ev.Kind)
		assert.Equal(t, "created", ev.Metadata["action"])

		sess, err := o.Session(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "bob", sess.UserID)
		assert.Empty(t, sess.History)
	})

	t.Run("clear", func(t *testing.T) {
		testutil.Drain(t, o.Execute(ctx, "t1", "s1", "What is the capital of France?"))

		ev := lifecycle(core.LifecycleCleared)
		assert.Equal(t, core.EventSessionUpdated, ev.Kind)

		sess, err := o.Session(ctx, "s1")
		require.NoError(t, err)
		assert.Empty(t, sess.History)
		assert.Equal(t, "bob", sess.UserID)
	})

	t.Run("delete", func(t *testing.T) {
		ev := lifecycle(core.LifecycleDeleted)
		assert.Equal(t, core.EventSessionUpdated, ev.Kind)

		_, err := o.Session(ctx, "s1")
		assert.ErrorIs(t, err, core.ErrNotFound)

		// deleting twice is fine
		assert.Equal(t, core.EventSessionUpdated, lifecycle(core.LifecycleDeleted).Kind)
	})
}
