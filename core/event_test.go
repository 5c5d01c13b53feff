package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	e := NewEvent(EventStarted, "t1", "s1")
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "t1", e.TaskID)
	assert.False(t, e.Timestamp.IsZero())
	assert.False(t, e.IsPartial())
	assert.False(t, e.IsTerminal())
	assert.Greater(t, e.UnixSeconds(), 0.0)

	other := NewEvent(EventStarted, "t1", "s1")
	assert.NotEqual(t, e.ID, other.ID)
}

func TestEventHelpers(t *testing.T) {
	p := NewProgressEvent("t1", "s1", 0.4, "planning", "Planning approach")
	require.NotNil(t, p.Progress)
	assert.Equal(t, 0.4, *p.Progress)
	assert.Equal(t, "planning", p.Stage)

	m := NewMessageEvent("t1", "s1", "frag", true)
	assert.True(t, m.IsPartial())

	e := NewErrorEvent(EventError, "t1", "s1", NewExecutionError("t1", errors.New("boom")))
	assert.True(t, e.IsTerminal())
	assert.Equal(t, CodeExecutionFailure, e.ErrorCode)
	assert.Contains(t, e.ErrorMessage, "boom")
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "", ErrorCode(nil))
	assert.Equal(t, CodeNotFound, ErrorCode(fmt.Errorf("task x: %w", ErrNotFound)))
	assert.Equal(t, CodeInvalidState, ErrorCode(ErrInvalidState))
	assert.Equal(t, CodeCancelled, ErrorCode(ErrCancellationRequested))
	assert.Equal(t, CodeInvalidRequest, ErrorCode(&RequestError{Field: "message", Message: "empty"}))
	assert.Equal(t, CodeExecutionFailure, ErrorCode(NewExecutionError("t1", errors.New("x"))))
	assert.Equal(t, CodeInternal, ErrorCode(errors.New("x")))
}

func TestNewExecutionError_DoesNotDoubleWrap(t *testing.T) {
	inner := NewExecutionError("t1", errors.New("boom"))
	assert.Same(t, inner, NewExecutionError("t2", inner))

	var ee *ExecutionError
	require.ErrorAs(t, inner, &ee)
	assert.Equal(t, "t1", ee.TaskID)
}
