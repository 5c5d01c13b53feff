package core

import (
	"context"
	"fmt"
	"time"
)

// TaskState is the lifecycle state of a Task.
type TaskState string

const (
	// TaskSubmitted is the initial state of a freshly created task.
	TaskSubmitted TaskState = "submitted"
	// TaskWorking marks a task that is being processed or awaits input.
	TaskWorking TaskState = "working"
	// TaskCompleted is the terminal state of a successful task.
	TaskCompleted TaskState = "completed"
	// TaskFailed is the terminal state of a task whose execution failed.
	TaskFailed TaskState = "failed"
	// TaskCancelled is the terminal state of a cancelled task.
	TaskCancelled TaskState = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s TaskState) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Valid reports whether s is one of the known states.
func (s TaskState) Valid() bool {
	switch s {
	case TaskSubmitted, TaskWorking, TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// Task tracks identity, lifecycle state, cancellation and progress of one
// request. Registries hand out copies; mutate through a TaskRegistry.
type Task struct {
	ID              string            `json:"id"`
	SessionID       string            `json:"session_id"`
	State           TaskState         `json:"state"`
	CancelRequested bool              `json:"cancel_requested"`
	Progress        float64           `json:"progress"`
	Stage           string            `json:"stage,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// NewTask creates a submitted task bound to a session.
func NewTask(id, sessionID string, metadata map[string]string) *Task {
	now := time.Now().UTC()
	t := &Task{ID: id, SessionID: sessionID, State: TaskSubmitted, CreatedAt: now, UpdatedAt: now, Metadata: map[string]string{}}
	for k, v := range metadata {
		t.Metadata[k] = v
	}
	return t
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	c.Metadata = make(map[string]string, len(t.Metadata))
	for k, v := range t.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

// IsCancelled reports whether cancellation was requested or already applied.
func (t *Task) IsCancelled() bool {
	return t.CancelRequested || t.State == TaskCancelled
}

// Transition applies the task state machine:
//
//	submitted -> working | failed | cancelled
//	working   -> working | completed | failed | cancelled
//
// It reports whether anything changed. Updates to a terminal task are ignored
// without error, as are completed/failed once cancellation was requested.
func (t *Task) Transition(next TaskState, metadata map[string]string, now time.Time) (bool, error) {
	if !next.Valid() {
		return false, fmt.Errorf("task %s: unknown state %q: %w", t.ID, next, ErrInvalidState)
	}
	if t.State.IsTerminal() {
		return false, nil
	}
	if t.CancelRequested && next != TaskCancelled && next.IsTerminal() {
		return false, nil
	}

	switch {
	case next == TaskSubmitted:
		return false, fmt.Errorf("task %s: %s -> %s: %w", t.ID, t.State, next, ErrInvalidState)
	case t.State == TaskSubmitted && next == TaskCompleted:
		return false, fmt.Errorf("task %s: %s -> %s: %w", t.ID, t.State, next, ErrInvalidState)
	}

	t.State = next
	if next == TaskCompleted {
		t.Progress = 1.0
	}
	for k, v := range metadata {
		if t.Metadata == nil {
			t.Metadata = map[string]string{}
		}
		t.Metadata[k] = v
	}
	t.UpdatedAt = now
	return true, nil
}

// Advance raises progress while the task is working. Progress never
// decreases and is clamped to [0,1].
func (t *Task) Advance(progress float64, stage string, now time.Time) bool {
	if t.State != TaskWorking {
		return false
	}
	if progress > 1 {
		progress = 1
	}
	if progress < t.Progress {
		progress = t.Progress
	}
	t.Progress = progress
	if stage != "" {
		t.Stage = stage
	}
	t.UpdatedAt = now
	return true
}

// RequestCancel sets the one-way cancellation flag and moves a non-terminal
// task to cancelled. Terminal tasks are left untouched.
func (t *Task) RequestCancel(now time.Time) bool {
	if t.State.IsTerminal() {
		return false
	}
	t.CancelRequested = true
	t.State = TaskCancelled
	t.UpdatedAt = now
	return true
}

// TaskRegistry tracks task identity, lifecycle state, cancellation and
// progress. Mutations are atomic per task id.
type TaskRegistry interface {
	// Create registers a submitted task. Existing ids are returned unchanged.
	Create(ctx context.Context, taskID, sessionID string, metadata map[string]string) (*Task, error)
	// UpdateStatus transitions the task and returns the resulting snapshot.
	UpdateStatus(ctx context.Context, taskID string, state TaskState, metadata map[string]string) (*Task, error)
	// UpdateProgress records progress for a working task.
	UpdateProgress(ctx context.Context, taskID string, progress float64, stage string) (*Task, error)
	// RequestCancel flags the task for cancellation; false if unknown.
	RequestCancel(ctx context.Context, taskID string) (bool, error)
	IsCancelled(ctx context.Context, taskID string) (bool, error)
	Snapshot(ctx context.Context, taskID string) (*Task, error)
	// ListBySession returns the session's tasks in creation order.
	ListBySession(ctx context.Context, sessionID string) ([]*Task, error)
	// Prune removes terminal tasks last updated before now-olderThan.
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}
