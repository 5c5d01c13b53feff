package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/hupe1980/agentrelay/core"
)

var _ core.TaskRegistry = (*TaskRegistry)(nil)

const taskColumns = `id, session_id, state, cancel_requested, progress, stage, metadata, created_at, updated_at`

// TaskRegistry is a core.TaskRegistry persisted in SQLite.
type TaskRegistry struct {
	db *DB
}

// Create registers a submitted task; an existing id is returned unchanged.
func (r *TaskRegistry) Create(ctx context.Context, taskID, sessionID string, metadata map[string]string) (*core.Task, error) {
	var out *core.Task
	err := r.db.write(ctx, func(conn *sqlite.Conn) error {
		existing, err := r.load(conn, taskID)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, core.ErrNotFound) {
			return err
		}

		t := core.NewTask(taskID, sessionID, metadata)
		now := r.db.now()
		t.CreatedAt, t.UpdatedAt = fromNanos(now), fromNanos(now)

		md, err := r.encodeMetadata(t.Metadata)
		if err != nil {
			return err
		}
		err = sqlitex.Execute(conn, `INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				t.ID, t.SessionID, string(t.State), boolInt(t.CancelRequested), t.Progress, t.Stage, md, now, now,
			}})
		if err != nil {
			return fmt.Errorf("insert task %s: %w", taskID, err)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.db.logger.Debug("task created", "task_id", taskID, "session_id", sessionID)
	return out, nil
}

// UpdateStatus transitions the task and returns the resulting snapshot.
func (r *TaskRegistry) UpdateStatus(ctx context.Context, taskID string, state core.TaskState, metadata map[string]string) (*core.Task, error) {
	return r.mutate(ctx, taskID, func(t *core.Task, now time.Time) (bool, error) {
		from := t.State
		changed, err := t.Transition(state, metadata, now)
		if changed {
			r.db.logger.Debug("task transition", "task_id", taskID, "from", from, "to", t.State)
		}
		return changed, err
	})
}

// UpdateProgress records progress for a working task.
func (r *TaskRegistry) UpdateProgress(ctx context.Context, taskID string, progress float64, stage string) (*core.Task, error) {
	return r.mutate(ctx, taskID, func(t *core.Task, now time.Time) (bool, error) {
		return t.Advance(progress, stage, now), nil
	})
}

// RequestCancel flags the task and moves it to cancelled when not terminal.
func (r *TaskRegistry) RequestCancel(ctx context.Context, taskID string) (bool, error) {
	_, err := r.mutate(ctx, taskID, func(t *core.Task, now time.Time) (bool, error) {
		return t.RequestCancel(now), nil
	})
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsCancelled reports whether cancellation was requested or applied.
func (r *TaskRegistry) IsCancelled(ctx context.Context, taskID string) (bool, error) {
	found, cancelled := false, false
	err := r.db.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT cancel_requested, state FROM tasks WHERE id = ?`, &sqlitex.ExecOptions{
			Args: []any{taskID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				cancelled = stmt.ColumnInt64(0) != 0 || core.TaskState(stmt.ColumnText(1)) == core.TaskCancelled
				return nil
			},
		})
	})
	if err != nil {
		return false, err
	}
	if !found {
		return false, fmt.Errorf("task %s: %w", taskID, core.ErrNotFound)
	}
	return cancelled, nil
}

// Snapshot returns a copy of the task.
func (r *TaskRegistry) Snapshot(ctx context.Context, taskID string) (*core.Task, error) {
	var out *core.Task
	err := r.db.read(ctx, func(conn *sqlite.Conn) error {
		t, err := r.load(conn, taskID)
		out = t
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListBySession returns the session's tasks in creation order.
func (r *TaskRegistry) ListBySession(ctx context.Context, sessionID string) ([]*core.Task, error) {
	res := make([]*core.Task, 0)
	err := r.db.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+taskColumns+` FROM tasks WHERE session_id = ? ORDER BY rowid`, &sqlitex.ExecOptions{
			Args: []any{sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				t, err := r.scan(stmt)
				if err != nil {
					return err
				}
				res = append(res, t)
				return nil
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Prune removes terminal tasks last updated before now-olderThan and reports
// how many were removed.
func (r *TaskRegistry) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := r.db.clock().UTC().Add(-olderThan).UnixNano()

	removed := 0
	err := r.db.write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`DELETE FROM tasks WHERE state IN (?, ?, ?) AND updated_at < ?`,
			&sqlitex.ExecOptions{Args: []any{
				string(core.TaskCompleted), string(core.TaskFailed), string(core.TaskCancelled), cutoff,
			}})
		if err != nil {
			return fmt.Errorf("prune tasks: %w", err)
		}
		removed = conn.Changes()
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		r.db.logger.Info("pruned terminal tasks", "count", removed, "older_than", olderThan)
	}
	return removed, nil
}

// mutate loads the task, applies fn and writes it back when fn reports a
// change, all inside one IMMEDIATE transaction.
func (r *TaskRegistry) mutate(ctx context.Context, taskID string, fn func(t *core.Task, now time.Time) (bool, error)) (*core.Task, error) {
	var out *core.Task
	err := r.db.write(ctx, func(conn *sqlite.Conn) error {
		t, err := r.load(conn, taskID)
		if err != nil {
			return err
		}
		out = t

		changed, err := fn(t, fromNanos(r.db.now()))
		if err != nil || !changed {
			return err
		}
		return r.save(conn, t)
	})
	if err != nil {
		return out, err
	}
	return out, nil
}

func (r *TaskRegistry) load(conn *sqlite.Conn, taskID string) (*core.Task, error) {
	var t *core.Task
	err := sqlitex.Execute(conn, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{taskID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			var err error
			t, err = r.scan(stmt)
			return err
		},
	})
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}
	if t == nil {
		return nil, fmt.Errorf("task %s: %w", taskID, core.ErrNotFound)
	}
	return t, nil
}

func (r *TaskRegistry) save(conn *sqlite.Conn, t *core.Task) error {
	md, err := r.encodeMetadata(t.Metadata)
	if err != nil {
		return err
	}
	err = sqlitex.Execute(conn,
		`UPDATE tasks SET state = ?, cancel_requested = ?, progress = ?, stage = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{
			string(t.State), boolInt(t.CancelRequested), t.Progress, t.Stage, md, t.UpdatedAt.UnixNano(), t.ID,
		}})
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

func (r *TaskRegistry) scan(stmt *sqlite.Stmt) (*core.Task, error) {
	t := &core.Task{
		ID:              stmt.ColumnText(0),
		SessionID:       stmt.ColumnText(1),
		State:           core.TaskState(stmt.ColumnText(2)),
		CancelRequested: stmt.ColumnInt64(3) != 0,
		Progress:        stmt.ColumnFloat(4),
		Stage:           stmt.ColumnText(5),
		CreatedAt:       fromNanos(stmt.ColumnInt64(7)),
		UpdatedAt:       fromNanos(stmt.ColumnInt64(8)),
		Metadata:        map[string]string{},
	}
	if !stmt.ColumnIsNull(6) {
		if err := r.db.unmarshalColumn(stmt, 6, &t.Metadata); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (r *TaskRegistry) encodeMetadata(md map[string]string) (any, error) {
	if len(md) == 0 {
		return nil, nil
	}
	return r.db.marshal(md)
}
