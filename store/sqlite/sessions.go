package sqlite

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/hupe1980/agentrelay/core"
)

var _ core.SessionStore = (*SessionStore)(nil)

// SessionStore is a core.SessionStore persisted in SQLite. Turns live in
// their own table keyed by a per-session sequence number.
type SessionStore struct {
	db *DB
}

// Ensure returns the session, creating it when absent.
func (s *SessionStore) Ensure(ctx context.Context, sessionID, userID string) (*core.Session, error) {
	var out *core.Session
	err := s.db.write(ctx, func(conn *sqlite.Conn) error {
		if err := s.insertIfMissing(conn, sessionID, userID); err != nil {
			return err
		}
		sess, err := s.load(conn, sessionID)
		out = sess
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a copy of an existing session.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	var out *core.Session
	err := s.db.read(ctx, func(conn *sqlite.Conn) error {
		sess, err := s.load(conn, sessionID)
		out = sess
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendTurn records a turn, lazily creating the session.
func (s *SessionStore) AppendTurn(ctx context.Context, sessionID string, turn core.Turn) error {
	ts := turn.Timestamp.UnixNano()
	if turn.Timestamp.IsZero() {
		ts = s.db.now()
	}

	return s.db.write(ctx, func(conn *sqlite.Conn) error {
		if err := s.insertIfMissing(conn, sessionID, ""); err != nil {
			return err
		}
		err := sqlitex.Execute(conn,
			`INSERT INTO turns (session_id, seq, role, content, created_at)
			 SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ? FROM turns WHERE session_id = ?`,
			&sqlitex.ExecOptions{Args: []any{sessionID, string(turn.Role), turn.Content, ts, sessionID}})
		if err != nil {
			return fmt.Errorf("append turn to %s: %w", sessionID, err)
		}
		return s.touch(conn, sessionID, ts)
	})
}

// RecentContext returns the last limit turns oldest first. Unknown sessions
// yield an empty slice.
func (s *SessionStore) RecentContext(ctx context.Context, sessionID string, limit int) ([]core.Turn, error) {
	if limit <= 0 {
		limit = -1
	}

	turns := make([]core.Turn, 0)
	err := s.db.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT role, content, created_at FROM (
				SELECT seq, role, content, created_at FROM turns
				WHERE session_id = ? ORDER BY seq DESC LIMIT ?
			) ORDER BY seq ASC`,
			&sqlitex.ExecOptions{
				Args: []any{sessionID, limit},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					turns = append(turns, scanTurn(stmt))
					return nil
				},
			})
	})
	if err != nil {
		return nil, err
	}
	return turns, nil
}

// ConversationState returns the session's conversation state or nil.
func (s *SessionStore) ConversationState(ctx context.Context, sessionID string) (*core.ConversationState, error) {
	var state *core.ConversationState
	err := s.db.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT conversation FROM sessions WHERE id = ?`, &sqlitex.ExecOptions{
			Args: []any{sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				if stmt.ColumnIsNull(0) {
					return nil
				}
				state = &core.ConversationState{}
				return s.db.unmarshalColumn(stmt, 0, state)
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// SetConversationState stores state; nil returns the session to idle.
// Clearing the state of an unknown session is a no-op.
func (s *SessionStore) SetConversationState(ctx context.Context, sessionID string, state *core.ConversationState) error {
	var blob any
	if state != nil {
		b, err := s.db.marshal(state)
		if err != nil {
			return err
		}
		blob = b
	}

	return s.db.write(ctx, func(conn *sqlite.Conn) error {
		if state != nil {
			if err := s.insertIfMissing(conn, sessionID, ""); err != nil {
				return err
			}
		}
		err := sqlitex.Execute(conn, `UPDATE sessions SET conversation = ?, last_activity = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{blob, s.db.now(), sessionID}})
		if err != nil {
			return fmt.Errorf("save conversation for %s: %w", sessionID, err)
		}
		return nil
	})
}

// Delete removes the session and its turns. Deleting an unknown session is
// a no-op.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	return s.db.write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, `DELETE FROM turns WHERE session_id = ?`,
			&sqlitex.ExecOptions{Args: []any{sessionID}}); err != nil {
			return fmt.Errorf("delete turns of %s: %w", sessionID, err)
		}
		if err := sqlitex.Execute(conn, `DELETE FROM sessions WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{sessionID}}); err != nil {
			return fmt.Errorf("delete session %s: %w", sessionID, err)
		}
		return nil
	})
}

// Clear drops history and conversation state but keeps the session.
func (s *SessionStore) Clear(ctx context.Context, sessionID string) error {
	return s.db.write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `UPDATE sessions SET conversation = NULL, last_activity = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{s.db.now(), sessionID}})
		if err != nil {
			return fmt.Errorf("clear session %s: %w", sessionID, err)
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
		}
		if err := sqlitex.Execute(conn, `DELETE FROM turns WHERE session_id = ?`,
			&sqlitex.ExecOptions{Args: []any{sessionID}}); err != nil {
			return fmt.Errorf("clear turns of %s: %w", sessionID, err)
		}
		return nil
	})
}

func (s *SessionStore) insertIfMissing(conn *sqlite.Conn, sessionID, userID string) error {
	if userID == "" {
		userID = core.DefaultUserID
	}
	now := s.db.now()
	err := sqlitex.Execute(conn,
		`INSERT INTO sessions (id, user_id, created_at, last_activity) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		&sqlitex.ExecOptions{Args: []any{sessionID, userID, now, now}})
	if err != nil {
		return fmt.Errorf("create session %s: %w", sessionID, err)
	}
	return nil
}

func (s *SessionStore) touch(conn *sqlite.Conn, sessionID string, ts int64) error {
	err := sqlitex.Execute(conn, `UPDATE sessions SET last_activity = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{ts, sessionID}})
	if err != nil {
		return fmt.Errorf("touch session %s: %w", sessionID, err)
	}
	return nil
}

func (s *SessionStore) load(conn *sqlite.Conn, sessionID string) (*core.Session, error) {
	var sess *core.Session
	err := sqlitex.Execute(conn,
		`SELECT id, user_id, created_at, last_activity, conversation FROM sessions WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				sess = &core.Session{
					ID:           stmt.ColumnText(0),
					UserID:       stmt.ColumnText(1),
					CreatedAt:    fromNanos(stmt.ColumnInt64(2)),
					LastActivity: fromNanos(stmt.ColumnInt64(3)),
					History:      []core.Turn{},
				}
				if stmt.ColumnIsNull(4) {
					return nil
				}
				sess.Conversation = &core.ConversationState{}
				return s.db.unmarshalColumn(stmt, 4, sess.Conversation)
			},
		})
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}

	err = sqlitex.Execute(conn, `SELECT role, content, created_at FROM turns WHERE session_id = ? ORDER BY seq`,
		&sqlitex.ExecOptions{
			Args: []any{sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				sess.History = append(sess.History, scanTurn(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("load turns of %s: %w", sessionID, err)
	}
	return sess, nil
}

func scanTurn(stmt *sqlite.Stmt) core.Turn {
	return core.Turn{
		Role:      core.Role(stmt.ColumnText(0)),
		Content:   stmt.ColumnText(1),
		Timestamp: fromNanos(stmt.ColumnInt64(2)),
	}
}
