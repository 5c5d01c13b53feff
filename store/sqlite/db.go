package sqlite

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/hupe1980/agentrelay/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id               TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL,
	state            TEXT NOT NULL,
	cancel_requested INTEGER NOT NULL DEFAULT 0,
	progress         REAL NOT NULL DEFAULT 0,
	stage            TEXT NOT NULL DEFAULT '',
	metadata         BLOB,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS tasks_session ON tasks (session_id);
CREATE INDEX IF NOT EXISTS tasks_updated ON tasks (state, updated_at);

CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	last_activity INTEGER NOT NULL,
	conversation  BLOB
);

CREATE TABLE IF NOT EXISTS turns (
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (session_id, seq)
);
`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=OFF",
	"PRAGMA temp_store=MEMORY",
}

// Config holds the parameters for opening a database.
type Config struct {
	// Path to the database file; created when missing.
	Path string
	// PoolSize defaults to 4.
	PoolSize int
	// Clock returns the current time; defaults to time.Now.
	Clock  func() time.Time
	Logger logging.Logger
}

// DB is a connection pool with the relay schema applied.
type DB struct {
	pool   *sqlitex.Pool
	path   string
	clock  func() time.Time
	logger logging.Logger
	enc    cbor.EncMode
	dec    cbor.DecMode
}

// Open creates the pool and ensures the schema exists. The caller must call
// Close when done.
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite: Path is required")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("sqlite: cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("sqlite: cbor decoder: %w", err)
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    cfg.PoolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening %s: %w", cfg.Path, err)
	}

	db := &DB{
		pool:   pool,
		path:   cfg.Path,
		clock:  cfg.Clock,
		logger: logging.OrNoOp(cfg.Logger),
		enc:    enc,
		dec:    dec,
	}

	if err := db.migrate(context.Background()); err != nil {
		_ = pool.Close()
		return nil, err
	}
	db.logger.Info("sqlite store opened", "path", cfg.Path, "pool_size", cfg.PoolSize)

	return db, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, p := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, p, nil); err != nil {
			return fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	return nil
}

func (db *DB) migrate(ctx context.Context) error {
	conn, err := db.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: take: %w", err)
	}
	defer db.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("sqlite: creating schema: %w", err)
	}
	return nil
}

// Close closes all connections. It blocks until borrowed connections are
// returned.
func (db *DB) Close() error {
	if err := db.pool.Close(); err != nil {
		return fmt.Errorf("sqlite: closing %s: %w", db.path, err)
	}
	db.logger.Info("sqlite store closed", "path", db.path)
	return nil
}

// Tasks returns the TaskRegistry backed by db.
func (db *DB) Tasks() *TaskRegistry { return &TaskRegistry{db: db} }

// Sessions returns the SessionStore backed by db.
func (db *DB) Sessions() *SessionStore { return &SessionStore{db: db} }

// read runs fn on a pooled connection inside a deferred transaction so
// multi-statement reads see one snapshot.
func (db *DB) read(ctx context.Context, fn func(conn *sqlite.Conn) error) (err error) {
	conn, err := db.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: take: %w", err)
	}
	defer db.pool.Put(conn)

	end := sqlitex.Transaction(conn)
	defer end(&err)

	return fn(conn)
}

// write runs fn inside an IMMEDIATE transaction; fn's error rolls it back.
func (db *DB) write(ctx context.Context, fn func(conn *sqlite.Conn) error) (err error) {
	conn, err := db.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: take: %w", err)
	}
	defer db.pool.Put(conn)

	end, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlite: begin transaction: %w", err)
	}
	defer end(&err)

	return fn(conn)
}

func (db *DB) now() int64 { return db.clock().UTC().UnixNano() }

func (db *DB) marshal(v any) ([]byte, error) {
	b, err := db.enc.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("sqlite: encode: %w", err)
	}
	return b, nil
}

func (db *DB) unmarshalColumn(stmt *sqlite.Stmt, col int, v any) error {
	blob := make([]byte, stmt.ColumnLen(col))
	stmt.ColumnBytes(col, blob)
	if err := db.dec.Unmarshal(blob, v); err != nil {
		return fmt.Errorf("sqlite: decode: %w", err)
	}
	return nil
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
