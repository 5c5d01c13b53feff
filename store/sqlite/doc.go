// Package sqlite provides durable implementations of core.TaskRegistry and
// core.SessionStore on a pooled SQLite database (zombiezen.com/go/sqlite).
//
// Every mutation runs in its own IMMEDIATE transaction, so updates to a
// task or session are atomic across processes sharing the database file.
// Task metadata and conversation state are stored as deterministic CBOR.
//
//	db, err := sqlite.Open(sqlite.Config{Path: "relay.db"})
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	orch := orchestrator.New(r, func(o *orchestrator.Options) {
//		o.Tasks = db.Tasks()
//		o.Sessions = db.Sessions()
//	})
package sqlite
