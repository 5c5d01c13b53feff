// Package session houses the in-memory implementation of core.SessionStore.
// The interface itself (and the Session struct) live in the core package to
// centralize domain contracts, so higher level packages (conversation,
// execution, orchestrator) never depend on concrete storage.
//
// Durable backends live elsewhere (see store/sqlite); only the wiring layer
// decides which implementation to instantiate.
package session
