// Package core provides the foundational domain types and interfaces used by
// agentrelay. It defines the core abstractions for:
//
//   - Tasks (one unit of request processing with an explicit lifecycle)
//   - Sessions (conversation containers spanning many tasks over time)
//   - Conversation state for the multi-turn clarification flow
//   - Events (ordered, immutable records streamed back to callers)
//   - Requests (the tagged chat / lifecycle / task variants accepted at the boundary)
//   - Pluggable stores for tasks and sessions plus the external Responder
//
// The package keeps implementation concerns (persistence, routing,
// orchestration) out of scope and exposes small interfaces so custom backends
// can be substituted without changing the contracts.
package core
