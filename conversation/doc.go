// Package conversation implements the multi-turn clarification flow.
//
// A Coordinator decides with a deterministic heuristic whether an input needs
// clarification, then walks the session through
//
//	idle -> collecting_info -> confirmation -> idle
//
// asking for each required field in order, summarising what was collected
// and waiting for an explicit yes/no before execution proceeds. The state
// lives in the core.SessionStore and is cleared exactly when the flow returns
// to idle.
package conversation
