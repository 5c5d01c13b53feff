// Package orchestrator wires the task registry, session store,
// conversation coordinator and execution router into the request-level
// engine.
//
// Execute runs one task on its own goroutine and returns a buffered event
// stream that is closed when the run ends. Runs for the same session are
// serialised by a per-session lock held for the whole run; runs for
// different sessions proceed in parallel. Cancel is cooperative: it flags
// the task and the running execution observes the flag at its next
// suspension point.
//
// Basic usage:
//
//	orch := orchestrator.New(responder.NewMock())
//	for ev := range orch.Execute(ctx, "task-1", "session-1", "analyze the report") {
//		fmt.Println(ev.Kind, ev.Content)
//	}
package orchestrator
