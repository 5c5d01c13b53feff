package orchestrator

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrelay/core"
)

// Handle dispatches a boundary request. Invalid requests are rejected with a
// *core.RequestError before any task or session is touched. Chat and task
// requests stream like Execute; lifecycle requests yield a single
// session_updated or error event.
func (o *Orchestrator) Handle(ctx context.Context, req core.Request) (<-chan core.Event, error) {
	if req == nil {
		return nil, &core.RequestError{Message: "missing request"}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	switch r := req.(type) {
	case core.ChatRequest:
		return o.chat(ctx, r), nil
	case *core.ChatRequest:
		return o.chat(ctx, *r), nil
	case core.TaskRequest:
		return o.task(ctx, r), nil
	case *core.TaskRequest:
		return o.task(ctx, *r), nil
	case core.LifecycleRequest:
		return o.lifecycle(ctx, r), nil
	case *core.LifecycleRequest:
		return o.lifecycle(ctx, *r), nil
	default:
		return nil, &core.RequestError{Field: "kind", Message: fmt.Sprintf("unsupported request kind %q", req.Kind())}
	}
}

func (o *Orchestrator) userOrDefault(userID string) string {
	if userID == "" {
		return o.defaultUserID
	}
	return userID
}

func (o *Orchestrator) chat(ctx context.Context, r core.ChatRequest) <-chan core.Event {
	return o.start(ctx, job{
		taskID:       r.TaskID,
		sessionID:    r.SessionID,
		userID:       o.userOrDefault(r.UserID),
		input:        r.Message,
		systemPrompt: r.SystemPrompt,
	})
}

// task runs a typed task directly; structured payloads never enter the
// clarification flow.
func (o *Orchestrator) task(ctx context.Context, r core.TaskRequest) <-chan core.Event {
	return o.start(ctx, job{
		taskID:    r.TaskID,
		sessionID: r.SessionID,
		userID:    o.userOrDefault(r.UserID),
		input:     r.Prompt(),
		metadata:  map[string]string{"task_type": r.TaskType},
		direct:    true,
	})
}

func (o *Orchestrator) lifecycle(ctx context.Context, r core.LifecycleRequest) <-chan core.Event {
	out := make(chan core.Event, 1)
	defer close(out)

	ev := o.applyLifecycle(ctx, r)
	o.metrics.IncEvent(string(ev.Kind))
	out <- ev

	return out
}

func (o *Orchestrator) applyLifecycle(ctx context.Context, r core.LifecycleRequest) core.Event {
	unlock, err := o.locks.Lock(ctx, r.SessionID)
	if err != nil {
		return core.NewErrorEvent(core.EventError, "", r.SessionID, err)
	}
	defer unlock()

	switch r.Action {
	case core.LifecycleCreated:
		_, err = o.sessions.Ensure(ctx, r.SessionID, o.userOrDefault(r.UserID))
	case core.LifecycleDeleted:
		err = o.sessions.Delete(ctx, r.SessionID)
	case core.LifecycleCleared:
		err = o.sessions.Clear(ctx, r.SessionID)
	}
	if err != nil {
		o.logger.Warn("session lifecycle failed", "session_id", r.SessionID, "action", r.Action, "error", err)
		return core.NewErrorEvent(core.EventError, "", r.SessionID, fmt.Errorf("session %s: %w", r.Action, err))
	}

	o.logger.Info("session updated", "session_id", r.SessionID, "action", r.Action)
	ev := core.NewEvent(core.EventSessionUpdated, "", r.SessionID)
	ev.Metadata = map[string]any{"action": string(r.Action)}
	return ev
}
