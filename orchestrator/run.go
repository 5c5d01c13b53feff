package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentrelay/conversation"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// job is one unit of work accepted by start.
type job struct {
	taskID       string
	sessionID    string
	userID       string
	input        string
	systemPrompt string
	metadata     map[string]string
	// direct skips the clarification flow.
	direct bool
}

// run is the state of a single execution. It is confined to its goroutine.
type run struct {
	job
	o      *Orchestrator
	ctx    context.Context
	out    chan<- core.Event
	logger logging.Logger

	span     trace.Span
	terminal core.EventKind
}

func (r *run) execute() {
	r.ctx, r.span = r.o.tracer.Start(r.ctx, "agentrelay.execute", trace.WithAttributes(
		attribute.String("agentrelay.task_id", r.taskID),
		attribute.String("agentrelay.session_id", r.sessionID),
	))
	defer r.span.End()

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("run panicked: %v", p)
			if rl, ok := r.logger.(*logging.RelayLogger); ok {
				rl.ErrorWithStack(err, "recovered from panic")
			} else {
				r.logger.Error("recovered from panic", "task_id", r.taskID, "error", err)
			}
			if r.terminal == "" {
				r.failed([]string{r.taskID}, err)
			}
		}
		if r.terminal != "" {
			r.span.SetAttributes(attribute.String("agentrelay.outcome", string(r.terminal)))
		}
	}()

	t, err := r.o.tasks.Create(r.ctx, r.taskID, r.sessionID, r.metadata)
	switch {
	case err != nil:
		r.emit(core.NewErrorEvent(core.EventError, r.taskID, r.sessionID, fmt.Errorf("create task: %w", err)))
		return
	case t.SessionID != r.sessionID:
		r.emit(core.NewErrorEvent(core.EventError, r.taskID, r.sessionID,
			fmt.Errorf("task %s belongs to session %s: %w", r.taskID, t.SessionID, core.ErrInvalidState)))
		return
	case t.State.IsTerminal():
		r.emit(core.NewErrorEvent(core.EventError, r.taskID, r.sessionID,
			fmt.Errorf("task %s is already %s: %w", r.taskID, t.State, core.ErrInvalidState)))
		return
	}

	if _, err := r.o.tasks.UpdateStatus(r.ctx, r.taskID, core.TaskWorking, nil); err != nil {
		r.failed([]string{r.taskID}, fmt.Errorf("start task: %w", err))
		return
	}
	r.transitioned(t.State, core.TaskWorking)
	r.emit(core.NewEvent(core.EventStarted, r.taskID, r.sessionID))

	r.o.metrics.IncActive()
	defer r.o.metrics.DecActive()

	unlock, err := r.o.locks.Lock(r.ctx, r.sessionID)
	if err != nil {
		r.cancelled([]string{r.taskID})
		return
	}
	defer unlock()

	// A duplicate delivery may have waited on the lock while the first
	// run finished the task.
	snap, err := r.o.tasks.Snapshot(r.ctx, r.taskID)
	switch {
	case err != nil:
		r.failed([]string{r.taskID}, fmt.Errorf("check task: %w", err))
		return
	case snap.IsCancelled():
		r.cancelled([]string{r.taskID})
		return
	case snap.State.IsTerminal():
		r.emit(core.NewErrorEvent(core.EventError, r.taskID, r.sessionID,
			fmt.Errorf("task %s is already %s: %w", r.taskID, snap.State, core.ErrInvalidState)))
		return
	}

	if _, err := r.o.sessions.Ensure(r.ctx, r.sessionID, r.userID); err != nil {
		r.failed([]string{r.taskID}, fmt.Errorf("ensure session: %w", err))
		return
	}
	if err := r.o.sessions.AppendTurn(r.ctx, r.sessionID, core.NewTurn(core.RoleUser, r.input)); err != nil {
		r.failed([]string{r.taskID}, fmt.Errorf("record user turn: %w", err))
		return
	}

	if !r.direct {
		handled, err := r.converse()
		if err != nil {
			r.failed([]string{r.taskID}, err)
			return
		}
		if handled {
			return
		}
	}

	r.route([]string{r.taskID}, r.input)
}

// converse drives the clarification flow and reports whether it handled the
// input.
func (r *run) converse() (bool, error) {
	state, err := r.o.sessions.ConversationState(r.ctx, r.sessionID)
	if err != nil {
		return false, fmt.Errorf("load conversation: %w", err)
	}

	if state != nil {
		abandoned, err := r.abandonIfCancelled(state)
		if err != nil {
			return false, err
		}
		if !abandoned {
			return true, r.resume()
		}
	}

	a := r.o.coordinator.Analyze(r.input)
	if !a.NeedsClarification {
		return false, nil
	}
	if _, err := r.o.coordinator.Start(r.ctx, r.sessionID, r.taskID, r.input, a); err != nil {
		return false, err
	}
	r.o.metrics.IncClarification(string(conversation.ActionAsk))

	return true, r.clarify(a.ClarificationPrompt, core.StageCollectingInfo, conversation.ActionAsk)
}

// abandonIfCancelled clears a conversation one of whose tasks was cancelled
// or removed and cancels the remaining participants.
func (r *run) abandonIfCancelled(state *core.ConversationState) (bool, error) {
	var live []string
	abandoned := false
	for _, id := range state.TaskIDs {
		t, err := r.o.tasks.Snapshot(r.ctx, id)
		switch {
		case errors.Is(err, core.ErrNotFound):
			abandoned = true
		case err != nil:
			return false, fmt.Errorf("inspect conversation task %s: %w", id, err)
		case t.State.IsTerminal():
			abandoned = true
		default:
			live = append(live, id)
		}
	}
	if !abandoned {
		return false, nil
	}

	if err := r.o.coordinator.Abandon(r.ctx, r.sessionID); err != nil {
		return false, fmt.Errorf("abandon conversation: %w", err)
	}
	for _, id := range live {
		if _, err := r.o.tasks.RequestCancel(r.ctx, id); err != nil {
			return false, fmt.Errorf("cancel conversation task %s: %w", id, err)
		}
	}
	r.logger.Info("conversation abandoned", "session_id", r.sessionID, "cancelled_tasks", live)

	return true, nil
}

func (r *run) resume() error {
	outcome, err := r.o.coordinator.Continue(r.ctx, r.sessionID, r.taskID, r.input)
	if err != nil {
		return err
	}
	r.o.metrics.IncClarification(string(outcome.Action))

	switch outcome.Action {
	case conversation.ActionProceed:
		r.route(outcome.TaskIDs, outcome.Request)
	case conversation.ActionAbort:
		r.cancelled(outcome.TaskIDs)
	default:
		return r.clarify(outcome.Prompt, outcome.State.Stage, outcome.Action)
	}
	return nil
}

// clarify records the prompt as an assistant turn and asks the user. The
// task stays working.
func (r *run) clarify(prompt string, stage core.ConversationStage, action conversation.Action) error {
	if err := r.o.sessions.AppendTurn(r.ctx, r.sessionID, core.NewTurn(core.RoleAssistant, prompt)); err != nil {
		return fmt.Errorf("record clarification: %w", err)
	}

	ev := core.NewEvent(core.EventClarificationRequest, r.taskID, r.sessionID)
	ev.Content = prompt
	ev.Stage = string(stage)
	ev.Metadata = map[string]any{"action": string(action)}
	r.emit(ev)
	r.span.SetAttributes(attribute.String("agentrelay.outcome", string(core.EventClarificationRequest)))

	return nil
}

// route executes prompt and resolves every task in ids to the same final
// state.
func (r *run) route(ids []string, prompt string) {
	if r.systemPrompt != "" {
		prompt = r.systemPrompt + "\n\n" + prompt
	}

	output, err := r.o.router.Execute(r.ctx, r.taskID, r.sessionID, prompt, r.emit)
	switch {
	case err == nil:
		r.completed(ids, output)
	case core.IsCancellation(err):
		r.cancelled(ids)
	default:
		r.failed(ids, err)
	}
}

func (r *run) completed(ids []string, output string) {
	snap, err := r.resolve(ids, core.TaskCompleted, nil)
	if err != nil {
		r.emitTerminal(core.NewErrorEvent(core.EventError, r.taskID, r.sessionID, err))
		return
	}
	if snap.IsCancelled() {
		r.emitTerminal(core.NewEvent(core.EventCancelled, r.taskID, r.sessionID))
		return
	}

	r.emit(core.NewProgressEvent(r.taskID, r.sessionID, 1.0, string(core.TaskCompleted), "Completed"))
	ev := core.NewEvent(core.EventCompleted, r.taskID, r.sessionID)
	ev.Content = output
	r.emitTerminal(ev)
}

func (r *run) cancelled(ids []string) {
	if _, err := r.resolve(ids, core.TaskCancelled, nil); err != nil {
		r.logger.Warn("failed to record cancellation", "task_id", r.taskID, "error", err)
	}
	r.emitTerminal(core.NewEvent(core.EventCancelled, r.taskID, r.sessionID))
}

func (r *run) failed(ids []string, cause error) {
	if core.IsCancellation(cause) {
		r.cancelled(ids)
		return
	}
	r.logger.Error("task failed", "task_id", r.taskID, "session_id", r.sessionID, "error", cause)
	r.span.RecordError(cause)
	r.span.SetStatus(codes.Error, cause.Error())

	snap, err := r.resolve(ids, core.TaskFailed, map[string]string{"error": cause.Error()})
	if err == nil && snap.IsCancelled() {
		r.emitTerminal(core.NewEvent(core.EventCancelled, r.taskID, r.sessionID))
		return
	}
	r.emitTerminal(core.NewErrorEvent(core.EventError, r.taskID, r.sessionID, cause))
}

// resolve moves every task in ids to state and returns the snapshot of the
// task being run. It uses a context detached from caller cancellation so the
// final state is recorded even after the caller went away.
func (r *run) resolve(ids []string, state core.TaskState, metadata map[string]string) (*core.Task, error) {
	ctx := context.WithoutCancel(r.ctx)

	var (
		own    *core.Task
		ownErr error
	)
	for _, id := range ids {
		t, err := r.o.tasks.UpdateStatus(ctx, id, state, metadata)
		if id == r.taskID {
			own, ownErr = t, err
			continue
		}
		if err != nil {
			r.logger.Warn("failed to resolve participant task", "task_id", id, "state", state, "error", err)
		}
	}
	if own == nil && ownErr == nil {
		own, ownErr = r.o.tasks.UpdateStatus(ctx, r.taskID, state, metadata)
	}
	if ownErr != nil {
		return nil, fmt.Errorf("resolve task %s: %w", r.taskID, ownErr)
	}
	r.transitioned(core.TaskWorking, own.State)

	return own, nil
}

func (r *run) transitioned(from, to core.TaskState) {
	if rl, ok := r.logger.(*logging.RelayLogger); ok {
		rl.LogTransition(r.taskID, string(from), string(to))
	}
}

func (r *run) emitTerminal(ev core.Event) {
	state := core.TaskFailed
	switch ev.Kind {
	case core.EventCompleted:
		state = core.TaskCompleted
	case core.EventCancelled:
		state = core.TaskCancelled
	}
	r.o.metrics.IncTask(string(state))
	r.emit(ev)
}

// emit delivers ev. Once the caller's context is done it only delivers
// while buffer space remains.
func (r *run) emit(ev core.Event) {
	if ev.IsTerminal() {
		r.terminal = ev.Kind
	}
	r.o.metrics.IncEvent(string(ev.Kind))

	select {
	case r.out <- ev:
		return
	default:
	}

	select {
	case r.out <- ev:
	case <-r.ctx.Done():
		r.logger.Warn("dropping event, consumer gone", "task_id", r.taskID, "kind", ev.Kind)
	}
}
