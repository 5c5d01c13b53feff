package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentrelay/conversation"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/execution"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/metrics"
	"github.com/hupe1980/agentrelay/session"
	"github.com/hupe1980/agentrelay/task"
)

// TracerName is the instrumentation scope used when no tracer is supplied.
const TracerName = "github.com/hupe1980/agentrelay"

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// Tasks defaults to an in-memory registry.
	Tasks core.TaskRegistry
	// Sessions defaults to an in-memory store.
	Sessions core.SessionStore
	// ConversationOptions tune the clarification flow.
	ConversationOptions []func(o *conversation.Options)
	// ExecutionOptions tune the router (keywords, checkpoints, streaming, workers).
	ExecutionOptions []func(o *execution.Options)
	// EventBufferSize sets channel buffering for events.
	EventBufferSize int
	// DefaultUserID is used when a request does not name a user.
	DefaultUserID string

	Logger  logging.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

// Orchestrator runs tasks against a Responder. Public methods are safe for
// concurrent use.
type Orchestrator struct {
	tasks       core.TaskRegistry
	sessions    core.SessionStore
	coordinator *conversation.Coordinator
	router      *execution.Router
	locks       *keyedLock

	bufferSize    int
	defaultUserID string

	logger  logging.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	wg sync.WaitGroup
}

// New constructs an Orchestrator with optional overrides.
func New(responder core.Responder, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		EventBufferSize: 100,
		DefaultUserID:   core.DefaultUserID,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	base := logging.OrNoOp(opts.Logger)
	logger := logging.ForComponent(base, "orchestrator")
	if opts.Tasks == nil {
		opts.Tasks = task.NewInMemoryRegistry(func(o *task.Options) { o.Logger = logging.ForComponent(base, "tasks") })
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewInMemoryStore()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(TracerName)
	}
	if opts.EventBufferSize <= 0 {
		opts.EventBufferSize = 100
	}
	if opts.DefaultUserID == "" {
		opts.DefaultUserID = core.DefaultUserID
	}

	convFns := append([]func(o *conversation.Options){func(o *conversation.Options) {
		o.Logger = logging.ForComponent(base, "conversation")
	}}, opts.ConversationOptions...)

	execFns := append([]func(o *execution.Options){func(o *execution.Options) {
		o.Logger = logging.ForComponent(base, "router")
		o.Metrics = opts.Metrics
		o.Tracer = opts.Tracer
	}}, opts.ExecutionOptions...)

	return &Orchestrator{
		tasks:         opts.Tasks,
		sessions:      opts.Sessions,
		coordinator:   conversation.New(opts.Sessions, convFns...),
		router:        execution.New(opts.Tasks, opts.Sessions, responder, execFns...),
		locks:         newKeyedLock(),
		bufferSize:    opts.EventBufferSize,
		defaultUserID: opts.DefaultUserID,
		logger:        logger,
		metrics:       opts.Metrics,
		tracer:        opts.Tracer,
	}
}

// Execute starts processing input for the task and returns its event stream.
// The channel is closed after the run ends: either after a terminal event
// (completed, cancelled, error) or after a clarification_request, in which
// case the task stays working until a later input resolves it.
func (o *Orchestrator) Execute(ctx context.Context, taskID, sessionID, input string) <-chan core.Event {
	return o.start(ctx, job{
		taskID:    taskID,
		sessionID: sessionID,
		userID:    o.defaultUserID,
		input:     input,
	})
}

// ExecuteSync runs Execute and collects the whole stream.
func (o *Orchestrator) ExecuteSync(ctx context.Context, taskID, sessionID, input string) []core.Event {
	var events []core.Event
	for ev := range o.Execute(ctx, taskID, sessionID, input) {
		events = append(events, ev)
	}
	return events
}

func (o *Orchestrator) start(ctx context.Context, j job) <-chan core.Event {
	out := make(chan core.Event, o.bufferSize)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(out)

		r := &run{o: o, job: j, ctx: ctx, out: out, logger: o.logger}
		if rl, ok := o.logger.(*logging.RelayLogger); ok {
			r.logger = rl.WithTask(j.sessionID, j.taskID)
		}
		r.execute()
	}()

	return out
}

// Cancel requests cooperative cancellation of a task and returns the
// acknowledgement. It never fails: problems are reported as not_found,
// invalid_state or error events.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) core.Event {
	ev := o.cancel(ctx, taskID)
	o.metrics.IncEvent(string(ev.Kind))
	o.metrics.IncCancel(string(ev.Kind))
	o.logger.Info("cancel requested", "task_id", taskID, "result", ev.Kind)
	return ev
}

func (o *Orchestrator) cancel(ctx context.Context, taskID string) core.Event {
	snap, err := o.tasks.Snapshot(ctx, taskID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		return core.NewErrorEvent(core.EventNotFound, taskID, "", err)
	case err != nil:
		return core.NewErrorEvent(core.EventError, taskID, "", err)
	case snap.State.IsTerminal():
		return invalidState(snap)
	}

	found, err := o.tasks.RequestCancel(ctx, taskID)
	if err != nil {
		return core.NewErrorEvent(core.EventError, taskID, snap.SessionID, err)
	}
	if !found {
		return core.NewErrorEvent(core.EventNotFound, taskID, snap.SessionID,
			fmt.Errorf("task %s: %w", taskID, core.ErrNotFound))
	}

	// the task may have finished between the two calls
	snap, err = o.tasks.Snapshot(ctx, taskID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		return core.NewErrorEvent(core.EventNotFound, taskID, "", err)
	case err != nil:
		return core.NewErrorEvent(core.EventError, taskID, "", err)
	case !snap.IsCancelled():
		return invalidState(snap)
	}

	ev := core.NewEvent(core.EventCancelAcknowledged, taskID, snap.SessionID)
	ev.Metadata = map[string]any{"state": string(snap.State)}
	return ev
}

func invalidState(t *core.Task) core.Event {
	ev := core.NewErrorEvent(core.EventInvalidState, t.ID, t.SessionID,
		fmt.Errorf("task %s is already %s: %w", t.ID, t.State, core.ErrInvalidState))
	ev.Metadata = map[string]any{"state": string(t.State)}
	return ev
}

// Snapshot returns a copy of the task.
func (o *Orchestrator) Snapshot(ctx context.Context, taskID string) (*core.Task, error) {
	return o.tasks.Snapshot(ctx, taskID)
}

// Tasks lists the tasks of a session in creation order.
func (o *Orchestrator) Tasks(ctx context.Context, sessionID string) ([]*core.Task, error) {
	return o.tasks.ListBySession(ctx, sessionID)
}

// Session returns a copy of the session including its history.
func (o *Orchestrator) Session(ctx context.Context, sessionID string) (*core.Session, error) {
	return o.sessions.Get(ctx, sessionID)
}

// SessionSummary returns turn counts and the conversation status of a session.
func (o *Orchestrator) SessionSummary(ctx context.Context, sessionID string) (core.SessionSummary, error) {
	s, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return core.SessionSummary{}, err
	}
	return s.Summary(), nil
}

// Wait blocks until all runs started so far have finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }
