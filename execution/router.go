// Package execution implements the ExecutionRouter: it classifies a prompt
// into the short or long path, emits checkpoint progress for long work,
// invokes the Responder on a bounded pool (optionally streaming) and checks
// cooperative cancellation at every suspension point.
package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/metrics"
)

// TracerName is the instrumentation scope used when no tracer is supplied.
const TracerName = "github.com/hupe1980/agentrelay/execution"

// Path is the execution strategy chosen for a prompt.
type Path string

const (
	// PathShort invokes the Responder directly.
	PathShort Path = "short"
	// PathLong reports checkpoints before invoking the Responder.
	PathLong Path = "long"
)

// Checkpoint is one progress step of the long path.
type Checkpoint struct {
	Stage    string
	Progress float64
	Status   string
}

// Options configures a Router.
type Options struct {
	// LongKeywords switch a prompt to the long path (case-insensitive substring).
	LongKeywords []string
	// Checkpoints are emitted in order on the long path.
	Checkpoints []Checkpoint
	// Streaming uses StreamResponder when the Responder supports it.
	Streaming bool
	// Workers bounds concurrent Responder calls.
	Workers int64
	// ContextTurns of prior history prefixed to the prompt; 0 disables.
	ContextTurns int

	Logger  logging.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

// DefaultOptions returns the stock keywords and checkpoints.
func DefaultOptions() Options {
	return Options{
		LongKeywords: []string{"analyze", "research", "report", "comprehensive", "detailed", "complex", "in-depth"},
		Checkpoints: []Checkpoint{
			{Stage: "analyzing", Progress: 0.2, Status: "Analyzing request"},
			{Stage: "planning", Progress: 0.4, Status: "Planning approach"},
			{Stage: "executing", Progress: 0.6, Status: "Generating response"},
		},
		Workers:      8,
		ContextTurns: 4,
		Logger:       logging.NoOpLogger{},
	}
}

// Emitter receives the events produced while a task executes.
type Emitter func(core.Event)

// Router runs prompts against the Responder.
type Router struct {
	opts      Options
	tasks     core.TaskRegistry
	sessions  core.SessionStore
	responder core.Responder
	pool      *Pool
	keywords  []string
	logger    logging.Logger
	tracer    trace.Tracer
}

// New creates a Router.
func New(tasks core.TaskRegistry, sessions core.SessionStore, responder core.Responder, optFns ...func(o *Options)) *Router {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	r := &Router{
		opts:      opts,
		tasks:     tasks,
		sessions:  sessions,
		responder: responder,
		pool:      NewPool(opts.Workers),
		logger:    logging.OrNoOp(opts.Logger),
		tracer:    opts.Tracer,
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(TracerName)
	}
	for _, k := range opts.LongKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			r.keywords = append(r.keywords, k)
		}
	}

	return r
}

// Classify picks the path for prompt. It depends on the text only.
func (r *Router) Classify(prompt string) Path {
	lower := strings.ToLower(prompt)
	for _, k := range r.keywords {
		if strings.Contains(lower, k) {
			return PathLong
		}
	}
	return PathShort
}

// Execute runs prompt for the task and returns the final output. It returns
// core.ErrCancellationRequested when cancellation was observed at a
// suspension point and a *core.ExecutionError when the Responder failed. On
// success the output is appended to the session as an assistant turn.
func (r *Router) Execute(ctx context.Context, taskID, sessionID, prompt string, emit Emitter) (string, error) {
	path := r.Classify(prompt)
	logger := r.logger

	if path == PathLong {
		for _, cp := range r.opts.Checkpoints {
			if err := r.checkCancelled(ctx, taskID); err != nil {
				return "", err
			}
			if _, err := r.tasks.UpdateProgress(ctx, taskID, cp.Progress, cp.Stage); err != nil {
				return "", fmt.Errorf("record checkpoint %s: %w", cp.Stage, err)
			}
			emit(core.NewProgressEvent(taskID, sessionID, cp.Progress, cp.Stage, cp.Status))
			logger.Debug("checkpoint reached", "task_id", taskID, "stage", cp.Stage, "progress", cp.Progress)
		}
	}

	full, err := r.withContext(ctx, sessionID, prompt)
	if err != nil {
		return "", err
	}

	if err := r.checkCancelled(ctx, taskID); err != nil {
		return "", err
	}

	output, err := r.invoke(ctx, path, taskID, sessionID, full, emit)
	if err != nil {
		if core.IsCancellation(err) {
			return "", err
		}
		return "", core.NewExecutionError(taskID, err)
	}

	// a cancel that arrived during the call wins over its output
	if err := r.checkCancelled(ctx, taskID); err != nil {
		return "", err
	}

	emit(core.NewMessageEvent(taskID, sessionID, output, false))
	if err := r.sessions.AppendTurn(ctx, sessionID, core.NewTurn(core.RoleAssistant, output)); err != nil {
		return "", fmt.Errorf("record assistant turn: %w", err)
	}

	return output, nil
}

func (r *Router) invoke(ctx context.Context, path Path, taskID, sessionID, prompt string, emit Emitter) (output string, err error) {
	sr, canStream := r.responder.(core.StreamResponder)
	streamed := r.opts.Streaming && canStream

	ctx, span := r.tracer.Start(ctx, "agentrelay.responder", trace.WithAttributes(
		attribute.String("agentrelay.task_id", taskID),
		attribute.String("agentrelay.session_id", sessionID),
		attribute.String("agentrelay.path", string(path)),
		attribute.Bool("agentrelay.streamed", streamed),
	))
	start := time.Now()

	defer func() {
		dur := time.Since(start)
		status := "ok"
		switch {
		case core.IsCancellation(err):
			status = "cancelled"
			span.SetAttributes(attribute.Bool("agentrelay.cancelled", true))
		case err != nil:
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		default:
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		r.opts.Metrics.ObserveResponder(string(path), status, dur)
		if rl, ok := r.logger.(*logging.RelayLogger); ok {
			rl.WithTask(sessionID, taskID).LogResponderCall(string(path), streamed, dur, err)
		} else {
			r.logger.Debug("responder call finished", "task_id", taskID, "path", path, "status", status, "duration", dur)
		}
	}()

	if streamed {
		return r.stream(ctx, sr, taskID, sessionID, prompt, emit)
	}

	return r.pool.Run(ctx, func() (string, error) {
		return r.responder.Respond(ctx, prompt, sessionID)
	})
}

func (r *Router) stream(ctx context.Context, sr core.StreamResponder, taskID, sessionID, prompt string, emit Emitter) (string, error) {
	release, err := r.pool.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	streamCtx, stop := context.WithCancel(ctx)
	defer stop()

	frags, errs := sr.Stream(streamCtx, prompt, sessionID)

	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return "", err
			}
		case frag, ok := <-frags:
			if !ok {
				if errs != nil {
					if err := <-errs; err != nil {
						return "", err
					}
				}
				return b.String(), nil
			}
			if err := r.checkCancelled(ctx, taskID); err != nil {
				return "", err
			}
			b.WriteString(frag)
			emit(core.NewMessageEvent(taskID, sessionID, frag, true))
		}
	}
}

// withContext prefixes prompt with recent history. The inbound user turn was
// recorded last and is skipped.
func (r *Router) withContext(ctx context.Context, sessionID, prompt string) (string, error) {
	if r.opts.ContextTurns <= 0 {
		return prompt, nil
	}

	turns, err := r.sessions.RecentContext(ctx, sessionID, r.opts.ContextTurns+1)
	if err != nil {
		return "", fmt.Errorf("load session context: %w", err)
	}
	if n := len(turns); n > 0 && turns[n-1].Role == core.RoleUser {
		turns = turns[:n-1]
	}
	if len(turns) > r.opts.ContextTurns {
		turns = turns[len(turns)-r.opts.ContextTurns:]
	}
	if len(turns) == 0 {
		return prompt, nil
	}

	var b strings.Builder
	b.WriteString("Previous context:\n")
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		switch t.Role {
		case core.RoleUser:
			b.WriteString("User: ")
		default:
			b.WriteString("Assistant: ")
		}
		b.WriteString(t.Content)
	}
	b.WriteString("\n\nCurrent: ")
	b.WriteString(prompt)

	return b.String(), nil
}

func (r *Router) checkCancelled(ctx context.Context, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cancelled, err := r.tasks.IsCancelled(ctx, taskID)
	if err != nil {
		return fmt.Errorf("check cancellation: %w", err)
	}
	if cancelled {
		return core.ErrCancellationRequested
	}
	return nil
}
