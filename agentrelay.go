// Package agentrelay provides a high-level façade that assembles a ready to
// use Orchestrator from a config.Config: the Responder backend, the task and
// session stores, metrics and logging. Most applications interact with this
// package by:
//  1. Loading a configuration via config.Load
//  2. Creating a Relay via New (optionally overriding the Responder)
//  3. Calling Execute / Cancel / Handle on the embedded Orchestrator
//  4. Calling Close when done
//
// All defaults are safe for local development and testing: the mock
// responder and in-memory stores. Production deployments select a vendor
// responder and the sqlite store.
package agentrelay

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentrelay/config"
	"github.com/hupe1980/agentrelay/conversation"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/execution"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/metrics"
	"github.com/hupe1980/agentrelay/orchestrator"
	"github.com/hupe1980/agentrelay/responder"
	anthropicresp "github.com/hupe1980/agentrelay/responder/anthropic"
	"github.com/hupe1980/agentrelay/responder/ollama"
	"github.com/hupe1980/agentrelay/responder/openai"
	"github.com/hupe1980/agentrelay/store/sqlite"
	"github.com/hupe1980/agentrelay/task"
)

// Options configures dependencies the configuration cannot express.
type Options struct {
	// Responder overrides the backend selected by responder.provider.
	Responder core.Responder
	// Registerer receives the relay metrics; nil disables metrics.
	Registerer prometheus.Registerer
	// Tracer defaults to the global otel tracer.
	Tracer trace.Tracer
	// Logger defaults to a logger built from the logging section.
	Logger logging.Logger
}

// Relay is an Orchestrator bundled with the resources backing it.
type Relay struct {
	*orchestrator.Orchestrator

	cfg    *config.Config
	db     *sqlite.DB
	logger logging.Logger
}

// New builds a Relay from cfg. A nil cfg uses config.Default().
func New(cfg *config.Config, optFns ...func(o *Options)) (*Relay, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(cfg.LoggerConfig())
	}

	resp := opts.Responder
	if resp == nil {
		var err error
		if resp, err = NewResponder(cfg.Responder); err != nil {
			return nil, err
		}
	}

	var m *metrics.Metrics
	if opts.Registerer != nil {
		m = metrics.MustNew(opts.Registerer)
	}

	r := &Relay{cfg: cfg, logger: opts.Logger}

	var tasks core.TaskRegistry
	var sessions core.SessionStore
	switch cfg.Store.Driver {
	case "sqlite":
		db, err := sqlite.Open(sqlite.Config{
			Path:     cfg.Store.Path,
			PoolSize: cfg.Store.PoolSize,
			Logger:   logging.ForComponent(opts.Logger, "store"),
		})
		if err != nil {
			return nil, err
		}
		r.db = db
		tasks, sessions = db.Tasks(), db.Sessions()
	default:
		tasks = task.NewInMemoryRegistry(func(o *task.Options) {
			o.MaxTerminal = cfg.Retention.MaxTerminal
			o.Logger = logging.ForComponent(opts.Logger, "tasks")
		})
	}

	r.Orchestrator = orchestrator.New(resp, func(o *orchestrator.Options) {
		o.Tasks = tasks
		o.Sessions = sessions
		o.EventBufferSize = cfg.Events.BufferSize
		o.Logger = opts.Logger
		o.Metrics = m
		o.Tracer = opts.Tracer
		o.ConversationOptions = append(o.ConversationOptions, func(co *conversation.Options) {
			co.ShortInputTokens = cfg.Conversation.ShortInputTokens
			co.TriggerMaxTokens = cfg.Conversation.TriggerMaxTokens
			if len(cfg.Conversation.TriggerPhrases) > 0 {
				co.TriggerPhrases = cfg.Conversation.TriggerPhrases
			}
		})
		o.ExecutionOptions = append(o.ExecutionOptions, func(eo *execution.Options) {
			if len(cfg.Execution.LongKeywords) > 0 {
				eo.LongKeywords = cfg.Execution.LongKeywords
			}
			eo.ContextTurns = cfg.Execution.ContextTurns
			eo.Streaming = cfg.Responder.Streaming
			eo.Workers = cfg.Responder.Workers
		})
	})

	opts.Logger.Info("relay ready",
		"provider", cfg.Responder.Provider,
		"store", cfg.Store.Driver,
		"streaming", cfg.Responder.Streaming,
	)
	return r, nil
}

// Config returns the configuration the relay was built from.
func (r *Relay) Config() *config.Config { return r.cfg }

// StartJanitor prunes finished tasks in the background per the retention
// section until ctx is done. A zero interval or max age disables it.
func (r *Relay) StartJanitor(ctx context.Context) {
	if r.cfg.Retention.Interval <= 0 || r.cfg.Retention.MaxAge <= 0 {
		return
	}
	go r.RunJanitor(ctx, r.cfg.Retention.Interval, r.cfg.Retention.MaxAge)
}

// Close waits for in-flight runs and releases the store.
func (r *Relay) Close() error {
	r.Wait()
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// NewResponder creates the backend named by cfg.Provider.
func NewResponder(cfg config.ResponderConfig) (core.Responder, error) {
	switch cfg.Provider {
	case "", "mock":
		return responder.NewMock(), nil
	case "openai":
		return openai.New(func(o *openai.Options) {
			o.APIKey = cfg.APIKey
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			o.SystemPrompt = cfg.SystemPrompt
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = cfg.MaxTokens
			}
		}), nil
	case "anthropic":
		return anthropicresp.New(func(o *anthropicresp.Options) {
			o.APIKey = cfg.APIKey
			if cfg.Model != "" {
				o.Model = anthropic.Model(cfg.Model)
			}
			o.SystemPrompt = cfg.SystemPrompt
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxTokens = cfg.MaxTokens
			}
		}), nil
	case "ollama":
		resp, err := ollama.New(func(o *ollama.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			o.SystemPrompt = cfg.SystemPrompt
			o.Temperature = cfg.Temperature
		})
		if err != nil {
			return nil, err
		}
		return resp, nil
	default:
		return nil, fmt.Errorf("responder provider %q: %w", cfg.Provider, errUnknownProvider)
	}
}

var errUnknownProvider = errors.New("unknown provider")
