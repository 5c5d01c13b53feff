// Package anthropic provides a core.StreamResponder backed by the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/agentrelay/core"
)

var _ core.StreamResponder = (*Responder)(nil)

// Options configure the Anthropic responder.
type Options struct {
	APIKey       string
	Model        anthropic.Model
	SystemPrompt string
	Temperature  float64
	MaxTokens    int64
}

// Responder wraps the Anthropic Messages API.
type Responder struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// New creates a responder. Without an explicit APIKey the client reads
// ANTHROPIC_API_KEY from the environment.
func New(optFns ...func(o *Options)) *Responder {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Responder{client: &client, opts: opts}
}

// NewFromClient creates a responder from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Responder {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Responder{client: client, opts: opts}
}

// Respond implements core.Responder.
func (r *Responder) Respond(ctx context.Context, prompt, _ string) (string, error) {
	resp, err := r.client.Messages.New(ctx, r.params(prompt))
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	return sb.String(), nil
}

// Stream implements core.StreamResponder.
func (r *Responder) Stream(ctx context.Context, prompt, _ string) (<-chan string, <-chan error) {
	out := make(chan string, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		stream := r.client.Messages.NewStreaming(ctx, r.params(prompt))
		defer stream.Close()

		for stream.Next() {
			ev, ok := stream.Current().AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
			if !ok || delta.Text == "" {
				continue
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- delta.Text:
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("anthropic stream error: %w", err)
		}
	}()

	return out, errCh
}

func (r *Responder) params(prompt string) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:       r.opts.Model,
		MaxTokens:   r.opts.MaxTokens,
		Temperature: anthropic.Float(r.opts.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if r.opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: r.opts.SystemPrompt}}
	}
	return params
}
