// Package ollama provides a core.StreamResponder backed by a local Ollama
// server.
package ollama

import (
	"context"
	"fmt"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/hupe1980/agentrelay/core"
)

var _ core.StreamResponder = (*Responder)(nil)

// Options configure the Ollama responder.
type Options struct {
	Model        string
	SystemPrompt string
	Temperature  float64
}

// Responder drives the Ollama generate endpoint.
type Responder struct {
	client *api.Client
	opts   Options
}

// New creates a responder from OLLAMA_HOST (default http://127.0.0.1:11434).
func New(optFns ...func(o *Options)) (*Responder, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, fmt.Errorf("ollama client: %w", err)
	}
	return NewFromClient(client, optFns...), nil
}

// NewFromClient creates a responder from an existing client.
func NewFromClient(client *api.Client, optFns ...func(o *Options)) *Responder {
	opts := Options{
		Model:       "llama3.2",
		Temperature: 0.7,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Responder{client: client, opts: opts}
}

// Respond implements core.Responder.
func (r *Responder) Respond(ctx context.Context, prompt, _ string) (string, error) {
	var sb strings.Builder
	err := r.client.Generate(ctx, r.request(prompt, false), func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
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

		err := r.client.Generate(ctx, r.request(prompt, true), func(resp api.GenerateResponse) error {
			if resp.Response == "" {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- resp.Response:
				return nil
			}
		})
		if err != nil {
			errCh <- fmt.Errorf("ollama generate: %w", err)
		}
	}()

	return out, errCh
}

func (r *Responder) request(prompt string, stream bool) *api.GenerateRequest {
	return &api.GenerateRequest{
		Model:  r.opts.Model,
		Prompt: prompt,
		System: r.opts.SystemPrompt,
		Stream: &stream,
		Options: map[string]any{
			"temperature": r.opts.Temperature,
		},
	}
}
