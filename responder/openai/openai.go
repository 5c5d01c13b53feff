// Package openai provides a core.StreamResponder backed by the OpenAI Chat
// Completions API.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/agentrelay/core"
)

var _ core.StreamResponder = (*Responder)(nil)

// ErrEmptyResponse is returned when the API answers without choices.
var ErrEmptyResponse = errors.New("openai: empty response")

// Options configure the OpenAI responder.
type Options struct {
	// APIKey overrides OPENAI_API_KEY when set.
	APIKey              string
	Model               string
	SystemPrompt        string
	Temperature         float64
	MaxCompletionTokens int64
}

// Responder wraps the OpenAI Chat Completions API.
type Responder struct {
	client *openai.Client
	opts   Options
}

// New creates a responder using the official client configured from the
// environment (OPENAI_API_KEY, OPENAI_BASE_URL).
func New(optFns ...func(o *Options)) *Responder {
	var probe Options
	for _, fn := range optFns {
		fn(&probe)
	}

	var clientOpts []option.RequestOption
	if probe.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(probe.APIKey))
	}
	client := openai.NewClient(clientOpts...)
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a responder from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Responder {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Responder{client: client, opts: opts}
}

// Respond implements core.Responder.
func (r *Responder) Respond(ctx context.Context, prompt, _ string) (string, error) {
	resp, err := r.client.Chat.Completions.New(ctx, r.params(prompt))
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream implements core.StreamResponder.
func (r *Responder) Stream(ctx context.Context, prompt, _ string) (<-chan string, <-chan error) {
	out := make(chan string, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		stream := r.client.Chat.Completions.NewStreaming(ctx, r.params(prompt))
		defer stream.Close()

		for stream.Next() {
			for _, ch := range stream.Current().Choices {
				if ch.Delta.Content == "" {
					continue
				}
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case out <- ch.Delta.Content:
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("openai stream error: %w", err)
		}
	}()

	return out, errCh
}

func (r *Responder) params(prompt string) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if r.opts.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(r.opts.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))

	return openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               r.opts.Model,
		Temperature:         openai.Float(r.opts.Temperature),
		MaxCompletionTokens: openai.Int(r.opts.MaxCompletionTokens),
	}
}
