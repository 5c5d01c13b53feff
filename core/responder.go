package core

import "context"

// Responder is the external capability producing a natural-language
// completion for a prompt. Calls are blocking; the execution layer
// dispatches them to a bounded worker pool.
type Responder interface {
	Respond(ctx context.Context, prompt, sessionID string) (string, error)
}

// StreamResponder is implemented by responders able to emit incremental
// output. Both channels are closed when the stream ends; the error channel
// carries at most one terminal error.
type StreamResponder interface {
	Responder
	Stream(ctx context.Context, prompt, sessionID string) (<-chan string, <-chan error)
}

// ResponderFunc adapts a plain function to the Responder interface.
type ResponderFunc func(ctx context.Context, prompt, sessionID string) (string, error)

// Respond calls f.
func (f ResponderFunc) Respond(ctx context.Context, prompt, sessionID string) (string, error) {
	return f(ctx, prompt, sessionID)
}
