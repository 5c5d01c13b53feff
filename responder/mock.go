package responder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

var (
	_ core.Responder       = (*Mock)(nil)
	_ core.StreamResponder = (*Mock)(nil)
)

// Call records a single invocation of Mock.
type Call struct {
	Prompt    string
	SessionID string
}

// Mock is a deterministic in-memory responder useful for tests & examples.
//
// Canned responses are matched against the exact prompt first and then
// against the prompt suffix, so callers do not need to reproduce the
// context decoration added by the router.
type Mock struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	delay     time.Duration
	calls     []Call
}

// NewMock constructs an empty Mock.
func NewMock() *Mock {
	return &Mock{
		responses: make(map[string]string),
		errs:      make(map[string]error),
	}
}

// AddResponse registers a canned completion for a prompt.
func (m *Mock) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// AddError makes prompts matching prompt fail with err.
func (m *Mock) AddError(prompt string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[prompt] = err
}

// SetDelay makes every call wait d before answering (honouring ctx).
func (m *Mock) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls returns a copy of the recorded invocations.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Respond implements core.Responder.
func (m *Mock) Respond(ctx context.Context, prompt, sessionID string) (string, error) {
	delay, resp, err := m.lookup(prompt, sessionID)
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return resp, err
}

// Stream implements core.StreamResponder; the response is emitted word by
// word with the separating whitespace attached to the following fragment.
func (m *Mock) Stream(ctx context.Context, prompt, sessionID string) (<-chan string, <-chan error) {
	out := make(chan string, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		full, err := m.Respond(ctx, prompt, sessionID)
		if err != nil {
			errCh <- err
			return
		}
		for _, frag := range fragments(full) {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- frag:
			}
		}
	}()

	return out, errCh
}

func (m *Mock) lookup(prompt, sessionID string) (time.Duration, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Prompt: prompt, SessionID: sessionID})

	if err, ok := m.errs[prompt]; ok {
		return m.delay, "", err
	}
	if r, ok := m.responses[prompt]; ok {
		return m.delay, r, nil
	}
	if key, ok := longestSuffix(m.errs, prompt); ok {
		return m.delay, "", m.errs[key]
	}
	if key, ok := longestSuffix(m.responses, prompt); ok {
		return m.delay, m.responses[key], nil
	}
	return m.delay, fmt.Sprintf("Mock response to: %s", prompt), nil
}

// longestSuffix picks the longest registered key the prompt ends with.
func longestSuffix[V any](entries map[string]V, prompt string) (string, bool) {
	best, found := "", false
	for key := range entries {
		if key != "" && strings.HasSuffix(prompt, key) && len(key) > len(best) {
			best, found = key, true
		}
	}
	return best, found
}

func fragments(s string) []string {
	if s == "" {
		return nil
	}
	var (
		out   []string
		start int
	)
	for i := 1; i < len(s); i++ {
		if s[i] == ' ' && s[i-1] != ' ' {
			out = append(out, s[start:i])
			start = i
		}
	}
	return append(out, s[start:])
}
