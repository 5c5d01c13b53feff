package anthropic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponder_Respond(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/v1/messages", req.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude",
			"content":[{"type":"text","text":"part one, "},{"type":"text","text":"part two"}],
			"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":4}}`))
	}))
	defer srv.Close()

	client := anthropic.NewClient(
		option.WithBaseURL(srv.URL+"/"),
		option.WithAPIKey("test"),
		option.WithMaxRetries(0),
	)
	r := NewFromClient(&client)

	got, err := r.Respond(context.Background(), "hello", "s1")
	require.NoError(t, err)
	assert.Equal(t, "part one, part two", got)
}

func TestNew_Defaults(t *testing.T) {
	r := New(func(o *Options) { o.APIKey = "k" })
	assert.Equal(t, anthropic.ModelClaude3_5Sonnet20241022, r.opts.Model)
	assert.Equal(t, int64(4096), r.opts.MaxTokens)
}
