package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("AGENTRELAY_LOGGING_LEVEL", "error")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRun_PrintsReply(t *testing.T) {
	out, err := execute(t, "", "run", "What", "is", "the", "capital", "of", "France?")
	require.NoError(t, err)
	assert.Contains(t, out, "assistant: Mock response to: What is the capital of France?")
	assert.Contains(t, out, "[100%] Completed")
}

func TestRun_JSONAndMetrics(t *testing.T) {
	out, err := execute(t, "", "--metrics", "run", "--json", "--task", "t-42", "Please analyze the sales data")
	require.NoError(t, err)

	var kinds []core.EventKind
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var ev core.Event
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		assert.Equal(t, "t-42", ev.TaskID)
		kinds = append(kinds, ev.Kind)
	}
	require.NotEmpty(t, kinds)
	assert.Equal(t, core.EventStarted, kinds[0])
	assert.Equal(t, core.EventCompleted, kinds[len(kinds)-1])
	assert.Contains(t, out, `agentrelay_tasks_total{state="completed"} 1`)
}

func TestTask_ValidatesPayload(t *testing.T) {
	_, err := execute(t, "", "task", "--type", "data-analysis", "--data", `{"dataSource":"sales.csv"}`)
	assert.ErrorContains(t, err, "analysisType")

	out, err := execute(t, "", "task", "--type", "text-generation", "--data", `{"prompt":"Write a haiku"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "assistant: Mock response to:")
}

func TestChat_ClarificationFlow(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader("help\nbilling\nhow do refunds work\nyes\n/summary\n/quit\n"))
	root.SetArgs([]string{"chat", "--session", "s-chat", "--store", "sqlite"})
	t.Setenv("AGENTRELAY_STORE_PATH", filepath.Join(t.TempDir(), "chat.db"))
	t.Setenv("AGENTRELAY_LOGGING_LEVEL", "error")

	require.NoError(t, root.Execute())

	text := out.String()
	assert.Contains(t, text, "session s-chat created")
	assert.Contains(t, text, "assistant (collecting_info):")
	assert.Contains(t, text, "assistant (confirmation):")
	assert.Contains(t, text, "status: active")
	assert.Contains(t, text, "id: s-chat")
}

func TestConfigShow(t *testing.T) {
	t.Setenv("AGENTRELAY_RESPONDER_API_KEY", "sk-secret")
	out, err := execute(t, "", "config", "show", "--provider", "anthropic")
	require.NoError(t, err)
	assert.Contains(t, out, "provider: anthropic")
	assert.NotContains(t, out, "sk-secret")
}

func TestRootRejectsBadProvider(t *testing.T) {
	_, err := execute(t, "", "run", "--provider", "bard", "hello there friend")
	assert.Error(t, err)
}
