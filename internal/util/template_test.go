package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("plain text", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)

	out, err = RenderTemplate(`{{humanize .field}}: {{get .info "topic" | default "n/a"}}`, map[string]any{
		"field": "specific_question",
		"info":  map[string]string{},
	})
	require.NoError(t, err)
	assert.Equal(t, "specific question: n/a", out)

	out, err = RenderTemplate(`{{join ", " .items}} <{{upper .x}}>`, map[string]any{"items": []string{"a", "b"}, "x": "q&a"})
	require.NoError(t, err)
	assert.Equal(t, "a, b <Q&A>", out)
}

func TestRenderTemplate_Errors(t *testing.T) {
	_, err := RenderTemplate("{{ .broken", nil)
	assert.Error(t, err)

	assert.Equal(t, "{{ .broken", RenderOrRaw("{{ .broken", nil))
}
