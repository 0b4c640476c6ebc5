package openai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageContent_String(t *testing.T) {
	t.Parallel()

	var msg ChatMessage
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"plain text"}`), &msg))
	require.Equal(t, "plain text", msg.Content.String())

	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":[
		{"type":"text","text":"first"},
		{"type":"image_url","image_url":{"url":"data:..."}},
		{"type":"text","text":"second"}
	]}`), &msg))
	require.Equal(t, "first\nsecond", msg.Content.String())
}

func TestMessageContent_Invalid(t *testing.T) {
	t.Parallel()

	var msg ChatMessage
	err := json.Unmarshal([]byte(`{"role":"user","content":42}`), &msg)
	require.Error(t, err)
}
