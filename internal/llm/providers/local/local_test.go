package local

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webpilot-org/webpilot/internal/llm"
)

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "navigate", "arguments": "{\"url\":\"https://example.com\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10}
		}`))
	}))
	defer srv.Close()

	cfg := llm.DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Timeout = 5 * time.Second

	p, err := New(cfg)
	require.NoError(t, err)
	require.Equal(t, "local", p.Name())

	resp, err := p.Chat(context.Background(), &llm.ChatRequest{
		Model:    "qwen",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "go to example.com"}},
	})
	require.NoError(t, err)
	require.Equal(t, "tool_calls", resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, "navigate", resp.ToolCalls[0].Function.Name)
	require.Equal(t, 10, resp.Usage.TotalTokens)
}

func TestChatNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	cfg := llm.DefaultConfig()
	cfg.BaseURL = srv.URL

	p, err := New(cfg)
	require.NoError(t, err)

	_, err = p.Chat(context.Background(), &llm.ChatRequest{
		Model:    "qwen",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.ErrorContains(t, err, "no choices")
}
