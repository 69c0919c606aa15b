package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(&Config{Model: "m"}, zap.NewNop())
	assert.Error(t, err)
	_, err = NewClient(&Config{Endpoint: "http://x"}, zap.NewNop())
	assert.Error(t, err)
}

func TestClient_GenerateResponse(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "cmpl-1", "object": "chat.completion", "created": 1, "model": "sqlcoder",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "SELECT FLOOR_NAME FROM T_PROD"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 40, "completion_tokens": 8, "total_tokens": 48}
		}`)
	}))
	defer server.Close()

	client, err := NewClient(&Config{Endpoint: server.URL + "/v1/", Model: "sqlcoder", MaxTokens: 256}, zap.NewNop())
	require.NoError(t, err)

	resp, err := client.GenerateResponse(context.Background(), "floors", "You write Oracle SQL.", 0.1)
	require.NoError(t, err)
	assert.Equal(t, "SELECT FLOOR_NAME FROM T_PROD", resp.Content)
	assert.Equal(t, 40, resp.PromptTokens)
	assert.Equal(t, 8, resp.CompletionTokens)
	assert.Equal(t, 48, resp.TotalTokens)

	assert.Equal(t, "sqlcoder", body["model"])
	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 2)
	kwargs, ok := body["chat_template_kwargs"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, kwargs["enable_thinking"])
}

func TestClient_GenerateResponse_ClassifiesErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error": {"message": "model is loading", "type": "server_error"}}`)
	}))
	defer server.Close()

	client, err := NewClient(&Config{Endpoint: server.URL, Model: "sqlcoder"}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.GenerateResponse(context.Background(), "q", "s", 0)
	require.Error(t, err)
	llmErr := ClassifyError(err)
	assert.True(t, llmErr.Retryable)
	assert.Equal(t, "sqlcoder", llmErr.Model)
	assert.Equal(t, server.URL, llmErr.Endpoint)
}

func TestAnthropicClient_GenerateResponse(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
			"content": [{"type": "text", "text": "SELECT EMP_ID FROM EMP"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 30, "output_tokens": 6}
		}`)
	}))
	defer server.Close()

	client, err := NewAnthropicClient(&Config{Endpoint: server.URL + "/v1", Model: "claude-sonnet-4-5", APIKey: "test-key"}, zap.NewNop())
	require.NoError(t, err)

	resp, err := client.GenerateResponse(context.Background(), "list employees", "You write Oracle SQL.", 0.2)
	require.NoError(t, err)
	assert.Equal(t, "SELECT EMP_ID FROM EMP", resp.Content)
	assert.Equal(t, 30, resp.PromptTokens)
	assert.Equal(t, 6, resp.CompletionTokens)
	assert.Equal(t, 36, resp.TotalTokens)

	assert.Equal(t, "claude-sonnet-4-5", body["model"])
	assert.Equal(t, "You write Oracle SQL.", body["system"])
	assert.Equal(t, server.URL+"/v1", client.GetEndpoint())
}

func TestNewAnthropicClient_Validation(t *testing.T) {
	_, err := NewAnthropicClient(&Config{Model: "m"}, nil)
	assert.Error(t, err)

	c, err := NewAnthropicClient(&Config{Model: "m", APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultAnthropicEndpoint, c.GetEndpoint())
	assert.Equal(t, 2048, c.maxTokens)
}
