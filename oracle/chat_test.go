package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/codeloop/config"
)

func newBackend(t *testing.T, handler func(w http.ResponseWriter, req chatRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func reply(w http.ResponseWriter, content string, prompt, completion int64) {
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
		"usage": map[string]any{"prompt_tokens": prompt, "completion_tokens": completion},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func testOracleConfig(url string) config.OracleConfig {
	return config.OracleConfig{
		BaseURL:    url + "/",
		APIKey:     "secret",
		Model:      "test-model",
		TimeoutSec: 5,
	}
}

func TestChatClientComplete(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, req chatRequest) {
		assert.Equal(t, "test-model", req.Model)
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, RoleSystem, req.Messages[0].Role)
		reply(w, `{"code":"print(1)"}`, 100, 10)
	})

	budget := NewMemoryBudget(10, 1_000_000)
	client := NewChatClient(zaptest.NewLogger(t), testOracleConfig(srv.URL), budget)

	content, err := client.Complete(context.Background(), []ChatMessage{
		{Role: RoleSystem, Content: "system"},
		{Role: RoleUser, Content: "user prompt"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"code":"print(1)"}`, content)

	u := budget.Usage()
	assert.Equal(t, int64(1), u.Calls)
	// prompt + 4 x completion
	assert.Equal(t, int64(140), u.Tokens)
}

func TestChatClientBudgetExhausted(t *testing.T) {
	called := false
	srv := newBackend(t, func(w http.ResponseWriter, _ chatRequest) {
		called = true
		reply(w, "{}", 1, 1)
	})

	budget := NewMemoryBudget(1, 1_000_000)
	require.True(t, budget.TryConsume(1, 0))

	client := NewChatClient(zaptest.NewLogger(t), testOracleConfig(srv.URL), budget)
	_, err := client.Complete(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}})
	assert.ErrorIs(t, err, ErrUsageLimitExceeded)
	assert.False(t, called)
}

func TestChatClientHTTPError(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, _ chatRequest) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	client := NewChatClient(zaptest.NewLogger(t), testOracleConfig(srv.URL), nil)
	_, err := client.Complete(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestChatClientNoChoices(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, _ chatRequest) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})

	client := NewChatClient(zaptest.NewLogger(t), testOracleConfig(srv.URL), nil)
	_, err := client.Complete(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}})
	assert.True(t, errors.Is(err, ErrMalformedResponse))
}

func TestStripFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```\n", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripFence(tt.in))
		})
	}
}
