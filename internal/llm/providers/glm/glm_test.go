// internal/llm/providers/glm/glm_test.go
package glm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/ClipStudy/internal/llm"
)

func TestInitializeRequiresKey(t *testing.T) {
	_, err := llm.GetProvider("glm", map[string]string{})
	assert.True(t, errors.Is(err, llm.ErrMissingAPIKey))
}

func TestChatSendsMessagesAndTrims(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer zk", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"glm-4.6","choices":[{"message":{"role":"assistant","content":"  你好  "},"finish_reason":"stop"}],"usage":{"total_tokens":12}}`))
	}))
	defer srv.Close()

	p, err := llm.GetProvider("glm", map[string]string{
		llm.ConfigAPIKey:  "zk",
		llm.ConfigBaseURL: srv.URL + "/",
	})
	require.NoError(t, err)
	assert.Equal(t, "glm-4.6", p.GetDefaultModel())

	resp, err := p.Chat(context.Background(), llm.ChatRequest{
		SystemPrompt: "sys",
		Messages:     []llm.Message{{Role: "user", Content: "hello"}, {Role: "user", Content: " "}},
		Temperature:  0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, "你好", resp.Text)
	assert.Equal(t, 12, resp.TokensUsed)

	assert.Equal(t, "glm-4.6", got["model"])
	msgs := got["messages"].([]interface{})
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]interface{})["role"])
	assert.InDelta(t, 0.2, got["temperature"].(float64), 0.0001)
}

func newProvider(t *testing.T, status int, body string) llm.Provider {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	p, err := llm.GetProvider("glm", map[string]string{llm.ConfigAPIKey: "k", llm.ConfigBaseURL: srv.URL})
	require.NoError(t, err)
	return p
}

func TestChatErrors(t *testing.T) {
	req := llm.ChatRequest{Messages: []llm.Message{{Role: "user", Content: "x"}}}

	_, err := newProvider(t, http.StatusInternalServerError, `{"error":"boom"}`).Chat(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")

	_, err = newProvider(t, http.StatusOK, `{"choices":[{"message":{"content":"   "}}]}`).Chat(context.Background(), req)
	assert.True(t, errors.Is(err, llm.ErrEmptyResponse))

	_, err = newProvider(t, http.StatusOK, `{"choices":[]}`).Chat(context.Background(), req)
	assert.True(t, errors.Is(err, llm.ErrEmptyResponse))
}
