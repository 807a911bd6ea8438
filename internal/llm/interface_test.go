// internal/llm/interface_test.go
package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct{ key string }

func (s *stubProvider) Initialize(config map[string]string) error {
	if config[ConfigAPIKey] == "" {
		return ErrMissingAPIKey
	}
	s.key = config[ConfigAPIKey]
	return nil
}
func (s *stubProvider) GetName() string         { return "stub" }
func (s *stubProvider) GetDefaultModel() string { return "stub-1" }
func (s *stubProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{Text: s.key}, nil
}

func TestRegistry(t *testing.T) {
	Register("stub", func() Provider { return &stubProvider{} })

	_, err := GetProvider("nope", nil)
	assert.True(t, errors.Is(err, ErrUnknownProvider))

	_, err = GetProvider("stub", map[string]string{})
	assert.True(t, errors.Is(err, ErrMissingAPIKey))

	p, err := GetProvider("stub", map[string]string{ConfigAPIKey: "k"})
	require.NoError(t, err)
	resp, err := p.Chat(context.Background(), ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "k", resp.Text)

	assert.Contains(t, ListProviders(), "stub")
}

func TestBuildMessages(t *testing.T) {
	msgs := BuildMessages(ChatRequest{
		SystemPrompt: "sys",
		Messages:     []Message{{Role: "user", Content: "a"}, {Role: "assistant", Content: "  "}, {Role: "user", Content: "b"}},
	})
	assert.Equal(t, []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "a"},
		{Role: "user", Content: "b"},
	}, msgs)

	assert.Empty(t, BuildMessages(ChatRequest{SystemPrompt: "  "}))
}
