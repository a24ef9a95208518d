package providers

import (
	"context"
	"testing"

	"github.com/AzielCF/az-inbox/assistant/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoProvider struct{}

func (echoProvider) Name() string { return "Echo" }

func (echoProvider) Chat(_ context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	return domain.ChatResponse{Text: req.UserText}, nil
}

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry()

	p, err := r.Get("openai")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	p, err = r.Get(" Gemini ")
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())

	_, err = r.Get("claude")
	assert.Error(t, err)
}

func TestRegistryCustomProvider(t *testing.T) {
	r := NewRegistry()
	r.Register(echoProvider{})

	p, err := r.Get("echo")
	require.NoError(t, err)
	resp, err := p.Chat(context.Background(), domain.ChatRequest{UserText: "oi"})
	require.NoError(t, err)
	assert.Equal(t, "oi", resp.Text)
}

func TestProvidersRequireKey(t *testing.T) {
	_, err := NewOpenAIProvider().Chat(context.Background(), domain.ChatRequest{UserText: "x"})
	assert.Error(t, err)
	_, err = NewGeminiProvider().Chat(context.Background(), domain.ChatRequest{UserText: "x"})
	assert.Error(t, err)
}
