package domain

import (
	"context"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// ChatRequest is a bounded prompt ready for a provider.
type ChatRequest struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	History      []Turn
	UserText     string
	Temperature  float64
	MaxTokens    int
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type ChatResponse struct {
	Text  string `json:"text"`
	Model string `json:"model"`
	Usage Usage  `json:"usage"`
}

// Provider is one LLM backend.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// Result is a validated assistant answer for one batch.
type Result struct {
	Text        string    `json:"text"`
	Audio       string    `json:"audio,omitempty"`
	IsAudio     bool      `json:"is_audio"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Attempts    int       `json:"attempts"`
	Usage       Usage     `json:"usage"`
	AssistantID string    `json:"assistant_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Resolution is the configuration an invocation runs with.
type Resolution struct {
	AssistantID     string
	Provider        string
	GatewayInstance string
	InstanceID      string
	Fallback        string
}

const (
	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultGeminiModel = "gemini-2.0-flash"
)

// ProcessRequest is the body of the direct processing endpoint.
type ProcessRequest struct {
	MessageText    string `json:"messageText"`
	AssistantID    string `json:"assistantId"`
	ChatID         string `json:"chatId"`
	InstanceID     string `json:"instanceId"`
	MessageID      string `json:"messageId"`
	IsAudioMessage bool   `json:"isAudioMessage"`
}

type ProcessResponse struct {
	Response  string    `json:"response"`
	IsAudio   bool      `json:"isAudio"`
	Audio     string    `json:"audio,omitempty"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}
