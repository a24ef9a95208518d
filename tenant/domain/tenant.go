package domain

import (
	"context"
	"errors"
)

type InstanceStatus string

const (
	InstanceConnected    InstanceStatus = "connected"
	InstanceDisconnected InstanceStatus = "disconnected"
)

// Instance is one WhatsApp session owned by a client. GatewayName is the
// identifier the gateway uses in its send URLs and webhooks.
type Instance struct {
	ID          string         `json:"id"`
	ClientID    string         `json:"client_id"`
	GatewayName string         `json:"gateway_name"`
	Status      InstanceStatus `json:"status"`
}

func (i Instance) Connected() bool {
	return i.Status == InstanceConnected
}

type Queue struct {
	ID          string `json:"id"`
	ClientID    string `json:"client_id"`
	Name        string `json:"name"`
	AssistantID string `json:"assistant_id"`
	Active      bool   `json:"active"`
}

type Assistant struct {
	ID               string  `json:"id"`
	ClientID         string  `json:"client_id"`
	Name             string  `json:"name"`
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	SystemPrompt     string  `json:"system_prompt"`
	Temperature      float64 `json:"temperature"`
	MaxTokens        int     `json:"max_tokens"`
	FallbackResponse string  `json:"fallback_response"`
	VoiceEnabled     bool    `json:"voice_enabled"`
	VoiceID          string  `json:"voice_id"`
	Active           bool    `json:"active"`
}

// Credentials are a client's API keys for one LLM provider.
type Credentials struct {
	ClientID    string `json:"client_id"`
	Provider    string `json:"provider"`
	APIKey      string `json:"api_key"`
	BaseURL     string `json:"base_url,omitempty"`
	VoiceAPIKey string `json:"voice_api_key,omitempty"`
}

var ErrNotFound = errors.New("tenant resource not found")

// Directory is the read-only view of tenant configuration. Lookups return
// ErrNotFound when nothing matches.
type Directory interface {
	// ResolveInstance accepts either the instance id or its gateway name.
	ResolveInstance(ctx context.Context, key string) (*Instance, error)
	ConnectedInstance(ctx context.Context, clientID, preferredID string) (*Instance, error)
	ActiveQueue(ctx context.Context, clientID, queueID string) (*Queue, error)
	GetAssistant(ctx context.Context, assistantID string) (*Assistant, error)
	GetCredentials(ctx context.Context, clientID, provider string) (*Credentials, error)
}

// Snapshot is a bulk tenant definition loaded by the seed command.
type Snapshot struct {
	Instances   []Instance    `json:"instances"`
	Queues      []Queue       `json:"queues"`
	Assistants  []Assistant   `json:"assistants"`
	Credentials []Credentials `json:"credentials"`
}
