package providers

import (
	"context"
	"fmt"

	"github.com/AzielCF/az-inbox/assistant/domain"
	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

type GeminiProvider struct{}

func NewGeminiProvider() *GeminiProvider {
	return &GeminiProvider{}
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	if req.APIKey == "" {
		return domain.ChatResponse{}, fmt.Errorf("gemini: missing API key")
	}

	cc := &genai.ClientConfig{
		APIKey:  req.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if req.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: req.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return domain.ChatResponse{}, fmt.Errorf("gemini client: %w", err)
	}

	model := req.Model
	if model == "" {
		model = domain.DefaultGeminiModel
	}

	temperature := float32(req.Temperature)
	config := &genai.GenerateContentConfig{Temperature: &temperature}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, "")
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, t := range req.History {
		role := genai.Role(genai.RoleUser)
		if t.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(req.UserText, genai.RoleUser))

	result, err := client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return domain.ChatResponse{}, err
	}

	resp := domain.ChatResponse{Text: result.Text(), Model: model}
	if result.UsageMetadata != nil {
		resp.Usage = domain.Usage{
			InputTokens:  int(result.UsageMetadata.PromptTokenCount),
			OutputTokens: int(result.UsageMetadata.CandidatesTokenCount),
		}
	}
	logrus.WithFields(logrus.Fields{
		"model":         model,
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
	}).Debug("[GEMINI] Chat completed")
	return resp, nil
}
