package providers

import (
	"context"
	"fmt"

	"github.com/AzielCF/az-inbox/assistant/domain"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"
)

type OpenAIProvider struct{}

func NewOpenAIProvider() *OpenAIProvider {
	return &OpenAIProvider{}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	if req.APIKey == "" {
		return domain.ChatResponse{}, fmt.Errorf("openai: missing API key")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(req.APIKey),
		// Retries are driven by the invoker so attempts are counted in one place.
		option.WithMaxRetries(0),
	}
	if req.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(req.BaseURL))
	}
	client := openai.NewClient(opts...)

	model := req.Model
	if model == "" {
		model = domain.DefaultOpenAIModel
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, t := range req.History {
		if t.Role == domain.RoleAssistant {
			messages = append(messages, openai.AssistantMessage(t.Text))
		} else {
			messages = append(messages, openai.UserMessage(t.Text))
		}
	}
	messages = append(messages, openai.UserMessage(req.UserText))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return domain.ChatResponse{}, err
	}
	if len(completion.Choices) == 0 {
		return domain.ChatResponse{}, fmt.Errorf("no response from openai")
	}

	resp := domain.ChatResponse{
		Text:  completion.Choices[0].Message.Content,
		Model: model,
		Usage: domain.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}
	logrus.WithFields(logrus.Fields{
		"model":         model,
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
	}).Debug("[OPENAI] Chat completed")
	return resp, nil
}
