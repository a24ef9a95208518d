package application

import (
	"strings"

	"github.com/AzielCF/az-inbox/assistant/domain"
	inboxDomain "github.com/AzielCF/az-inbox/inbox/domain"
)

// PromptLimits caps every part of a prompt, in runes.
type PromptLimits struct {
	MaxSystemChars         int
	MaxHistoryMessages     int
	MaxHistoryMessageChars int
	MaxUserChars           int
}

var DefaultPromptLimits = PromptLimits{
	MaxSystemChars:         4000,
	MaxHistoryMessages:     10,
	MaxHistoryMessageChars: 500,
	MaxUserChars:           2000,
}

// truncate cuts s to at most max runes. Zero or negative max leaves s as is.
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// BuildPrompt assembles the bounded provider request. history is expected
// oldest first; only the newest MaxHistoryMessages entries are kept.
func BuildPrompt(limits PromptLimits, system string, history []inboxDomain.TicketMessage, userText string) domain.ChatRequest {
	if limits.MaxHistoryMessages > 0 && len(history) > limits.MaxHistoryMessages {
		history = history[len(history)-limits.MaxHistoryMessages:]
	}

	turns := make([]domain.Turn, 0, len(history))
	for _, m := range history {
		text := strings.TrimSpace(m.Body)
		if text == "" {
			continue
		}
		role := domain.RoleUser
		if m.FromMe {
			role = domain.RoleAssistant
		}
		turns = append(turns, domain.Turn{Role: role, Text: truncate(text, limits.MaxHistoryMessageChars)})
	}

	return domain.ChatRequest{
		SystemPrompt: truncate(strings.TrimSpace(system), limits.MaxSystemChars),
		History:      turns,
		UserText:     truncate(userText, limits.MaxUserChars),
	}
}

// JoinInbound concatenates the non-empty inbound bodies of a batch.
func JoinInbound(messages []inboxDomain.TicketMessage) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		if m.FromMe {
			continue
		}
		if body := strings.TrimSpace(m.Body); body != "" {
			parts = append(parts, body)
		}
	}
	return strings.Join(parts, "\n")
}
