package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AzielCF/az-inbox/assistant/domain"
	inboxDomain "github.com/AzielCF/az-inbox/inbox/domain"
	"github.com/AzielCF/az-inbox/infrastructure/speech"
	pkgError "github.com/AzielCF/az-inbox/pkg/error"
	"github.com/AzielCF/az-inbox/pkg/metrics"
	"github.com/AzielCF/az-inbox/pkg/retry"
	tenantDomain "github.com/AzielCF/az-inbox/tenant/domain"
	"github.com/sirupsen/logrus"
)

// ProviderSource looks up an LLM provider by name.
type ProviderSource interface {
	Get(name string) (domain.Provider, error)
}

// Synthesizer turns reply text into a voice note.
type Synthesizer interface {
	Enabled() bool
	Synthesize(ctx context.Context, in speech.Request) (speech.Audio, error)
}

type InvokerConfig struct {
	Limits          PromptLimits
	Timeout         time.Duration
	Policy          retry.Policy
	DefaultFallback string
}

// Invocation is the outcome of one assistant call. Resolution is filled as far
// as configuration lookup got, even when Invoke returns an error, so callers
// can still send a fallback.
type Invocation struct {
	Result     domain.Result
	Resolution domain.Resolution
}

var errEmptyResponse = errors.New("empty response from provider")

type Invoker struct {
	directory tenantDomain.Directory
	messages  inboxDomain.MessageStore
	providers ProviderSource
	speech    Synthesizer
	cfg       InvokerConfig
	now       func() time.Time
}

func NewInvoker(directory tenantDomain.Directory, messages inboxDomain.MessageStore, providers ProviderSource, synth Synthesizer, cfg InvokerConfig) *Invoker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy = retry.DefaultPolicy
	}
	if cfg.Limits == (PromptLimits{}) {
		cfg.Limits = DefaultPromptLimits
	}
	return &Invoker{
		directory: directory,
		messages:  messages,
		providers: providers,
		speech:    synth,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type resolved struct {
	assistant   *tenantDomain.Assistant
	credentials *tenantDomain.Credentials
	instance    *tenantDomain.Instance
	provider    domain.Provider
}

// target names what to resolve: the ticket's queue assistant, or an explicit
// assistant for direct calls.
type target struct {
	clientID    string
	queueID     string
	assistantID string
	instanceID  string
}

// resolve looks up everything an invocation needs. Missing resources are
// collected into a single FatalError; lookup failures are storage errors.
func (i *Invoker) resolve(ctx context.Context, tg target, res *domain.Resolution) (resolved, error) {
	var out resolved
	var reasons []pkgError.FatalReason
	var details []string
	var err error

	assistantID := tg.assistantID
	if assistantID == "" {
		queue, qerr := i.directory.ActiveQueue(ctx, tg.clientID, tg.queueID)
		switch {
		case errors.Is(qerr, tenantDomain.ErrNotFound):
			reasons = append(reasons, pkgError.ReasonNoActiveAssistant)
			details = append(details, "no active queue")
		case qerr != nil:
			return out, pkgError.NewStorageError("active queue", qerr)
		default:
			assistantID = queue.AssistantID
		}
	}

	if assistantID != "" {
		out.assistant, err = i.directory.GetAssistant(ctx, assistantID)
		if errors.Is(err, tenantDomain.ErrNotFound) {
			reasons = append(reasons, pkgError.ReasonNoActiveAssistant)
			details = append(details, fmt.Sprintf("assistant %s is not active", assistantID))
		} else if err != nil {
			return out, pkgError.NewStorageError("assistant", err)
		}
	}

	if a := out.assistant; a != nil {
		if tg.clientID == "" {
			tg.clientID = a.ClientID
		}
		res.AssistantID = a.ID
		res.Provider = a.Provider
		if strings.TrimSpace(a.FallbackResponse) != "" {
			res.Fallback = a.FallbackResponse
		}

		out.credentials, err = i.directory.GetCredentials(ctx, tg.clientID, a.Provider)
		if errors.Is(err, tenantDomain.ErrNotFound) {
			reasons = append(reasons, pkgError.ReasonNoAICredentials)
			details = append(details, fmt.Sprintf("no %s credentials", a.Provider))
		} else if err != nil {
			return out, pkgError.NewStorageError("credentials", err)
		}

		out.provider, err = i.providers.Get(a.Provider)
		if err != nil {
			reasons = append(reasons, pkgError.ReasonNoActiveAssistant)
			details = append(details, err.Error())
		}
	}

	out.instance, err = i.directory.ConnectedInstance(ctx, tg.clientID, tg.instanceID)
	if errors.Is(err, tenantDomain.ErrNotFound) {
		reasons = append(reasons, pkgError.ReasonNoConnectedInstance)
		details = append(details, "no connected instance")
	} else if err != nil {
		return out, pkgError.NewStorageError("connected instance", err)
	} else {
		res.InstanceID = out.instance.ID
		res.GatewayInstance = out.instance.GatewayName
	}

	if len(reasons) > 0 {
		return out, pkgError.NewFatalError(strings.Join(details, "; "), reasons...)
	}
	return out, nil
}

// Invoke produces the assistant reply for a claimed batch.
func (i *Invoker) Invoke(ctx context.Context, ticket inboxDomain.Ticket, batch inboxDomain.MessageBatch) (Invocation, error) {
	inv := Invocation{Resolution: domain.Resolution{Fallback: i.cfg.DefaultFallback}}
	log := logrus.WithFields(logrus.Fields{
		"ticket_id": ticket.ID,
		"batch_id":  batch.ID,
	})

	r, err := i.resolve(ctx, target{
		clientID:   ticket.ClientID,
		queueID:    ticket.AssignedQueueID,
		instanceID: ticket.InstanceID,
	}, &inv.Resolution)
	if err != nil {
		return inv, err
	}

	userText := JoinInbound(batch.Messages)
	if userText == "" {
		return inv, pkgError.NewFatalError("batch has no text", pkgError.ReasonNoContent)
	}

	before := i.now()
	if len(batch.Messages) > 0 {
		before = batch.Messages[0].Timestamp
	}
	history := i.history(ctx, log, ticket.ID, before)

	inv.Result, err = i.generate(ctx, log, r, history, userText)
	return inv, err
}

// FallbackRoute fills the gateway instance of res when resolution stopped
// before reaching it.
func (i *Invoker) FallbackRoute(ctx context.Context, ticket inboxDomain.Ticket, res *domain.Resolution) error {
	if res.GatewayInstance != "" {
		return nil
	}
	inst, err := i.directory.ConnectedInstance(ctx, ticket.ClientID, ticket.InstanceID)
	if err != nil {
		return err
	}
	res.InstanceID = inst.ID
	res.GatewayInstance = inst.GatewayName
	return nil
}

// DirectRequest asks an explicit assistant to answer one message without going
// through a debounced batch.
type DirectRequest struct {
	Text           string
	AssistantID    string
	ChatID         string
	InstanceID     string
	MessageID      string
	IsAudioMessage bool
}

// InvokeDirect answers req.Text with the given assistant. When MessageID is
// known the conversation before it is used as history. Nothing is sent.
func (i *Invoker) InvokeDirect(ctx context.Context, req DirectRequest) (Invocation, error) {
	inv := Invocation{Resolution: domain.Resolution{Fallback: i.cfg.DefaultFallback}}
	log := logrus.WithFields(logrus.Fields{
		"assistant_id": req.AssistantID,
		"chat_id":      req.ChatID,
		"message_id":   req.MessageID,
		"audio_in":     req.IsAudioMessage,
	})

	r, err := i.resolve(ctx, target{assistantID: req.AssistantID, instanceID: req.InstanceID}, &inv.Resolution)
	if err != nil {
		return inv, err
	}

	userText := strings.TrimSpace(req.Text)
	if userText == "" {
		return inv, pkgError.NewFatalError("messageText is empty", pkgError.ReasonNoContent)
	}

	var history []inboxDomain.TicketMessage
	if req.MessageID != "" {
		ticketID, found, err := i.messages.FindMessage(ctx, req.MessageID)
		if err != nil {
			log.WithError(err).Warn("[ASSISTANT] message lookup failed, continuing without history")
		} else if found {
			history = i.history(ctx, log, ticketID, i.now())
			history = dropMessage(history, req.MessageID)
		}
	}

	inv.Result, err = i.generate(ctx, log, r, history, userText)
	return inv, err
}

func dropMessage(history []inboxDomain.TicketMessage, messageID string) []inboxDomain.TicketMessage {
	out := history[:0]
	for _, m := range history {
		if m.MessageID != messageID {
			out = append(out, m)
		}
	}
	return out
}

// history is best effort: a failed lookup yields no history.
func (i *Invoker) history(ctx context.Context, log *logrus.Entry, ticketID string, before time.Time) []inboxDomain.TicketMessage {
	n := i.cfg.Limits.MaxHistoryMessages
	if n <= 0 {
		return nil
	}
	history, err := i.messages.RecentHistory(ctx, ticketID, before, n)
	if err != nil {
		log.WithError(err).Warn("[ASSISTANT] history unavailable, continuing without it")
		return nil
	}
	return history
}

func (i *Invoker) generate(ctx context.Context, log *logrus.Entry, r resolved, history []inboxDomain.TicketMessage, userText string) (domain.Result, error) {
	a := r.assistant
	req := BuildPrompt(i.cfg.Limits, a.SystemPrompt, history, userText)
	req.APIKey = r.credentials.APIKey
	req.BaseURL = r.credentials.BaseURL
	req.Model = a.Model
	req.Temperature = a.Temperature
	req.MaxTokens = a.MaxTokens

	resp, attempts, err := i.call(ctx, r.provider, req)
	if err != nil {
		log.WithError(err).WithField("attempt", attempts).Error("[ASSISTANT] invocation failed")
		return domain.Result{Attempts: attempts}, err
	}

	result := domain.Result{
		Text:        strings.TrimSpace(resp.Text),
		Provider:    r.provider.Name(),
		Model:       resp.Model,
		Temperature: a.Temperature,
		MaxTokens:   a.MaxTokens,
		Attempts:    attempts,
		Usage:       resp.Usage,
		AssistantID: a.ID,
		CreatedAt:   i.now(),
	}

	if a.VoiceEnabled && i.speech != nil && i.speech.Enabled() {
		audio, err := i.speech.Synthesize(ctx, speech.Request{
			Text:    result.Text,
			VoiceID: a.VoiceID,
			APIKey:  r.credentials.VoiceAPIKey,
		})
		if err != nil {
			log.WithError(err).Warn("[ASSISTANT] speech synthesis failed, replying with text")
		} else {
			result.Audio = audio.Base64
			result.IsAudio = true
		}
	}

	log.WithFields(logrus.Fields{
		"provider": result.Provider,
		"model":    result.Model,
		"attempt":  attempts,
		"audio":    result.IsAudio,
	}).Info("[ASSISTANT] reply generated")
	return result, nil
}

// call runs the provider under the retry policy. Each attempt gets its own
// timeout. An empty answer is retried once and then reported as fatal.
func (i *Invoker) call(ctx context.Context, p domain.Provider, req domain.ChatRequest) (domain.ChatResponse, int, error) {
	var resp domain.ChatResponse
	empties := 0
	attempts, err := i.cfg.Policy.Do(ctx, func(int) error {
		actx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
		defer cancel()

		r, err := p.Chat(actx, req)
		if err != nil {
			metrics.LLMAttempts.WithLabelValues(p.Name(), "error").Inc()
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			return err
		}
		if strings.TrimSpace(r.Text) == "" {
			metrics.LLMAttempts.WithLabelValues(p.Name(), "empty").Inc()
			empties++
			if empties > 1 {
				return retry.Permanent(errEmptyResponse)
			}
			return errEmptyResponse
		}
		metrics.LLMAttempts.WithLabelValues(p.Name(), "ok").Inc()
		resp = r
		return nil
	})
	if err == nil {
		return resp, attempts, nil
	}
	if errors.Is(err, errEmptyResponse) {
		return resp, attempts, pkgError.NewFatalError("provider returned no text", pkgError.ReasonEmptyResponse)
	}
	return resp, attempts, &pkgError.TransientError{Upstream: "llm:" + p.Name(), Attempts: attempts, Err: err}
}
