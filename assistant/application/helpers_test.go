package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AzielCF/az-inbox/assistant/domain"
	inboxDomain "github.com/AzielCF/az-inbox/inbox/domain"
	"github.com/AzielCF/az-inbox/inbox/repository"
	"github.com/AzielCF/az-inbox/infrastructure/gateway"
	"github.com/AzielCF/az-inbox/infrastructure/speech"
	"github.com/AzielCF/az-inbox/pkg/retry"
	tenantDomain "github.com/AzielCF/az-inbox/tenant/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var fastPolicy = retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}

func setupMessages(t *testing.T) *repository.MessageGormRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := repository.NewMessageGormRepository(db)
	require.NoError(t, store.Init(context.Background()))
	return store
}

func appendAt(t *testing.T, store inboxDomain.MessageStore, id, body string, fromMe bool, at time.Time) string {
	t.Helper()
	ticketID, err := store.AppendMessage(context.Background(), inboxDomain.Message{
		MessageID:  id,
		ChatID:     "5511999999999@c.us",
		InstanceID: "inst-1",
		ClientID:   "client-1",
		FromMe:     fromMe,
		Body:       body,
		Type:       inboxDomain.MessageTypeText,
		Timestamp:  at,
	}, nil)
	require.NoError(t, err)
	return ticketID
}

// seedBatch stores the inbound bodies one second apart and returns the ticket
// with its pending batch.
func seedBatch(t *testing.T, store inboxDomain.MessageStore, bodies ...string) (inboxDomain.Ticket, inboxDomain.MessageBatch) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute)
	var ticketID string
	for i, b := range bodies {
		ticketID = appendAt(t, store, "in-"+string(rune('a'+i)), b, false, base.Add(time.Duration(i)*time.Second))
	}
	ticket, err := store.GetTicket(ctx, ticketID)
	require.NoError(t, err)
	pending, err := store.PendingBatch(ctx, ticketID)
	require.NoError(t, err)
	return *ticket, inboxDomain.MessageBatch{ID: "batch-1", TicketID: ticketID, ClaimedAt: time.Now().UTC(), Messages: pending}
}

type fakeDirectory struct {
	queue       *tenantDomain.Queue
	assistant   *tenantDomain.Assistant
	credentials *tenantDomain.Credentials
	instance    *tenantDomain.Instance
	err         error
	queueErr    error
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{
		queue: &tenantDomain.Queue{ID: "q-1", ClientID: "client-1", AssistantID: "a-1", Active: true},
		assistant: &tenantDomain.Assistant{
			ID: "a-1", ClientID: "client-1", Provider: "scripted", Model: "m-1",
			SystemPrompt: "Você é a atendente da loja.", Temperature: 0.4, MaxTokens: 256,
			FallbackResponse: "Já te respondemos!", Active: true,
		},
		credentials: &tenantDomain.Credentials{ClientID: "client-1", Provider: "scripted", APIKey: "sk-test", VoiceAPIKey: "voice-key"},
		instance:    &tenantDomain.Instance{ID: "inst-1", ClientID: "client-1", GatewayName: "loja1", Status: tenantDomain.InstanceConnected},
	}
}

func (f *fakeDirectory) ResolveInstance(context.Context, string) (*tenantDomain.Instance, error) {
	if f.instance == nil {
		return nil, tenantDomain.ErrNotFound
	}
	return f.instance, nil
}

func (f *fakeDirectory) ConnectedInstance(context.Context, string, string) (*tenantDomain.Instance, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.instance == nil {
		return nil, tenantDomain.ErrNotFound
	}
	return f.instance, nil
}

func (f *fakeDirectory) ActiveQueue(context.Context, string, string) (*tenantDomain.Queue, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.queueErr != nil {
		return nil, f.queueErr
	}
	if f.queue == nil {
		return nil, tenantDomain.ErrNotFound
	}
	return f.queue, nil
}

func (f *fakeDirectory) GetAssistant(context.Context, string) (*tenantDomain.Assistant, error) {
	if f.assistant == nil {
		return nil, tenantDomain.ErrNotFound
	}
	return f.assistant, nil
}

func (f *fakeDirectory) GetCredentials(context.Context, string, string) (*tenantDomain.Credentials, error) {
	if f.credentials == nil {
		return nil, tenantDomain.ErrNotFound
	}
	return f.credentials, nil
}

// scriptedProvider answers from a queue of replies; an entry with a non-nil
// err fails that call.
type scriptedProvider struct {
	mu       sync.Mutex
	replies  []scripted
	requests []domain.ChatRequest
	delay    time.Duration
}

type scripted struct {
	text string
	err  error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	var next scripted
	if len(p.replies) > 0 {
		next = p.replies[0]
		p.replies = p.replies[1:]
	}
	delay := p.delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return domain.ChatResponse{}, ctx.Err()
		}
	}
	if next.err != nil {
		return domain.ChatResponse{}, next.err
	}
	return domain.ChatResponse{Text: next.text, Model: req.Model}, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

type providerMap map[string]domain.Provider

func (m providerMap) Get(name string) (domain.Provider, error) {
	p, ok := m[name]
	if !ok {
		return nil, errors.New("unsupported provider")
	}
	return p, nil
}

type fakeSpeech struct {
	enabled bool
	err     error
	got     []speech.Request
}

func (f *fakeSpeech) Enabled() bool { return f.enabled }

func (f *fakeSpeech) Synthesize(_ context.Context, in speech.Request) (speech.Audio, error) {
	f.got = append(f.got, in)
	if f.err != nil {
		return speech.Audio{}, f.err
	}
	return speech.Audio{Base64: "T2dnUw==", MimeType: "audio/ogg", Size: 4}, nil
}

type fakeSender struct {
	mu     sync.Mutex
	err    error
	texts  []string
	audios int
}

func (f *fakeSender) SendText(_ context.Context, _, _, text string) (gateway.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.err != nil {
		return gateway.SendResult{}, f.err
	}
	return gateway.SendResult{}, nil
}

func (f *fakeSender) SendAudio(_ context.Context, _, _, _ string) (gateway.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audios++
	if f.err != nil {
		return gateway.SendResult{}, f.err
	}
	return gateway.SendResult{}, nil
}

func (f *fakeSender) SendMedia(_ context.Context, _, _ string, _ gateway.MediaDescriptor) (gateway.SendResult, error) {
	return gateway.SendResult{}, nil
}

func newInvoker(dir *fakeDirectory, store inboxDomain.MessageStore, p *scriptedProvider, synth Synthesizer) *Invoker {
	return NewInvoker(dir, store, providerMap{"scripted": p}, synth, InvokerConfig{
		Limits:          DefaultPromptLimits,
		Timeout:         time.Second,
		Policy:          fastPolicy,
		DefaultFallback: "Em breve retornamos.",
	})
}
