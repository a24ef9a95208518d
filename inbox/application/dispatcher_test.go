package application

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/AzielCF/az-inbox/inbox/domain"
	"github.com/AzielCF/az-inbox/infrastructure/gateway"
	pkgError "github.com/AzielCF/az-inbox/pkg/error"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu        sync.Mutex
	textErrs  []error
	audioErr  error
	texts     []string
	audios    int
	media     []gateway.MediaDescriptor
	messageID string
}

func (f *fakeSender) SendText(_ context.Context, _, _, text string) (gateway.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if len(f.textErrs) > 0 {
		err := f.textErrs[0]
		f.textErrs = f.textErrs[1:]
		if err != nil {
			return gateway.SendResult{}, err
		}
	}
	return gateway.SendResult{MessageID: f.messageID}, nil
}

func (f *fakeSender) SendAudio(_ context.Context, _, _, _ string) (gateway.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audios++
	if f.audioErr != nil {
		return gateway.SendResult{}, f.audioErr
	}
	return gateway.SendResult{MessageID: f.messageID}, nil
}

func (f *fakeSender) SendMedia(_ context.Context, _, _ string, m gateway.MediaDescriptor) (gateway.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media = append(f.media, m)
	return gateway.SendResult{MessageID: f.messageID}, nil
}

func ticketFor(t *testing.T, store domain.MessageStore) domain.Ticket {
	t.Helper()
	id := appendInbound(t, store, "in-1", "Oi")
	ticket, err := store.GetTicket(context.Background(), id)
	require.NoError(t, err)
	return *ticket
}

func TestDispatcher_RetriesThenRecords(t *testing.T) {
	messages, _ := setupStores(t)
	pub := &recordingPublisher{}
	sender := &fakeSender{textErrs: []error{errors.New("timeout"), &gateway.StatusError{Status: 503}}, messageID: "GW-1"}
	d := NewDispatcher(sender, messages, pub, DispatcherConfig{Policy: fastPolicy, RatePerSec: 1000, Burst: 10})
	ticket := ticketFor(t, messages)

	res, err := d.Send(context.Background(), Outbound{Ticket: ticket, Gateway: "loja1", Text: "Olá! Como posso ajudar?"})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "GW-1", res.MessageID)
	assert.True(t, res.Recorded)

	found, ok, err := messages.FindMessage(context.Background(), "GW-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ticket.ID, found)
	require.Len(t, pub.events, 1)
	assert.Equal(t, domain.EventReplySent, pub.events[0].Type)
}

func TestDispatcher_BoundedFailure(t *testing.T) {
	messages, _ := setupStores(t)
	boom := errors.New("connection refused")
	sender := &fakeSender{textErrs: []error{boom, boom, boom, boom, boom}}
	d := NewDispatcher(sender, messages, nil, DispatcherConfig{Policy: fastPolicy, RatePerSec: 1000, Burst: 10})

	res, err := d.Send(context.Background(), Outbound{Ticket: ticketFor(t, messages), Gateway: "loja1", Kind: KindFallback, Text: "fallback"})
	require.Error(t, err)

	var te *pkgError.TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 3, te.Attempts)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, sender.texts, 3)
}

func TestDispatcher_ClientErrorIsNotRetried(t *testing.T) {
	messages, _ := setupStores(t)
	sender := &fakeSender{textErrs: []error{&gateway.StatusError{Status: 400, Body: "invalid number"}}}
	d := NewDispatcher(sender, messages, nil, DispatcherConfig{Policy: fastPolicy})

	_, err := d.Send(context.Background(), Outbound{Ticket: ticketFor(t, messages), Gateway: "loja1", Text: "x"})
	require.Error(t, err)
	assert.Len(t, sender.texts, 1)
}

func TestDispatcher_AudioFallsBackToText(t *testing.T) {
	messages, _ := setupStores(t)
	sender := &fakeSender{audioErr: &gateway.StatusError{Status: 400}, messageID: "GW-2"}
	d := NewDispatcher(sender, messages, nil, DispatcherConfig{Policy: fastPolicy})

	res, err := d.Send(context.Background(), Outbound{Ticket: ticketFor(t, messages), Gateway: "loja1", Text: "resposta", Audio: "data:audio/mpeg;base64,AAAA"})
	require.NoError(t, err)
	assert.False(t, res.AsAudio)
	assert.Equal(t, 1, sender.audios)
	assert.Equal(t, []string{"resposta"}, sender.texts)
}

func TestDispatcher_AudioSentAsVoiceNote(t *testing.T) {
	messages, _ := setupStores(t)
	sender := &fakeSender{}
	d := NewDispatcher(sender, messages, nil, DispatcherConfig{Policy: fastPolicy})

	res, err := d.Send(context.Background(), Outbound{Ticket: ticketFor(t, messages), Gateway: "loja1", Text: "resposta", Audio: "data:audio/mpeg;base64,AAAA"})
	require.NoError(t, err)
	assert.True(t, res.AsAudio)
	assert.True(t, res.Recorded)
	assert.Contains(t, res.MessageID, "out-")
	assert.Empty(t, sender.texts)
}

func TestDispatcher_NothingToSend(t *testing.T) {
	messages, _ := setupStores(t)
	d := NewDispatcher(&fakeSender{}, messages, nil, DispatcherConfig{Policy: fastPolicy})
	_, err := d.Send(context.Background(), Outbound{Ticket: ticketFor(t, messages), Text: "  "})
	var ve pkgError.ValidationError
	assert.ErrorAs(t, err, &ve)
}
