package application

import (
	"context"
	"errors"
	"testing"
	"time"

	pkgError "github.com/AzielCF/az-inbox/pkg/error"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoke_ReplyWithHistory(t *testing.T) {
	store := setupMessages(t)
	past := time.Now().UTC().Add(-time.Hour)
	appendAt(t, store, "old-1", "Bom dia", false, past)
	appendAt(t, store, "old-2", "Bom dia! Em que posso ajudar?", true, past.Add(time.Second))
	// old history is already processed so it does not join the batch
	ticketID := appendAt(t, store, "old-3", "", false, past.Add(2*time.Second))
	require.NoError(t, store.MarkProcessed(context.Background(), ticketID, "prev", []string{"old-1", "old-3"}))

	ticket, batch := seedBatch(t, store, "Oi", "tudo bem?")
	p := &scriptedProvider{replies: []scripted{{text: "  Tudo ótimo!  "}}}
	inv, err := newInvoker(newDirectory(), store, p, nil).Invoke(context.Background(), ticket, batch)
	require.NoError(t, err)

	assert.Equal(t, "Tudo ótimo!", inv.Result.Text)
	assert.Equal(t, 1, inv.Result.Attempts)
	assert.Equal(t, "m-1", inv.Result.Model)
	assert.Equal(t, 0.4, inv.Result.Temperature)
	assert.Equal(t, 256, inv.Result.MaxTokens)
	assert.Equal(t, "loja1", inv.Resolution.GatewayInstance)
	assert.Equal(t, "Já te respondemos!", inv.Resolution.Fallback)

	require.Len(t, p.requests, 1)
	req := p.requests[0]
	assert.Equal(t, "Oi\ntudo bem?", req.UserText)
	assert.Equal(t, "sk-test", req.APIKey)
	require.Len(t, req.History, 2)
	assert.Equal(t, "Bom dia", req.History[0].Text)
	assert.Equal(t, "Bom dia! Em que posso ajudar?", req.History[1].Text)
}

func TestInvoke_AggregatesConfigurationGaps(t *testing.T) {
	store := setupMessages(t)
	ticket, batch := seedBatch(t, store, "Oi")
	dir := newDirectory()
	dir.credentials = nil
	dir.instance = nil
	p := &scriptedProvider{}

	inv, err := newInvoker(dir, store, p, nil).Invoke(context.Background(), ticket, batch)

	var fe *pkgError.FatalError
	require.True(t, errors.As(err, &fe))
	assert.True(t, fe.Has(pkgError.ReasonNoAICredentials))
	assert.True(t, fe.Has(pkgError.ReasonNoConnectedInstance))
	assert.False(t, fe.Has(pkgError.ReasonNoActiveAssistant))
	assert.Equal(t, 0, p.calls())
	assert.Equal(t, "Já te respondemos!", inv.Resolution.Fallback)
}

func TestInvoke_NoAssistantUsesDefaultFallback(t *testing.T) {
	store := setupMessages(t)
	ticket, batch := seedBatch(t, store, "Oi")
	dir := newDirectory()
	dir.queue = nil

	inv, err := newInvoker(dir, store, &scriptedProvider{}, nil).Invoke(context.Background(), ticket, batch)

	var fe *pkgError.FatalError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, []pkgError.FatalReason{pkgError.ReasonNoActiveAssistant}, fe.Reasons)
	assert.Equal(t, "Em breve retornamos.", inv.Resolution.Fallback)
	assert.Equal(t, "loja1", inv.Resolution.GatewayInstance)
}

func TestInvoke_DirectoryOutageIsStorageError(t *testing.T) {
	store := setupMessages(t)
	ticket, batch := seedBatch(t, store, "Oi")
	dir := newDirectory()
	dir.err = errors.New("connection refused")

	_, err := newInvoker(dir, store, &scriptedProvider{}, nil).Invoke(context.Background(), ticket, batch)

	var se *pkgError.StorageError
	assert.True(t, errors.As(err, &se))
	assert.True(t, pkgError.IsTransient(err))
}

func TestInvoke_NoContent(t *testing.T) {
	store := setupMessages(t)
	ticket, batch := seedBatch(t, store, " ", "")

	_, err := newInvoker(newDirectory(), store, &scriptedProvider{}, nil).Invoke(context.Background(), ticket, batch)

	var fe *pkgError.FatalError
	require.True(t, errors.As(err, &fe))
	assert.True(t, fe.Has(pkgError.ReasonNoContent))
}

func TestInvoke_RetriesTransientFailures(t *testing.T) {
	store := setupMessages(t)
	ticket, batch := seedBatch(t, store, "Oi")
	p := &scriptedProvider{replies: []scripted{
		{err: errors.New("503 overloaded")},
		{err: errors.New("503 overloaded")},
		{text: "Olá!"},
	}}

	inv, err := newInvoker(newDirectory(), store, p, nil).Invoke(context.Background(), ticket, batch)
	require.NoError(t, err)
	assert.Equal(t, "Olá!", inv.Result.Text)
	assert.Equal(t, 3, inv.Result.Attempts)
}

func TestInvoke_ExhaustedAttempts(t *testing.T) {
	store := setupMessages(t)
	ticket, batch := seedBatch(t, store, "Oi")
	boom := errors.New("503 overloaded")
	p := &scriptedProvider{replies: []scripted{{err: boom}, {err: boom}, {err: boom}, {text: "late"}}}

	inv, err := newInvoker(newDirectory(), store, p, nil).Invoke(context.Background(), ticket, batch)

	var te *pkgError.TransientError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 3, te.Attempts)
	assert.Equal(t, 3, p.calls())
	assert.Equal(t, 3, inv.Result.Attempts)
	assert.ErrorIs(t, err, boom)
}

func TestInvoke_PerAttemptTimeout(t *testing.T) {
	store := setupMessages(t)
	ticket, batch := seedBatch(t, store, "Oi")
	p := &scriptedProvider{delay: 200 * time.Millisecond}
	invoker := newInvoker(newDirectory(), store, p, nil)
	invoker.cfg.Timeout = 20 * time.Millisecond

	start := time.Now()
	_, err := invoker.Invoke(context.Background(), ticket, batch)

	assert.True(t, pkgError.IsTransient(err))
	assert.Equal(t, 3, p.calls())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestInvoke_EmptyResponseRetriedOnceThenFatal(t *testing.T) {
	store := setupMessages(t)
	ticket, batch := seedBatch(t, store, "Oi")
	p := &scriptedProvider{replies: []scripted{{text: " "}, {text: ""}, {text: "never"}}}

	_, err := newInvoker(newDirectory(), store, p, nil).Invoke(context.Background(), ticket, batch)

	var fe *pkgError.FatalError
	require.True(t, errors.As(err, &fe))
	assert.True(t, fe.Has(pkgError.ReasonEmptyResponse))
	assert.Equal(t, 2, p.calls())
}

func TestInvoke_EmptyThenText(t *testing.T) {
	store := setupMessages(t)
	ticket, batch := seedBatch(t, store, "Oi")
	p := &scriptedProvider{replies: []scripted{{text: ""}, {text: "Oi!"}}}

	inv, err := newInvoker(newDirectory(), store, p, nil).Invoke(context.Background(), ticket, batch)
	require.NoError(t, err)
	assert.Equal(t, "Oi!", inv.Result.Text)
	assert.Equal(t, 2, inv.Result.Attempts)
}

func TestInvoke_VoiceReply(t *testing.T) {
	store := setupMessages(t)
	ticket, batch := seedBatch(t, store, "Oi")
	dir := newDirectory()
	dir.assistant.VoiceEnabled = true
	dir.assistant.VoiceID = "voz-1"
	synth := &fakeSpeech{enabled: true}
	p := &scriptedProvider{replies: []scripted{{text: "Olá!"}}}

	inv, err := newInvoker(dir, store, p, synth).Invoke(context.Background(), ticket, batch)
	require.NoError(t, err)
	assert.True(t, inv.Result.IsAudio)
	assert.Equal(t, "T2dnUw==", inv.Result.Audio)
	require.Len(t, synth.got, 1)
	assert.Equal(t, "voz-1", synth.got[0].VoiceID)
	assert.Equal(t, "voice-key", synth.got[0].APIKey)
}

func TestInvoke_SpeechFailureFallsBackToText(t *testing.T) {
	store := setupMessages(t)
	ticket, batch := seedBatch(t, store, "Oi")
	dir := newDirectory()
	dir.assistant.VoiceEnabled = true
	synth := &fakeSpeech{enabled: true, err: errors.New("tts down")}
	p := &scriptedProvider{replies: []scripted{{text: "Olá!"}}}

	inv, err := newInvoker(dir, store, p, synth).Invoke(context.Background(), ticket, batch)
	require.NoError(t, err)
	assert.False(t, inv.Result.IsAudio)
	assert.Empty(t, inv.Result.Audio)
	assert.Equal(t, "Olá!", inv.Result.Text)
}

func TestInvokeDirect_UsesHistoryBeforeMessage(t *testing.T) {
	store := setupMessages(t)
	past := time.Now().UTC().Add(-time.Minute)
	appendAt(t, store, "h-1", "Oi", false, past)
	appendAt(t, store, "h-2", "Olá!", true, past.Add(time.Second))
	appendAt(t, store, "m-1", "Qual o horário?", false, past.Add(2*time.Second))
	p := &scriptedProvider{replies: []scripted{{text: "Das 9h às 18h."}}}

	inv, err := newInvoker(newDirectory(), store, p, nil).InvokeDirect(context.Background(), DirectRequest{
		Text:        "Qual o horário?",
		AssistantID: "a-1",
		ChatID:      "5511999999999@c.us",
		InstanceID:  "inst-1",
		MessageID:   "m-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Das 9h às 18h.", inv.Result.Text)

	require.Len(t, p.requests, 1)
	req := p.requests[0]
	assert.Equal(t, "Qual o horário?", req.UserText)
	require.Len(t, req.History, 2)
	assert.Equal(t, "Olá!", req.History[1].Text)
}

func TestInvokeDirect_UnknownAssistant(t *testing.T) {
	store := setupMessages(t)
	dir := newDirectory()
	dir.assistant = nil

	_, err := newInvoker(dir, store, &scriptedProvider{}, nil).InvokeDirect(context.Background(), DirectRequest{
		Text: "Oi", AssistantID: "nope", InstanceID: "inst-1",
	})

	var fe *pkgError.FatalError
	require.True(t, errors.As(err, &fe))
	assert.True(t, fe.Has(pkgError.ReasonNoActiveAssistant))
}

func TestInvokeDirect_EmptyText(t *testing.T) {
	store := setupMessages(t)

	_, err := newInvoker(newDirectory(), store, &scriptedProvider{}, nil).InvokeDirect(context.Background(), DirectRequest{
		Text: "  ", AssistantID: "a-1", InstanceID: "inst-1",
	})

	var fe *pkgError.FatalError
	require.True(t, errors.As(err, &fe))
	assert.True(t, fe.Has(pkgError.ReasonNoContent))
}
