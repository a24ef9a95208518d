package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/AzielCF/az-inbox/inbox/domain"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	mu        sync.Mutex
	published []string
}

func (b *fakeBus) Publish(_ context.Context, _ string, payload string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, payload)
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, _ string, _ func(string)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *fakeBus) snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.published...)
}

func TestHub_PublishReachesBus(t *testing.T) {
	bus := &fakeBus{}
	hub := NewHub(bus, "inbox:ws", "replica-a")
	go hub.Run()
	t.Cleanup(hub.Stop)

	require.NoError(t, hub.Publish(context.Background(), domain.TicketEvent{Type: domain.EventMessageStored, TicketID: "t-1"}))

	require.Eventually(t, func() bool { return len(bus.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	var msg BroadcastMessage
	require.NoError(t, json.Unmarshal([]byte(bus.snapshot()[0]), &msg))
	assert.Equal(t, "replica-a", msg.SenderID)
	assert.Equal(t, "t-1", msg.Result.TicketID)
	assert.Equal(t, domain.EventMessageStored, msg.Code)
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	hub := NewHub(nil, "inbox:ws", "replica-a")

	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBuffer+10; i++ {
			_ = hub.Publish(context.Background(), domain.TicketEvent{TicketID: "t"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked without a running hub")
	}
}

func TestHub_RejectsPlainHTTP(t *testing.T) {
	hub := NewHub(nil, "inbox:ws", "replica-a")
	t.Cleanup(hub.Stop)
	app := fiber.New()
	hub.RegisterRoutes(app.Group("/api"))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/ws", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
