package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AzielCF/az-inbox/inbox/domain"
	"github.com/AzielCF/az-inbox/inbox/repository"
	"github.com/AzielCF/az-inbox/pkg/msgworker"
	"github.com/AzielCF/az-inbox/pkg/retry"
	tenantDomain "github.com/AzielCF/az-inbox/tenant/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var fastPolicy = retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}

func setupStores(t *testing.T) (*repository.MessageGormRepository, *repository.DebounceGormRepository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	messages := repository.NewMessageGormRepository(db)
	require.NoError(t, messages.Init(context.Background()))
	return messages, repository.NewDebounceGormRepository(db)
}

func startPool(t *testing.T) *msgworker.Pool {
	t.Helper()
	pool := msgworker.NewPool(4, 100)
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)
	return pool
}

type fakeResolver map[string]tenantDomain.Instance

func (f fakeResolver) ResolveInstance(_ context.Context, key string) (*tenantDomain.Instance, error) {
	inst, ok := f[key]
	if !ok {
		return nil, tenantDomain.ErrNotFound
	}
	return &inst, nil
}

var knownInstances = fakeResolver{
	"loja1": {ID: "inst-1", ClientID: "client-1", GatewayName: "loja1", Status: tenantDomain.InstanceConnected},
}

type countingScheduler struct {
	mu    sync.Mutex
	calls []string
}

func (c *countingScheduler) OnInboundMessage(_ context.Context, ticketID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, ticketID)
	return nil
}

func (c *countingScheduler) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.TicketEvent
}

func (r *recordingPublisher) Publish(_ context.Context, ev domain.TicketEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// batchRecorder is a BatchHandler that records every batch it sees.
type batchRecorder struct {
	mu      sync.Mutex
	batches []domain.MessageBatch
	at      []time.Time
	err     error
}

func (b *batchRecorder) handle(_ context.Context, batch domain.MessageBatch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = append(b.batches, batch)
	b.at = append(b.at, time.Now())
	return b.err
}

func (b *batchRecorder) snapshot() []domain.MessageBatch {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.MessageBatch(nil), b.batches...)
}

// flakyMarks fails MarkProcessed while failing is set.
type flakyMarks struct {
	domain.MessageStore
	failing atomic.Bool
}

func (f *flakyMarks) MarkProcessed(ctx context.Context, ticketID, batchID string, ids []string) error {
	if f.failing.Load() {
		return errors.New("database is locked")
	}
	return f.MessageStore.MarkProcessed(ctx, ticketID, batchID, ids)
}
