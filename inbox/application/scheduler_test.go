package application

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/AzielCF/az-inbox/inbox/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendInbound(t *testing.T, store domain.MessageStore, id, body string) string {
	t.Helper()
	ticketID, err := store.AppendMessage(context.Background(), domain.Message{
		MessageID:  id,
		ChatID:     "5511999999999@c.us",
		InstanceID: "inst-1",
		ClientID:   "client-1",
		Body:       body,
		Type:       domain.MessageTypeText,
		Timestamp:  time.Now().UTC(),
	}, nil)
	require.NoError(t, err)
	return ticketID
}

func TestScheduler_CoalescesBurstIntoOneBatch(t *testing.T) {
	messages, debounce := setupStores(t)
	rec := &batchRecorder{}
	window := 150 * time.Millisecond
	sched := NewDebounceScheduler(debounce, messages, startPool(t), SchedulerConfig{Window: window})
	sched.SetHandler(rec.handle)
	t.Cleanup(sched.Stop)
	ctx := context.Background()

	var ticketID string
	var last time.Time
	for i, body := range []string{"Oi", "queria saber o preço", "do plano anual"} {
		if i > 0 {
			time.Sleep(50 * time.Millisecond)
		}
		ticketID = appendInbound(t, messages, fmt.Sprintf("m%d", i), body)
		require.NoError(t, sched.OnInboundMessage(ctx, ticketID))
		last = time.Now()
		assert.LessOrEqual(t, sched.Pending(), 1, "one timer per ticket")
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(2 * window)

	batches := rec.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"m0", "m1", "m2"}, batches[0].MessageIDs())
	assert.Equal(t, ticketID, batches[0].TicketID)

	rec.mu.Lock()
	firedAt := rec.at[0]
	rec.mu.Unlock()
	assert.GreaterOrEqual(t, firedAt.Sub(last), window-10*time.Millisecond, "window runs from the last message")

	pending, err := messages.PendingBatch(ctx, ticketID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	st, err := debounce.Get(ctx, ticketID)
	require.NoError(t, err)
	assert.False(t, st.Scheduled)
	assert.False(t, st.Processing)
}

func TestScheduler_MessageDuringProcessingStartsNextBatch(t *testing.T) {
	messages, debounce := setupStores(t)
	window := 40 * time.Millisecond
	sched := NewDebounceScheduler(debounce, messages, startPool(t), SchedulerConfig{Window: window})
	t.Cleanup(sched.Stop)
	ctx := context.Background()

	var ticketID string
	release := make(chan struct{})
	rec := &batchRecorder{}
	sched.SetHandler(func(ctx context.Context, b domain.MessageBatch) error {
		_ = rec.handle(ctx, b)
		if len(rec.snapshot()) == 1 {
			_, err := messages.AppendMessage(ctx, domain.Message{
				MessageID: "late", ChatID: "5511999999999@c.us", InstanceID: "inst-1", ClientID: "client-1",
				Body: "mais uma coisa", Type: domain.MessageTypeText, Timestamp: time.Now().UTC(),
			}, nil)
			assert.NoError(t, err)
			assert.NoError(t, sched.OnInboundMessage(ctx, ticketID))
			close(release)
		}
		return nil
	})

	ticketID = appendInbound(t, messages, "first", "Oi")
	require.NoError(t, sched.OnInboundMessage(ctx, ticketID))
	<-release

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	batches := rec.snapshot()
	assert.Equal(t, []string{"first"}, batches[0].MessageIDs())
	assert.Equal(t, []string{"late"}, batches[1].MessageIDs())
}

func TestScheduler_DeferredBatchStaysPending(t *testing.T) {
	messages, debounce := setupStores(t)
	rec := &batchRecorder{err: fmt.Errorf("%w: ticket lookup failed", ErrBatchDeferred)}
	sched := NewDebounceScheduler(debounce, messages, startPool(t), SchedulerConfig{Window: time.Hour})
	sched.SetHandler(rec.handle)
	t.Cleanup(sched.Stop)
	ctx := context.Background()

	ticketID := appendInbound(t, messages, "m1", "Oi")
	require.NoError(t, debounce.Schedule(ctx, ticketID, time.Now().Add(-time.Second)))

	claimed, err := sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)
	require.Eventually(t, func() bool {
		st, _ := debounce.Get(ctx, ticketID)
		return len(rec.snapshot()) == 1 && st != nil && !st.Processing
	}, time.Second, 5*time.Millisecond)

	pending, err := messages.PendingBatch(ctx, ticketID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	st, err := debounce.Get(ctx, ticketID)
	require.NoError(t, err)
	assert.True(t, st.Scheduled)
}

func TestScheduler_SweepClaimsOnceAcrossReplicas(t *testing.T) {
	messages, debounce := setupStores(t)
	rec := &batchRecorder{}
	pool := startPool(t)
	a := NewDebounceScheduler(debounce, messages, pool, SchedulerConfig{Window: time.Hour})
	b := NewDebounceScheduler(debounce, messages, pool, SchedulerConfig{Window: time.Hour})
	a.SetHandler(rec.handle)
	b.SetHandler(rec.handle)
	t.Cleanup(a.Stop)
	t.Cleanup(b.Stop)
	ctx := context.Background()

	ticketID := appendInbound(t, messages, "m1", "Oi")
	require.NoError(t, debounce.Schedule(ctx, ticketID, time.Now().Add(-time.Second)))

	ca, err := a.Sweep(ctx)
	require.NoError(t, err)
	cb, err := b.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ca+cb)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, a.TryProcess(ctx, ticketID))
}

func TestScheduler_EarlyTriggerRearms(t *testing.T) {
	messages, debounce := setupStores(t)
	rec := &batchRecorder{}
	sched := NewDebounceScheduler(debounce, messages, startPool(t), SchedulerConfig{Window: 80 * time.Millisecond})
	sched.SetHandler(rec.handle)
	t.Cleanup(sched.Stop)
	ctx := context.Background()

	ticketID := appendInbound(t, messages, "m1", "Oi")
	require.NoError(t, debounce.Schedule(ctx, ticketID, time.Now().Add(80*time.Millisecond)))

	assert.False(t, sched.TryProcess(ctx, ticketID))
	assert.Equal(t, 1, sched.Pending())
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_SlowBatchIsNotTakenOverByAnotherReplica(t *testing.T) {
	messages, debounce := setupStores(t)
	cfg := SchedulerConfig{Window: time.Hour, ClaimTTL: 100 * time.Millisecond}
	a := NewDebounceScheduler(debounce, messages, startPool(t), cfg)
	b := NewDebounceScheduler(debounce, messages, startPool(t), cfg)
	t.Cleanup(a.Stop)
	t.Cleanup(b.Stop)

	rec := &batchRecorder{}
	slow := func(ctx context.Context, batch domain.MessageBatch) error {
		_ = rec.handle(ctx, batch)
		time.Sleep(400 * time.Millisecond)
		return nil
	}
	a.SetHandler(slow)
	b.SetHandler(slow)
	ctx := context.Background()

	ticketID := appendInbound(t, messages, "m1", "Oi")
	require.NoError(t, debounce.Schedule(ctx, ticketID, time.Now().Add(-time.Second)))

	ca, err := a.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, ca)

	time.Sleep(200 * time.Millisecond)
	cb, err := b.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, cb, "claim refreshed by its owner must not look stale")

	require.Eventually(t, func() bool {
		st, _ := debounce.Get(ctx, ticketID)
		return st != nil && !st.Processing
	}, 2*time.Second, 10*time.Millisecond)
	cb, err = b.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, cb)

	batches := rec.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"m1"}, batches[0].MessageIDs())
}

func TestScheduler_LostClaimCancelsHandler(t *testing.T) {
	messages, debounce := setupStores(t)
	sched := NewDebounceScheduler(debounce, messages, startPool(t), SchedulerConfig{Window: time.Hour, ClaimTTL: 60 * time.Millisecond})
	t.Cleanup(sched.Stop)
	ctx := context.Background()

	ticketID := appendInbound(t, messages, "m1", "Oi")
	require.NoError(t, debounce.Schedule(ctx, ticketID, time.Now().Add(-time.Second)))

	started := make(chan struct{})
	cancelled := make(chan struct{})
	sched.SetHandler(func(ctx context.Context, _ domain.MessageBatch) error {
		close(started)
		select {
		case <-ctx.Done():
			close(cancelled)
			return fmt.Errorf("%w: %v", ErrBatchDeferred, ctx.Err())
		case <-time.After(2 * time.Second):
			return nil
		}
	})

	require.True(t, sched.TryProcess(ctx, ticketID))
	<-started
	// another owner takes the row over
	won, err := debounce.Claim(ctx, ticketID, "intruder", time.Now().Add(time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.True(t, won)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("handler kept running after its claim was taken over")
	}

	waitIdle(t, sched)
	st, err := debounce.Get(ctx, ticketID)
	require.NoError(t, err)
	assert.Equal(t, "intruder", st.ClaimID)
	assert.True(t, st.Processing)
	pending, err := messages.PendingBatch(ctx, ticketID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestScheduler_DeferralCapMarksBatchFinal(t *testing.T) {
	messages, debounce := setupStores(t)
	sched := NewDebounceScheduler(debounce, messages, startPool(t), SchedulerConfig{Window: 20 * time.Millisecond})
	t.Cleanup(sched.Stop)
	ctx := context.Background()

	rec := &batchRecorder{}
	sched.SetHandler(func(ctx context.Context, batch domain.MessageBatch) error {
		_ = rec.handle(ctx, batch)
		if !batch.Final {
			return fmt.Errorf("%w: ticket lookup failed", ErrBatchDeferred)
		}
		return nil
	})

	ticketID := appendInbound(t, messages, "m1", "Oi")
	require.NoError(t, sched.OnInboundMessage(ctx, ticketID))

	require.Eventually(t, func() bool {
		pending, err := messages.PendingBatch(ctx, ticketID)
		return err == nil && len(pending) == 0
	}, 3*time.Second, 10*time.Millisecond)

	batches := rec.snapshot()
	require.Len(t, batches, maxDeferrals+1)
	for _, b := range batches[:maxDeferrals] {
		assert.False(t, b.Final)
	}
	assert.True(t, batches[maxDeferrals].Final)
}

func TestScheduler_FinalDeferralLeavesBatchPending(t *testing.T) {
	messages, debounce := setupStores(t)
	rec := &batchRecorder{err: fmt.Errorf("%w: ticket lookup failed", ErrBatchDeferred)}
	sched := NewDebounceScheduler(debounce, messages, startPool(t), SchedulerConfig{Window: 20 * time.Millisecond})
	sched.SetHandler(rec.handle)
	t.Cleanup(sched.Stop)
	ctx := context.Background()

	ticketID := appendInbound(t, messages, "m1", "Oi")
	require.NoError(t, sched.OnInboundMessage(ctx, ticketID))

	require.Eventually(t, func() bool { return len(rec.snapshot()) >= maxDeferrals+2 }, 3*time.Second, 10*time.Millisecond)
	sched.Stop()
	waitIdle(t, sched)

	batches := rec.snapshot()
	assert.True(t, batches[len(batches)-1].Final)
	pending, err := messages.PendingBatch(ctx, ticketID)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "an unanswered batch is never consumed")
	st, err := debounce.Get(ctx, ticketID)
	require.NoError(t, err)
	assert.True(t, st.Scheduled)
}

func TestScheduler_AnsweredBatchIsNotAnsweredAgain(t *testing.T) {
	inner, debounce := setupStores(t)
	messages := &flakyMarks{MessageStore: inner}
	messages.failing.Store(true)
	rec := &batchRecorder{}
	sched := NewDebounceScheduler(debounce, messages, startPool(t), SchedulerConfig{Window: 30 * time.Millisecond})
	sched.SetHandler(rec.handle)
	t.Cleanup(sched.Stop)
	ctx := context.Background()

	ticketID := appendInbound(t, inner, "m1", "Oi")
	require.NoError(t, sched.OnInboundMessage(ctx, ticketID))

	require.Eventually(t, func() bool {
		st, _ := debounce.Get(ctx, ticketID)
		return st != nil && st.SettledBatchID != "" && !st.Processing
	}, 5*time.Second, 10*time.Millisecond)
	first := rec.snapshot()[0]

	messages.failing.Store(false)
	appendInbound(t, inner, "m2", "e o preço?")
	require.NoError(t, sched.OnInboundMessage(ctx, ticketID))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"m2"}, rec.snapshot()[1].MessageIDs())

	require.Eventually(t, func() bool {
		pending, err := inner.PendingBatch(ctx, ticketID)
		return err == nil && len(pending) == 0
	}, 2*time.Second, 10*time.Millisecond)
	history, err := inner.RecentHistory(ctx, ticketID, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[0].BatchID)

	st, err := debounce.Get(ctx, ticketID)
	require.NoError(t, err)
	assert.Empty(t, st.SettledBatchID)
}

func waitIdle(t *testing.T, s *DebounceScheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.pool.WaitIdle(ctx))
}
