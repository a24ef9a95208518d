package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AzielCF/az-inbox/inbox/domain"
	"github.com/AzielCF/az-inbox/pkg/metrics"
	"github.com/AzielCF/az-inbox/pkg/msgworker"
	"github.com/AzielCF/az-inbox/pkg/retry"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// BatchHandler consumes one claimed batch. Returning an error wrapping
// ErrBatchDeferred leaves the messages pending and schedules the ticket again.
type BatchHandler func(ctx context.Context, batch domain.MessageBatch) error

// ErrBatchDeferred marks a batch that failed before anything was sent.
var ErrBatchDeferred = errors.New("batch deferred")

// maxDeferrals bounds how many times one ticket's batch is put back before the
// handler is asked to answer it as final.
const maxDeferrals = 3

type SchedulerConfig struct {
	Window        time.Duration
	ClaimTTL      time.Duration
	SweepInterval time.Duration
	SweepLimit    int
}

// DebounceScheduler coalesces bursts of inbound messages per ticket. The
// durable debounce_state row is the source of truth; in-process timers only
// decide when to look at it, and the sweep covers timers lost to restarts or
// other replicas.
type DebounceScheduler struct {
	store    domain.DebounceStore
	messages domain.MessageStore
	pool     *msgworker.Pool
	handler  BatchHandler
	cfg      SchedulerConfig
	now      func() time.Time

	mu        sync.Mutex
	timers    map[string]*time.Timer
	deferrals map[string]int
	stopped   bool

	ctx    context.Context
	cancel context.CancelFunc
	cron   *cron.Cron
}

func NewDebounceScheduler(store domain.DebounceStore, messages domain.MessageStore, pool *msgworker.Pool, cfg SchedulerConfig) *DebounceScheduler {
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 2 * time.Minute
	}
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = 200
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DebounceScheduler{
		store:     store,
		messages:  messages,
		pool:      pool,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		timers:    make(map[string]*time.Timer),
		deferrals: make(map[string]int),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetHandler installs the batch consumer. It must be called before Start.
func (s *DebounceScheduler) SetHandler(h BatchHandler) {
	s.handler = h
}

// OnInboundMessage pushes the ticket's deadline to now+window and makes sure a
// timer exists. An armed timer is left alone: when it fires it re-reads the
// row and re-arms for the remaining time.
func (s *DebounceScheduler) OnInboundMessage(ctx context.Context, ticketID string) error {
	if err := s.store.Schedule(ctx, ticketID, s.now().Add(s.cfg.Window)); err != nil {
		return err
	}
	s.arm(ticketID, s.cfg.Window)
	return nil
}

func (s *DebounceScheduler) arm(ticketID string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if _, ok := s.timers[ticketID]; ok {
		return
	}
	if delay < 0 {
		delay = 0
	}
	s.timers[ticketID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, ticketID)
		s.mu.Unlock()
		s.TryProcess(s.ctx, ticketID)
	})
}

// Pending reports the number of armed timers.
func (s *DebounceScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// TryProcess claims the ticket's batch if its window has passed and hands it
// to the worker pool. It returns true when this call won the claim.
func (s *DebounceScheduler) TryProcess(ctx context.Context, ticketID string) bool {
	log := logrus.WithField("ticket_id", ticketID)

	st, err := s.store.Get(ctx, ticketID)
	if err != nil {
		log.WithError(err).Error("[DEBOUNCE] could not read debounce state")
		return false
	}
	if st == nil {
		return false
	}

	now := s.now()
	staleBefore := now.Add(-s.cfg.ClaimTTL)
	staleClaim := st.Processing && st.ClaimedAt != nil && st.ClaimedAt.Before(staleBefore)
	if !staleClaim {
		if !st.Scheduled || st.Processing {
			return false
		}
		if st.DebounceUntil.After(now) {
			s.arm(ticketID, st.DebounceUntil.Sub(now))
			return false
		}
	}

	claimID := uuid.NewString()
	won, err := s.store.Claim(ctx, ticketID, claimID, now, staleBefore)
	if err != nil {
		log.WithError(err).Error("[DEBOUNCE] claim failed")
		return false
	}
	if !won {
		metrics.ClaimConflicts.Inc()
		log.Debug("[DEBOUNCE] batch already claimed elsewhere")
		return false
	}

	ok := s.pool.TryDispatch(msgworker.Job{
		Key: ticketID,
		Handler: func(jobCtx context.Context) error {
			return s.runBatch(jobCtx, ticketID, claimID, now)
		},
	})
	if !ok {
		log.Warn("[DEBOUNCE] worker pool saturated, batch put back")
		s.release(context.WithoutCancel(ctx), ticketID, claimID, true)
	}
	return true
}

func (s *DebounceScheduler) runBatch(ctx context.Context, ticketID, claimID string, claimedAt time.Time) error {
	log := logrus.WithFields(logrus.Fields{"ticket_id": ticketID, "batch_id": claimID})
	bg := context.WithoutCancel(ctx)

	// shutting down: leave the batch for the next sweep
	if ctx.Err() != nil {
		s.release(bg, ticketID, claimID, true)
		return ctx.Err()
	}

	st, err := s.store.Get(ctx, ticketID)
	if err != nil {
		s.release(bg, ticketID, claimID, true)
		return err
	}
	if st == nil || st.ClaimID != claimID {
		log.Warn("[DEBOUNCE] claim lost before the batch started")
		return nil
	}
	if st.SettledBatchID != "" {
		if err := s.markProcessed(bg, ticketID, st.SettledBatchID, st.SettledIDs); err != nil {
			log.WithError(err).Error("[DEBOUNCE] answered batch still cannot be marked processed")
			s.release(bg, ticketID, claimID, true)
			return err
		}
		if err := s.store.ClearSettled(bg, ticketID, claimID); err != nil {
			s.release(bg, ticketID, claimID, true)
			return err
		}
	}

	pending, err := s.messages.PendingBatch(ctx, ticketID)
	if err != nil {
		s.release(bg, ticketID, claimID, true)
		return err
	}
	if len(pending) == 0 {
		s.release(bg, ticketID, claimID, false)
		return nil
	}

	batch := domain.MessageBatch{
		ID:        claimID,
		TicketID:  ticketID,
		ClaimedAt: claimedAt,
		Messages:  pending,
		Final:     s.deferralsExhausted(ticketID),
	}
	log = log.WithField("messages", len(pending))
	log.Info("[DEBOUNCE] processing batch")

	jobCtx, stop := s.holdClaim(ctx, ticketID, claimID)
	herr := s.runHandler(jobCtx, batch)
	lost := stop()

	if errors.Is(herr, ErrBatchDeferred) {
		switch {
		case lost:
			log.WithError(herr).Warn("[DEBOUNCE] claim lost while processing, batch left to its new owner")
		case batch.Final:
			log.WithError(herr).Error("[DEBOUNCE] batch could not be answered, left pending for the sweep")
			s.release(bg, ticketID, claimID, true)
		default:
			s.noteDeferral(ticketID)
			log.WithError(herr).Warn("[DEBOUNCE] batch deferred")
			s.release(bg, ticketID, claimID, true)
		}
		return herr
	}
	s.clearDeferrals(ticketID)

	if err := s.markProcessed(bg, ticketID, batch.ID, batch.MessageIDs()); err != nil {
		// keep the answered ids on the row so the next owner does not answer them again
		log.WithError(err).Error("[DEBOUNCE] batch handled but not marked processed")
		if serr := s.store.Settle(bg, ticketID, claimID, batch.MessageIDs()); serr != nil {
			log.WithError(serr).Error("[DEBOUNCE] could not settle batch, claim kept until it goes stale")
			return herr
		}
		s.rearm(bg, ticketID)
		return herr
	}
	s.release(bg, ticketID, claimID, false)
	return herr
}

func (s *DebounceScheduler) markProcessed(ctx context.Context, ticketID, batchID string, ids []string) error {
	_, err := retry.DefaultPolicy.Do(ctx, func(int) error {
		return s.messages.MarkProcessed(ctx, ticketID, batchID, ids)
	})
	return err
}

// holdClaim refreshes the claim while the handler runs, so a slow batch is
// never seen as stale. The returned context is cancelled when the claim is
// lost or cannot be refreshed for longer than the TTL allows; stop reports
// whether that happened.
func (s *DebounceScheduler) holdClaim(ctx context.Context, ticketID, claimID string) (context.Context, func() bool) {
	jobCtx, cancel := context.WithCancel(ctx)
	interval := s.cfg.ClaimTTL / 3
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	var lost atomic.Bool

	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		lastBeat := s.now()
		for {
			select {
			case <-done:
				return
			case <-jobCtx.Done():
				return
			case <-ticker.C:
			}
			ok, err := s.store.Heartbeat(jobCtx, ticketID, claimID, s.now())
			switch {
			case err == nil && ok:
				lastBeat = s.now()
				continue
			case err == nil:
				logrus.WithField("ticket_id", ticketID).Warn("[DEBOUNCE] claim taken over by another owner")
			case s.now().Sub(lastBeat) < 2*interval:
				logrus.WithError(err).WithField("ticket_id", ticketID).Warn("[DEBOUNCE] heartbeat failed")
				continue
			default:
				logrus.WithError(err).WithField("ticket_id", ticketID).Error("[DEBOUNCE] claim could not be refreshed, giving it up")
			}
			lost.Store(true)
			cancel()
			return
		}
	}()

	return jobCtx, func() bool {
		close(done)
		<-exited
		cancel()
		return lost.Load()
	}
}

func (s *DebounceScheduler) runHandler(ctx context.Context, batch domain.MessageBatch) (err error) {
	if s.handler == nil {
		return fmt.Errorf("no batch handler installed")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch handler panic: %v", r)
		}
	}()
	return s.handler(ctx, batch)
}

// release clears the claim and re-arms the ticket if it is scheduled again,
// either because we asked for it or because messages arrived meanwhile.
func (s *DebounceScheduler) release(ctx context.Context, ticketID, claimID string, reschedule bool) {
	until := s.now().Add(s.cfg.Window)
	if err := s.store.Release(ctx, ticketID, claimID, reschedule, until); err != nil {
		logrus.WithError(err).WithField("ticket_id", ticketID).Error("[DEBOUNCE] could not release claim, sweep will recover it")
		return
	}
	s.rearm(ctx, ticketID)
}

func (s *DebounceScheduler) rearm(ctx context.Context, ticketID string) {
	st, err := s.store.Get(ctx, ticketID)
	if err != nil || st == nil || !st.Scheduled || st.Processing {
		return
	}
	s.arm(ticketID, st.DebounceUntil.Sub(s.now()))
}

func (s *DebounceScheduler) deferralsExhausted(ticketID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deferrals[ticketID] >= maxDeferrals
}

func (s *DebounceScheduler) noteDeferral(ticketID string) {
	s.mu.Lock()
	s.deferrals[ticketID]++
	s.mu.Unlock()
}

func (s *DebounceScheduler) clearDeferrals(ticketID string) {
	s.mu.Lock()
	delete(s.deferrals, ticketID)
	s.mu.Unlock()
}

// Sweep processes every due or stale row. It is what replaces in-process
// timers when the service runs as short-lived invocations.
func (s *DebounceScheduler) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.Due(ctx, now, now.Add(-s.cfg.ClaimTTL), s.cfg.SweepLimit)
	if err != nil {
		return 0, err
	}
	claimed := 0
	for _, st := range due {
		if s.TryProcess(ctx, st.TicketID) {
			claimed++
		}
	}
	if claimed > 0 {
		logrus.WithFields(logrus.Fields{"due": len(due), "claimed": claimed}).Info("[SWEEP] dispatched due batches")
	}
	return claimed, nil
}

// Start runs an initial sweep and then sweeps on the configured interval.
func (s *DebounceScheduler) Start() error {
	if _, err := s.Sweep(s.ctx); err != nil {
		logrus.WithError(err).Warn("[SWEEP] initial sweep failed")
	}
	if s.cfg.SweepInterval <= 0 {
		return nil
	}

	logger := cron.PrintfLogger(logrus.StandardLogger())
	s.cron = cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.SweepInterval), func() {
		if _, err := s.Sweep(s.ctx); err != nil {
			logrus.WithError(err).Warn("[SWEEP] sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron.Start()
	logrus.Infof("[DEBOUNCE] window %s, sweeping every %s", s.cfg.Window, s.cfg.SweepInterval)
	return nil
}

// Stop halts the sweep and all armed timers. Rows stay scheduled in the
// database and are picked up by the next sweep after restart.
func (s *DebounceScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.cancel()
}
