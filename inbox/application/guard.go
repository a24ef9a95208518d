package application

import (
	"context"

	"github.com/AzielCF/az-inbox/inbox/domain"
	"github.com/sirupsen/logrus"
)

// Verdict is the guard's answer for one message id.
type Verdict struct {
	AlreadyProcessed bool
	TicketID         string
}

// Guard short-circuits webhook retries before any write. It is a fast path
// only: the unique message_id constraint inside AppendMessage is what makes
// concurrent deliveries safe.
type Guard struct {
	store domain.MessageStore
	seen  domain.SeenCache
}

// NewGuard builds a guard. seen may be nil.
func NewGuard(store domain.MessageStore, seen domain.SeenCache) *Guard {
	return &Guard{store: store, seen: seen}
}

func (g *Guard) Check(ctx context.Context, instanceID, messageID string) (Verdict, error) {
	if g.seen != nil {
		ticketID, ok, err := g.seen.Seen(ctx, instanceID, messageID)
		if err != nil {
			logrus.WithError(err).WithField("message_id", messageID).Warn("[INGEST] seen-cache lookup failed, falling back to database")
		} else if ok {
			return Verdict{AlreadyProcessed: true, TicketID: ticketID}, nil
		}
	}

	ticketID, found, err := g.store.FindMessage(ctx, messageID)
	if err != nil {
		return Verdict{}, err
	}
	if found {
		return Verdict{AlreadyProcessed: true, TicketID: ticketID}, nil
	}
	return Verdict{}, nil
}

// Remember records a committed message in the seen-cache. Failures are logged.
func (g *Guard) Remember(ctx context.Context, instanceID, messageID, ticketID string) {
	if g.seen == nil {
		return
	}
	if err := g.seen.Remember(ctx, instanceID, messageID, ticketID); err != nil {
		logrus.WithError(err).WithField("message_id", messageID).Warn("[INGEST] seen-cache write failed")
	}
}
