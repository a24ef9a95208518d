package domain

import (
	"context"
	"time"
)

// MessageStore persists messages and tickets.
type MessageStore interface {
	// AppendMessage resolves or creates the ticket and links msg to it in a
	// single transaction. A message id already present yields a *DuplicateError.
	AppendMessage(ctx context.Context, msg Message, raw []byte) (string, error)
	FindMessage(ctx context.Context, messageID string) (ticketID string, found bool, err error)
	GetTicket(ctx context.Context, ticketID string) (*Ticket, error)
	RecentHistory(ctx context.Context, ticketID string, before time.Time, limit int) ([]TicketMessage, error)
	PendingBatch(ctx context.Context, ticketID string) ([]TicketMessage, error)
	MarkProcessed(ctx context.Context, ticketID, batchID string, messageIDs []string) error
}

// DebounceStore holds the per-ticket scheduling rows.
type DebounceStore interface {
	Schedule(ctx context.Context, ticketID string, until time.Time) error
	Get(ctx context.Context, ticketID string) (*DebounceState, error)
	// Claim flips the row into processing under claimID when it is due and
	// unclaimed, or when the previous claim is older than staleBefore. It
	// reports whether this caller won.
	Claim(ctx context.Context, ticketID, claimID string, now, staleBefore time.Time) (bool, error)
	// Heartbeat refreshes claimed_at. It reports false once claimID no longer
	// holds the row.
	Heartbeat(ctx context.Context, ticketID, claimID string, now time.Time) (bool, error)
	// Release clears the processing flag if claimID still holds it. When
	// reschedule is set the row is scheduled again at until.
	Release(ctx context.Context, ticketID, claimID string, reschedule bool, until time.Time) error
	// Settle records messageIDs as answered by batch claimID and releases the
	// claim in the same statement.
	Settle(ctx context.Context, ticketID, claimID string, messageIDs []string) error
	// ClearSettled drops the settled marker once its messages are marked.
	ClearSettled(ctx context.Context, ticketID, claimID string) error
	// Due lists rows whose window has passed, plus rows whose claim went stale.
	Due(ctx context.Context, now, staleBefore time.Time, limit int) ([]DebounceState, error)
}

// SeenCache is a fast negative/positive cache in front of the messages table.
type SeenCache interface {
	Seen(ctx context.Context, instanceID, messageID string) (string, bool, error)
	Remember(ctx context.Context, instanceID, messageID, ticketID string) error
}

// EventPublisher fans ticket events out to live listeners.
type EventPublisher interface {
	Publish(ctx context.Context, event TicketEvent) error
}
