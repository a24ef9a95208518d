package domain

import "time"

// DebounceState is the per-ticket scheduling row. Scheduled means a batch is
// waiting for DebounceUntil; Processing is the claim flag held by the one
// invocation that consumes it, identified by ClaimID.
//
// SettledBatchID and SettledIDs name a batch that was answered but could not
// be marked processed. The next claim owner marks them before building a new
// batch.
type DebounceState struct {
	TicketID       string     `json:"ticket_id"`
	DebounceUntil  time.Time  `json:"debounce_until"`
	Scheduled      bool       `json:"scheduled"`
	Processing     bool       `json:"processing"`
	ClaimID        string     `json:"claim_id,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	SettledBatchID string     `json:"settled_batch_id,omitempty"`
	SettledIDs     []string   `json:"settled_ids,omitempty"`
	LastUpdated    time.Time  `json:"last_updated"`
}

// MessageBatch is the set of inbound messages consumed by one invocation. Its
// ID is the claim id of the invocation. Final is set once the batch has been
// deferred too often: the handler must answer it (at least with a fallback)
// or leave it pending.
type MessageBatch struct {
	ID        string          `json:"id"`
	TicketID  string          `json:"ticket_id"`
	ClaimedAt time.Time       `json:"claimed_at"`
	Messages  []TicketMessage `json:"messages"`
	Final     bool            `json:"final,omitempty"`
}

// MessageIDs returns the ids of the batch messages in order.
func (b MessageBatch) MessageIDs() []string {
	ids := make([]string, 0, len(b.Messages))
	for _, m := range b.Messages {
		ids = append(ids, m.MessageID)
	}
	return ids
}
