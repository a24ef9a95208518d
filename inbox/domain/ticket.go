package domain

import "time"

// Ticket is the conversation thread for one (client, chat, instance) tuple.
type Ticket struct {
	ID              string    `json:"id"`
	ClientID        string    `json:"client_id"`
	ChatID          string    `json:"chat_id"`
	InstanceID      string    `json:"instance_id"`
	CustomerName    string    `json:"customer_name"`
	CustomerPhone   string    `json:"customer_phone"`
	LastMessage     string    `json:"last_message"`
	LastMessageAt   time.Time `json:"last_message_at"`
	CurrentStageID  string    `json:"current_stage_id,omitempty"`
	AssignedQueueID string    `json:"assigned_queue_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TicketMessage is a thread entry linking message content to its ticket.
type TicketMessage struct {
	TicketID    string      `json:"ticket_id"`
	MessageID   string      `json:"message_id"`
	Body        string      `json:"body"`
	Type        MessageType `json:"message_type"`
	FromMe      bool        `json:"from_me"`
	SenderName  string      `json:"sender_name,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty"`
	BatchID     string      `json:"batch_id,omitempty"`
}

// TicketEvent is published to live listeners whenever a ticket changes.
type TicketEvent struct {
	Type      string    `json:"type"`
	TicketID  string    `json:"ticket_id"`
	ClientID  string    `json:"client_id"`
	MessageID string    `json:"message_id"`
	FromMe    bool      `json:"from_me"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	EventMessageStored = "ticket.message"
	EventReplySent     = "ticket.reply"
	EventFallbackSent  = "ticket.fallback"
)
