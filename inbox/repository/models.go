package repository

import (
	"encoding/json"
	"time"

	"github.com/AzielCF/az-inbox/inbox/domain"
)

type ticketModel struct {
	ID              string     `gorm:"primaryKey;column:id"`
	ClientID        string     `gorm:"column:client_id;not null;uniqueIndex:idx_ticket_thread"`
	ChatID          string     `gorm:"column:chat_id;not null;uniqueIndex:idx_ticket_thread"`
	InstanceID      string     `gorm:"column:instance_id;not null;uniqueIndex:idx_ticket_thread"`
	CustomerName    string     `gorm:"column:customer_name;default:''"`
	CustomerPhone   string     `gorm:"column:customer_phone;default:''"`
	LastMessage     string     `gorm:"column:last_message;type:text;default:''"`
	LastMessageAt   *time.Time `gorm:"column:last_message_at;index"`
	CurrentStageID  string     `gorm:"column:current_stage_id;default:''"`
	AssignedQueueID string     `gorm:"column:assigned_queue_id;default:''"`
	CreatedAt       time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;not null"`
}

func (ticketModel) TableName() string { return "tickets" }

type messageModel struct {
	MessageID     string    `gorm:"primaryKey;column:message_id"`
	TicketID      string    `gorm:"column:ticket_id;not null;index"`
	ClientID      string    `gorm:"column:client_id;not null"`
	InstanceID    string    `gorm:"column:instance_id;not null"`
	ChatID        string    `gorm:"column:chat_id;not null"`
	FromMe        bool      `gorm:"column:from_me;not null"`
	Body          string    `gorm:"column:body;type:text"`
	MessageType   string    `gorm:"column:message_type;not null;default:'text'"`
	SenderName    string    `gorm:"column:sender_name"`
	Timestamp     time.Time `gorm:"column:timestamp;not null"`
	MediaURL      string    `gorm:"column:media_url"`
	MediaKey      string    `gorm:"column:media_key"`
	MediaMimeType string    `gorm:"column:media_mime_type"`
	MediaDuration int       `gorm:"column:media_duration"`
	Raw           string    `gorm:"column:raw;type:text"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
}

func (messageModel) TableName() string { return "messages" }

type ticketMessageModel struct {
	ID          uint       `gorm:"primaryKey;autoIncrement"`
	TicketID    string     `gorm:"column:ticket_id;not null;index:idx_ticket_messages_thread"`
	MessageID   string     `gorm:"column:message_id;not null;uniqueIndex"`
	Body        string     `gorm:"column:body;type:text"`
	MessageType string     `gorm:"column:message_type;not null"`
	FromMe      bool       `gorm:"column:from_me;not null"`
	SenderName  string     `gorm:"column:sender_name"`
	Timestamp   time.Time  `gorm:"column:timestamp;not null;index:idx_ticket_messages_thread"`
	ProcessedAt *time.Time `gorm:"column:processed_at"`
	BatchID     string     `gorm:"column:batch_id;default:''"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null"`
}

func (ticketMessageModel) TableName() string { return "ticket_messages" }

type debounceModel struct {
	TicketID       string     `gorm:"primaryKey;column:ticket_id"`
	DebounceUntil  time.Time  `gorm:"column:debounce_until;not null;index"`
	Scheduled      bool       `gorm:"column:scheduled;not null"`
	Processing     bool       `gorm:"column:processing;not null;default:false"`
	ClaimID        string     `gorm:"column:claim_id;size:64"`
	ClaimedAt      *time.Time `gorm:"column:claimed_at"`
	SettledBatchID string     `gorm:"column:settled_batch_id;size:64"`
	SettledIDs     string     `gorm:"column:settled_ids;type:text"`
	LastUpdated    time.Time  `gorm:"column:last_updated;not null"`
}

func (debounceModel) TableName() string { return "debounce_state" }

func fromTicketModel(m ticketModel) domain.Ticket {
	t := domain.Ticket{
		ID:              m.ID,
		ClientID:        m.ClientID,
		ChatID:          m.ChatID,
		InstanceID:      m.InstanceID,
		CustomerName:    m.CustomerName,
		CustomerPhone:   m.CustomerPhone,
		LastMessage:     m.LastMessage,
		CurrentStageID:  m.CurrentStageID,
		AssignedQueueID: m.AssignedQueueID,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if m.LastMessageAt != nil {
		t.LastMessageAt = m.LastMessageAt.UTC()
	}
	return t
}

func fromTicketMessageModel(m ticketMessageModel) domain.TicketMessage {
	return domain.TicketMessage{
		TicketID:    m.TicketID,
		MessageID:   m.MessageID,
		Body:        m.Body,
		Type:        domain.MessageType(m.MessageType),
		FromMe:      m.FromMe,
		SenderName:  m.SenderName,
		Timestamp:   m.Timestamp.UTC(),
		ProcessedAt: m.ProcessedAt,
		BatchID:     m.BatchID,
	}
}

func fromDebounceModel(m debounceModel) domain.DebounceState {
	return domain.DebounceState{
		TicketID:       m.TicketID,
		DebounceUntil:  m.DebounceUntil.UTC(),
		Scheduled:      m.Scheduled,
		Processing:     m.Processing,
		ClaimID:        m.ClaimID,
		ClaimedAt:      m.ClaimedAt,
		SettledBatchID: m.SettledBatchID,
		SettledIDs:     splitIDs(m.SettledIDs),
		LastUpdated:    m.LastUpdated,
	}
}

func joinIDs(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	raw, _ := json.Marshal(ids)
	return string(raw)
}

func splitIDs(s string) []string {
	var ids []string
	if s == "" || json.Unmarshal([]byte(s), &ids) != nil {
		return nil
	}
	return ids
}
