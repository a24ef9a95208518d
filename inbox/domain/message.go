package domain

import "time"

type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeAudio    MessageType = "audio"
	MessageTypePTT      MessageType = "ptt"
	MessageTypeImage    MessageType = "image"
	MessageTypeVideo    MessageType = "video"
	MessageTypeDocument MessageType = "document"
)

// IsMedia reports whether the type carries a media attachment.
func (t MessageType) IsMedia() bool {
	return t != MessageTypeText && t != ""
}

// Message is one inbound or outbound WhatsApp event in canonical form.
type Message struct {
	MessageID  string      `json:"message_id"`
	ChatID     string      `json:"chat_id"`
	InstanceID string      `json:"instance_id"`
	ClientID   string      `json:"client_id"`
	FromMe     bool        `json:"from_me"`
	Body       string      `json:"body"`
	Type       MessageType `json:"message_type"`
	SenderName string      `json:"sender_name,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Media      *MediaRef   `json:"media,omitempty"`
}

type MediaRef struct {
	URL             string `json:"url,omitempty"`
	MediaKey        string `json:"media_key,omitempty"`
	MimeType        string `json:"mime_type,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	FileName        string `json:"file_name,omitempty"`
	Caption         string `json:"caption,omitempty"`
}

// IsGroup reports whether the chat is a WhatsApp group.
func (m Message) IsGroup() bool {
	return hasSuffix(m.ChatID, "@g.us")
}

// IsBroadcast reports status/broadcast traffic that never belongs to a ticket.
func (m Message) IsBroadcast() bool {
	return m.ChatID == "status@broadcast" || hasSuffix(m.ChatID, "@broadcast")
}

// Phone returns the user part of the chat JID.
func (m Message) Phone() string {
	for i := 0; i < len(m.ChatID); i++ {
		if m.ChatID[i] == '@' || m.ChatID[i] == ':' {
			return m.ChatID[:i]
		}
	}
	return m.ChatID
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}
