package payload

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/AzielCF/az-inbox/inbox/domain"
	pkgError "github.com/AzielCF/az-inbox/pkg/error"
)

var messageEvents = map[string]bool{
	"messages.upsert": true,
	"MESSAGES_UPSERT": true,
}

// Event is a decoded webhook body. InstanceKey is the raw instance reference
// found in the payload, not yet resolved against the tenant directory.
type Event struct {
	Name        string
	InstanceKey string
	Data        json.RawMessage
}

// IsMessage reports whether the event carries a message to ingest.
func (e Event) IsMessage() bool {
	return messageEvents[strings.TrimSpace(e.Name)]
}

type envelope struct {
	Event      string          `json:"event"`
	Instance   json.RawMessage `json:"instance"`
	InstanceID string          `json:"instanceId"`
	Data       json.RawMessage `json:"data"`
}

type messageKey struct {
	ID        string   `json:"id"`
	RemoteJid string   `json:"remoteJid"`
	FromMe    flexBool `json:"fromMe"`
}

type messageData struct {
	KeyID            string          `json:"keyId"`
	KeyRemoteJid     string          `json:"keyRemoteJid"`
	KeyFromMe        flexBool        `json:"keyFromMe"`
	Key              *messageKey     `json:"key"`
	ID               string          `json:"id"`
	FromMe           flexBool        `json:"fromMe"`
	PushName         string          `json:"pushName"`
	MessageTimestamp flexInt         `json:"messageTimestamp"`
	ContentType      string          `json:"contentType"`
	Content          json.RawMessage `json:"content"`
	Message          *legacyMessage  `json:"message"`
}

// Parse decodes a webhook body. pathInstance is the instance named in the
// request path, used only when the body names none.
func Parse(body []byte, pathInstance string) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, pkgError.InvalidPayloadError("webhook body is not a JSON object")
	}

	ev := Event{Name: env.Event, Data: env.Data}
	if !ev.IsMessage() {
		return ev, nil
	}
	if isNullJSON(env.Data) {
		return ev, pkgError.InvalidPayloadError("field data is required")
	}

	var dataInstance struct {
		InstanceID string          `json:"instanceId"`
		Instance   json.RawMessage `json:"instance"`
	}
	_ = json.Unmarshal(env.Data, &dataInstance)

	ev.InstanceKey = firstNonEmpty(
		instanceRef(env.Instance),
		dataInstance.InstanceID,
		env.InstanceID,
		instanceRef(dataInstance.Instance),
		pathInstance,
	)
	if ev.InstanceKey == "" {
		return ev, pkgError.InvalidPayloadError("instance could not be resolved from payload")
	}
	return ev, nil
}

// instanceRef reads an instance given as a string or as an object.
func instanceRef(raw json.RawMessage) string {
	if isNullJSON(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		InstanceName string `json:"instanceName"`
		Name         string `json:"name"`
		ID           string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	return firstNonEmpty(obj.InstanceName, obj.Name, obj.ID)
}

// Normalize maps a message event to its canonical record. InstanceID is set to
// the event's InstanceKey; ClientID is left for the caller to resolve. now is
// used when the payload carries no timestamp.
func Normalize(ev Event, now time.Time) (domain.Message, error) {
	if isNullJSON(ev.Data) {
		return domain.Message{}, pkgError.InvalidPayloadError("field data is required")
	}

	var d messageData
	if err := json.Unmarshal(ev.Data, &d); err != nil {
		return domain.Message{}, pkgError.InvalidPayloadError("field data is not a message object")
	}

	var key messageKey
	if d.Key != nil {
		key = *d.Key
	}

	msg := domain.Message{
		MessageID:  firstNonEmpty(d.KeyID, key.ID, d.ID),
		ChatID:     firstNonEmpty(d.KeyRemoteJid, key.RemoteJid),
		InstanceID: ev.InstanceKey,
		FromMe:     firstBool(d.KeyFromMe, key.FromMe, d.FromMe),
		SenderName: strings.TrimSpace(d.PushName),
		Timestamp:  toTime(int64(d.MessageTimestamp), now),
	}
	if msg.MessageID == "" {
		return domain.Message{}, pkgError.InvalidPayloadError("message id is missing")
	}
	if msg.ChatID == "" {
		return domain.Message{}, pkgError.InvalidPayloadError("chat id is missing")
	}

	content := extractContent(&d)
	msg.Body = content.Body()
	msg.Type = content.Type()
	msg.Media = content.Media()
	return msg, nil
}

// toTime accepts unix seconds or milliseconds.
func toTime(ts int64, now time.Time) time.Time {
	switch {
	case ts <= 0:
		return now.UTC()
	case ts > 1e12:
		return time.UnixMilli(ts).UTC()
	default:
		return time.Unix(ts, 0).UTC()
	}
}

func isNullJSON(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
