package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AzielCF/az-inbox/inbox/domain"
	pkgError "github.com/AzielCF/az-inbox/pkg/error"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageGormRepository stores messages, tickets and thread entries.
type MessageGormRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewMessageGormRepository(db *gorm.DB) *MessageGormRepository {
	return &MessageGormRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *MessageGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(
		&ticketModel{},
		&messageModel{},
		&ticketMessageModel{},
		&debounceModel{},
	)
}

func (r *MessageGormRepository) AppendMessage(ctx context.Context, msg domain.Message, raw []byte) (string, error) {
	if msg.ClientID == "" || msg.InstanceID == "" {
		return "", pkgError.UnknownTenantError(fmt.Sprintf("message %s has no resolved client/instance", msg.MessageID))
	}

	msg.Body = cleanText(msg.Body)
	msg.SenderName = cleanText(msg.SenderName)
	now := r.now()
	ts := msg.Timestamp.UTC()
	if ts.IsZero() {
		ts = now
	}

	var ticketID string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ticket := ticketModel{
			ID:            uuid.NewString(),
			ClientID:      msg.ClientID,
			ChatID:        msg.ChatID,
			InstanceID:    msg.InstanceID,
			CustomerPhone: msg.Phone(),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "client_id"}, {Name: "chat_id"}, {Name: "instance_id"}},
			DoNothing: true,
		}).Create(&ticket).Error; err != nil {
			return err
		}

		var ids []string
		if err := tx.Model(&ticketModel{}).
			Where("client_id = ? AND chat_id = ? AND instance_id = ?", msg.ClientID, msg.ChatID, msg.InstanceID).
			Limit(1).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return fmt.Errorf("ticket for %s/%s not visible after upsert", msg.InstanceID, msg.ChatID)
		}
		ticketID = ids[0]

		record := messageModel{
			MessageID:   msg.MessageID,
			TicketID:    ticketID,
			ClientID:    msg.ClientID,
			InstanceID:  msg.InstanceID,
			ChatID:      msg.ChatID,
			FromMe:      msg.FromMe,
			Body:        msg.Body,
			MessageType: string(msg.Type),
			SenderName:  msg.SenderName,
			Timestamp:   ts,
			Raw:         cleanText(string(raw)),
			CreatedAt:   now,
		}
		if record.MessageType == "" {
			record.MessageType = string(domain.MessageTypeText)
		}
		if msg.Media != nil {
			record.MediaURL = msg.Media.URL
			record.MediaKey = msg.Media.MediaKey
			record.MediaMimeType = msg.Media.MimeType
			record.MediaDuration = msg.Media.DurationSeconds
		}

		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			DoNothing: true,
		}).Create(&record)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var existing []string
			if err := tx.Model(&messageModel{}).Where("message_id = ?", msg.MessageID).Limit(1).Pluck("ticket_id", &existing).Error; err != nil {
				return err
			}
			dup := &domain.DuplicateError{MessageID: msg.MessageID}
			if len(existing) > 0 {
				dup.TicketID = existing[0]
			}
			return dup
		}

		entry := ticketMessageModel{
			TicketID:    ticketID,
			MessageID:   msg.MessageID,
			Body:        msg.Body,
			MessageType: record.MessageType,
			FromMe:      msg.FromMe,
			SenderName:  msg.SenderName,
			Timestamp:   ts,
			CreatedAt:   now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			DoNothing: true,
		}).Create(&entry).Error; err != nil {
			return err
		}

		// last_message follows the newest timestamp, not the last write. Both CASE
		// expressions read the pre-update row.
		updates := map[string]any{
			"last_message":    gorm.Expr("CASE WHEN last_message_at IS NULL OR last_message_at <= ? THEN ? ELSE last_message END", ts, msg.Body),
			"last_message_at": gorm.Expr("CASE WHEN last_message_at IS NULL OR last_message_at < ? THEN ? ELSE last_message_at END", ts, ts),
			"updated_at":      now,
		}
		if !msg.FromMe && msg.SenderName != "" {
			updates["customer_name"] = gorm.Expr("CASE WHEN customer_name = '' OR customer_name IS NULL THEN ? ELSE customer_name END", msg.SenderName)
		}
		return tx.Model(&ticketModel{}).Where("id = ?", ticketID).Updates(updates).Error
	})
	if err != nil {
		var dup *domain.DuplicateError
		if errors.As(err, &dup) {
			return dup.TicketID, err
		}
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			return "", pkgError.UnknownTenantError(err.Error())
		}
		return "", pkgError.NewStorageError("append message", err)
	}
	return ticketID, nil
}

func (r *MessageGormRepository) FindMessage(ctx context.Context, messageID string) (string, bool, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&messageModel{}).
		Where("message_id = ?", messageID).Limit(1).
		Pluck("ticket_id", &ids).Error; err != nil {
		return "", false, pkgError.NewStorageError("find message", err)
	}
	if len(ids) == 0 {
		return "", false, nil
	}
	return ids[0], true, nil
}

func (r *MessageGormRepository) GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	var m ticketModel
	if err := r.db.WithContext(ctx).Where("id = ?", ticketID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgError.NotFoundError(fmt.Sprintf("ticket %s not found", ticketID))
		}
		return nil, pkgError.NewStorageError("get ticket", err)
	}
	t := fromTicketModel(m)
	return &t, nil
}

// RecentHistory returns up to limit thread entries older than before, oldest first.
func (r *MessageGormRepository) RecentHistory(ctx context.Context, ticketID string, before time.Time, limit int) ([]domain.TicketMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []ticketMessageModel
	if err := r.db.WithContext(ctx).
		Where("ticket_id = ? AND timestamp < ?", ticketID, before.UTC()).
		Order("timestamp DESC").Order("id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, pkgError.NewStorageError("recent history", err)
	}

	out := make([]domain.TicketMessage, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = fromTicketMessageModel(row)
	}
	return out, nil
}

// PendingBatch returns unprocessed inbound entries in timestamp order.
func (r *MessageGormRepository) PendingBatch(ctx context.Context, ticketID string) ([]domain.TicketMessage, error) {
	var rows []ticketMessageModel
	if err := r.db.WithContext(ctx).
		Where("ticket_id = ? AND from_me = ? AND processed_at IS NULL", ticketID, false).
		Order("timestamp ASC").Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, pkgError.NewStorageError("pending batch", err)
	}
	out := make([]domain.TicketMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromTicketMessageModel(row))
	}
	return out, nil
}

func (r *MessageGormRepository) MarkProcessed(ctx context.Context, ticketID, batchID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&ticketMessageModel{}).
		Where("ticket_id = ? AND message_id IN ? AND processed_at IS NULL", ticketID, messageIDs).
		Updates(map[string]any{"processed_at": r.now(), "batch_id": batchID}).Error
	if err != nil {
		return pkgError.NewStorageError("mark processed", err)
	}
	return nil
}

// cleanText makes s storable in a postgres text column, which rejects NUL
// bytes and invalid UTF-8.
func cleanText(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.ReplaceAll(s, "\x00", "")
}
