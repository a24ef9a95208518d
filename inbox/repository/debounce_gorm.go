package repository

import (
	"context"
	"errors"
	"time"

	"github.com/AzielCF/az-inbox/inbox/domain"
	pkgError "github.com/AzielCF/az-inbox/pkg/error"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DebounceGormRepository keeps one scheduling row per ticket. Every mutation
// is a single conditional statement so concurrent replicas never lose updates.
type DebounceGormRepository struct {
	db *gorm.DB
}

func NewDebounceGormRepository(db *gorm.DB) *DebounceGormRepository {
	return &DebounceGormRepository{db: db}
}

func (r *DebounceGormRepository) Schedule(ctx context.Context, ticketID string, until time.Time) error {
	now := time.Now().UTC()
	row := debounceModel{
		TicketID:      ticketID,
		DebounceUntil: until.UTC(),
		Scheduled:     true,
		LastUpdated:   now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ticket_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"debounce_until": until.UTC(),
			"scheduled":      true,
			"last_updated":   now,
		}),
	}).Create(&row).Error
	if err != nil {
		return pkgError.NewStorageError("schedule debounce", err)
	}
	return nil
}

func (r *DebounceGormRepository) Get(ctx context.Context, ticketID string) (*domain.DebounceState, error) {
	var m debounceModel
	if err := r.db.WithContext(ctx).Where("ticket_id = ?", ticketID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgError.NewStorageError("get debounce", err)
	}
	st := fromDebounceModel(m)
	return &st, nil
}

func (r *DebounceGormRepository) Claim(ctx context.Context, ticketID, claimID string, now, staleBefore time.Time) (bool, error) {
	now = now.UTC()
	res := r.db.WithContext(ctx).Model(&debounceModel{}).
		Where("ticket_id = ? AND ((scheduled = ? AND debounce_until <= ? AND processing = ?) OR (processing = ? AND claimed_at < ?))",
			ticketID, true, now, false, true, staleBefore.UTC()).
		Updates(map[string]any{
			"processing":   true,
			"scheduled":    false,
			"claim_id":     claimID,
			"claimed_at":   now,
			"last_updated": now,
		})
	if res.Error != nil {
		return false, pkgError.NewStorageError("claim debounce", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *DebounceGormRepository) Heartbeat(ctx context.Context, ticketID, claimID string, now time.Time) (bool, error) {
	res := r.held(ctx, ticketID, claimID).Update("claimed_at", now.UTC())
	if res.Error != nil {
		return false, pkgError.NewStorageError("heartbeat debounce", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *DebounceGormRepository) Release(ctx context.Context, ticketID, claimID string, reschedule bool, until time.Time) error {
	updates := map[string]any{
		"processing":   false,
		"claim_id":     "",
		"claimed_at":   nil,
		"last_updated": time.Now().UTC(),
	}
	if reschedule {
		updates["scheduled"] = true
		updates["debounce_until"] = until.UTC()
	}
	if err := r.held(ctx, ticketID, claimID).Updates(updates).Error; err != nil {
		return pkgError.NewStorageError("release debounce", err)
	}
	return nil
}

func (r *DebounceGormRepository) Settle(ctx context.Context, ticketID, claimID string, messageIDs []string) error {
	err := r.held(ctx, ticketID, claimID).Updates(map[string]any{
		"processing":       false,
		"claim_id":         "",
		"claimed_at":       nil,
		"settled_batch_id": claimID,
		"settled_ids":      joinIDs(messageIDs),
		"last_updated":     time.Now().UTC(),
	}).Error
	if err != nil {
		return pkgError.NewStorageError("settle debounce", err)
	}
	return nil
}

func (r *DebounceGormRepository) ClearSettled(ctx context.Context, ticketID, claimID string) error {
	err := r.held(ctx, ticketID, claimID).Updates(map[string]any{
		"settled_batch_id": "",
		"settled_ids":      "",
	}).Error
	if err != nil {
		return pkgError.NewStorageError("clear settled debounce", err)
	}
	return nil
}

// held scopes an update to the row while claimID owns it.
func (r *DebounceGormRepository) held(ctx context.Context, ticketID, claimID string) *gorm.DB {
	return r.db.WithContext(ctx).Model(&debounceModel{}).
		Where("ticket_id = ? AND processing = ? AND claim_id = ?", ticketID, true, claimID)
}

func (r *DebounceGormRepository) Due(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.DebounceState, error) {
	var rows []debounceModel
	q := r.db.WithContext(ctx).
		Where("(scheduled = ? AND debounce_until <= ? AND processing = ?) OR (processing = ? AND claimed_at < ?)",
			true, now.UTC(), false, true, staleBefore.UTC()).
		Order("debounce_until ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, pkgError.NewStorageError("due debounce", err)
	}
	out := make([]domain.DebounceState, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromDebounceModel(row))
	}
	return out, nil
}
