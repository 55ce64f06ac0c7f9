package repository

import (
	"context"
	"time"

	"github.com/tokengate/tokengate/internal/domain"
	"github.com/tokengate/tokengate/internal/observability"

	"gorm.io/gorm"
)

type ClaimEventRepository interface {
	Append(event *domain.ClaimEvent) error
	ListByUser(userID string, limit int) ([]domain.ClaimEvent, error)
	PruneOlderThan(cutoff time.Time) (int64, error)
}

type GormClaimEventRepository struct{ db *gorm.DB }

func NewClaimEventRepository(db *gorm.DB) ClaimEventRepository {
	return &GormClaimEventRepository{db: db}
}

func (r *GormClaimEventRepository) Append(event *domain.ClaimEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	err := r.db.Create(event).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "claim_event", "append", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "claim_event", "append", "success")
	return nil
}

func (r *GormClaimEventRepository) ListByUser(userID string, limit int) ([]domain.ClaimEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []domain.ClaimEvent
	err := r.db.Where("user_id = ?", userID).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "claim_event", "list_by_user", "error")
		return events, err
	}
	observability.RecordRepositoryOperation(context.Background(), "claim_event", "list_by_user", "success")
	return events, nil
}

func (r *GormClaimEventRepository) PruneOlderThan(cutoff time.Time) (int64, error) {
	res := r.db.Where("occurred_at <= ?", cutoff).Delete(&domain.ClaimEvent{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "claim_event", "prune", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "claim_event", "prune", "success")
	return res.RowsAffected, nil
}
