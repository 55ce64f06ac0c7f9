package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tokengate/tokengate/internal/domain"
	"github.com/tokengate/tokengate/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrCooldownNotFound = errors.New("cooldown entry not found")

type CooldownRepository interface {
	Get(userID string) (*domain.CooldownEntry, error)
	Upsert(userID string, lastClaimAt time.Time) error
	Delete(userID string) error
	List() ([]domain.CooldownEntry, error)
}

type GormCooldownRepository struct{ db *gorm.DB }

func NewCooldownRepository(db *gorm.DB) CooldownRepository {
	return &GormCooldownRepository{db: db}
}

func (r *GormCooldownRepository) Get(userID string) (*domain.CooldownEntry, error) {
	var entry domain.CooldownEntry
	err := r.db.Where("user_id = ?", userID).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "cooldown", "get", "not_found")
			return nil, ErrCooldownNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "cooldown", "get", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "cooldown", "get", "success")
	return &entry, nil
}

func (r *GormCooldownRepository) Upsert(userID string, lastClaimAt time.Time) error {
	entry := domain.CooldownEntry{UserID: userID, LastClaimAt: lastClaimAt.UTC()}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_claim_at", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "cooldown", "upsert", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "cooldown", "upsert", "success")
	return nil
}

func (r *GormCooldownRepository) Delete(userID string) error {
	err := r.db.Where("user_id = ?", userID).Delete(&domain.CooldownEntry{}).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "cooldown", "delete", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "cooldown", "delete", "success")
	return nil
}

func (r *GormCooldownRepository) List() ([]domain.CooldownEntry, error) {
	var entries []domain.CooldownEntry
	err := r.db.Order("last_claim_at ASC").Find(&entries).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "cooldown", "list", "error")
		return entries, err
	}
	observability.RecordRepositoryOperation(context.Background(), "cooldown", "list", "success")
	return entries, nil
}
