package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/feedback-engine/internal/domain"
	"gorm.io/gorm"
)

// AttemptRepository stores the delivery audit trail. Rows are append-only.
type AttemptRepository interface {
	Create(ctx context.Context, a *domain.DeliveryAttempt) error
	ListByIssuance(ctx context.Context, issuanceID string) ([]domain.DeliveryAttempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	if a == nil {
		return fmt.Errorf("%w: attempt is required", domain.ErrValidation)
	}
	if err := a.Validate(); err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return storeError("create delivery attempt", err)
	}
	*a = *attemptModelToDomain(model)
	return nil
}

func (r *GormAttemptRepo) ListByIssuance(ctx context.Context, issuanceID string) ([]domain.DeliveryAttempt, error) {
	var models []DeliveryAttemptModel
	err := r.db.WithContext(ctx).
		Where("issuance_id = ?", issuanceID).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, storeError("list delivery attempts", err)
	}

	attempts := make([]domain.DeliveryAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, nil
}
