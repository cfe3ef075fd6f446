package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IssuanceRepository persists feedback issuances. At most one unresolved row
// exists per activity; the unique index enforces it.
type IssuanceRepository interface {
	// Transact runs fn in one transaction with a repository bound to it.
	Transact(ctx context.Context, fn func(tx IssuanceRepository) error) error
	// LockUnresolved loads the unresolved issuance with a row lock.
	LockUnresolved(ctx context.Context, activityID int64) (*domain.FeedbackIssuance, error)
	GetUnresolved(ctx context.Context, activityID int64) (*domain.FeedbackIssuance, error)
	GetLatest(ctx context.Context, activityID int64) (*domain.FeedbackIssuance, error)
	Upsert(ctx context.Context, f *domain.FeedbackIssuance) error
	Resolve(ctx context.Context, id string, outcome domain.Outcome, resolvedAt time.Time) error
	// MarkChannelSent records a delivered channel on the issuance cycle at
	// tryCount. A reissued cycle is left untouched and reported as ErrNotFound.
	MarkChannelSent(ctx context.Context, id string, tryCount int, channel domain.Channel) error
}

type GormIssuanceRepo struct {
	db *gorm.DB
}

func NewGormIssuanceRepo(db *gorm.DB) *GormIssuanceRepo {
	return &GormIssuanceRepo{db: db}
}

func (r *GormIssuanceRepo) Transact(ctx context.Context, fn func(tx IssuanceRepository) error) error {
	var fnErr error
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&GormIssuanceRepo{db: tx})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return storeError("issuance transaction", err)
}

func (r *GormIssuanceRepo) LockUnresolved(ctx context.Context, activityID int64) (*domain.FeedbackIssuance, error) {
	var model FeedbackIssuanceModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("activity_id = ? AND resolved = ?", activityID, false).
		Take(&model).Error
	if err != nil {
		return nil, storeError(fmt.Sprintf("lock unresolved issuance for activity %d", activityID), err)
	}
	return issuanceModelToDomain(&model), nil
}

func (r *GormIssuanceRepo) GetUnresolved(ctx context.Context, activityID int64) (*domain.FeedbackIssuance, error) {
	var model FeedbackIssuanceModel
	err := r.db.WithContext(ctx).
		Where("activity_id = ? AND resolved = ?", activityID, false).
		Take(&model).Error
	if err != nil {
		return nil, storeError(fmt.Sprintf("unresolved issuance for activity %d", activityID), err)
	}
	return issuanceModelToDomain(&model), nil
}

func (r *GormIssuanceRepo) GetLatest(ctx context.Context, activityID int64) (*domain.FeedbackIssuance, error) {
	var model FeedbackIssuanceModel
	err := r.db.WithContext(ctx).
		Where("activity_id = ?", activityID).
		Order("issued_at DESC").
		Take(&model).Error
	if err != nil {
		return nil, storeError(fmt.Sprintf("latest issuance for activity %d", activityID), err)
	}
	return issuanceModelToDomain(&model), nil
}

func (r *GormIssuanceRepo) Upsert(ctx context.Context, f *domain.FeedbackIssuance) error {
	if err := f.Validate(); err != nil {
		return err
	}

	model := issuanceModelFromDomain(f)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return storeError(fmt.Sprintf("upsert issuance %s", f.ID), err)
	}
	*f = *issuanceModelToDomain(model)
	return nil
}

func (r *GormIssuanceRepo) Resolve(ctx context.Context, id string, outcome domain.Outcome, resolvedAt time.Time) error {
	if !outcome.IsTerminal() {
		return fmt.Errorf("%w: outcome %q is not terminal", domain.ErrValidation, outcome)
	}

	result := r.db.WithContext(ctx).
		Model(&FeedbackIssuanceModel{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]any{
			"resolved":    true,
			"outcome":     outcome,
			"resolved_at": resolvedAt,
		})
	if result.Error != nil {
		return storeError(fmt.Sprintf("resolve issuance %s", id), result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: issuance %s", domain.ErrAlreadyResolved, id)
	}
	return nil
}

func (r *GormIssuanceRepo) MarkChannelSent(ctx context.Context, id string, tryCount int, channel domain.Channel) error {
	column, err := sentColumn(channel)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Model(&FeedbackIssuanceModel{}).
		Where("id = ? AND try_count = ?", id, tryCount).
		Update(column, true)
	if result.Error != nil {
		return storeError(fmt.Sprintf("mark %s sent for issuance %s", channel, id), result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: issuance %s at try %d", domain.ErrNotFound, id, tryCount)
	}
	return nil
}

func sentColumn(channel domain.Channel) (string, error) {
	switch channel {
	case domain.ChannelSMS:
		return "sms_sent", nil
	case domain.ChannelEmail:
		return "email_sent", nil
	case domain.ChannelPush:
		return "push_sent", nil
	}
	return "", fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, channel)
}
