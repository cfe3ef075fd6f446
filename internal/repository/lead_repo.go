package repository

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
	"gorm.io/gorm"
)

// LeadRepository reads CRM-owned lead data. The engine never writes these tables.
type LeadRepository interface {
	GetLeadActivity(ctx context.Context, activityID int64) (*domain.LeadActivity, error)
	GetRecipientProfile(ctx context.Context, activityID int64) (*domain.RecipientProfile, error)
	GetEscalationContact(ctx context.Context, activityID int64) (*domain.EscalationContact, error)
}

type GormLeadRepo struct {
	db *gorm.DB
}

func NewGormLeadRepo(db *gorm.DB) *GormLeadRepo {
	return &GormLeadRepo{db: db}
}

func (r *GormLeadRepo) GetLeadActivity(ctx context.Context, activityID int64) (*domain.LeadActivity, error) {
	var model LeadActivityModel
	err := r.db.WithContext(ctx).
		Where("activity_id = ?", activityID).
		Take(&model).Error
	if err != nil {
		return nil, storeError(fmt.Sprintf("lead activity %d", activityID), err)
	}
	return leadActivityModelToDomain(&model), nil
}

func (r *GormLeadRepo) GetRecipientProfile(ctx context.Context, activityID int64) (*domain.RecipientProfile, error) {
	var model RecipientProfileModel
	err := r.db.WithContext(ctx).
		Where("activity_id = ?", activityID).
		Take(&model).Error
	if err != nil {
		return nil, storeError(fmt.Sprintf("recipient profile %d", activityID), err)
	}
	return recipientProfileModelToDomain(&model), nil
}

func (r *GormLeadRepo) GetEscalationContact(ctx context.Context, activityID int64) (*domain.EscalationContact, error) {
	var model EscalationContactModel
	err := r.db.WithContext(ctx).
		Where("activity_id = ?", activityID).
		Take(&model).Error
	if err != nil {
		return nil, storeError(fmt.Sprintf("escalation contact %d", activityID), err)
	}
	return escalationContactModelToDomain(&model), nil
}
