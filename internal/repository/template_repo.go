package repository

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
	"gorm.io/gorm"
)

// TemplateRepository is the read-only template and routing configuration store.
type TemplateRepository interface {
	GetTemplate(ctx context.Context, key string) (*domain.MessageTemplate, error)
	GetRoute(ctx context.Context, tier domain.RoutingTier) (*domain.RouteConfig, error)
	GetNotificationCopy(ctx context.Context, key string) (*domain.NotificationCopy, error)
}

type GormTemplateRepo struct {
	db *gorm.DB
}

func NewGormTemplateRepo(db *gorm.DB) *GormTemplateRepo {
	return &GormTemplateRepo{db: db}
}

func (r *GormTemplateRepo) GetTemplate(ctx context.Context, key string) (*domain.MessageTemplate, error) {
	var model MessageTemplateModel
	if err := r.db.WithContext(ctx).Where("key = ?", key).Take(&model).Error; err != nil {
		return nil, storeError(fmt.Sprintf("template %q", key), err)
	}
	return &domain.MessageTemplate{Key: model.Key, Subject: model.Subject, Body: model.Body}, nil
}

func (r *GormTemplateRepo) GetRoute(ctx context.Context, tier domain.RoutingTier) (*domain.RouteConfig, error) {
	var model SMSRouteModel
	if err := r.db.WithContext(ctx).Where("tier = ?", tier).Take(&model).Error; err != nil {
		return nil, storeError(fmt.Sprintf("route %q", tier), err)
	}
	return &domain.RouteConfig{Tier: model.Tier, EndpointPattern: model.EndpointPattern, APIKey: model.APIKey}, nil
}

func (r *GormTemplateRepo) GetNotificationCopy(ctx context.Context, key string) (*domain.NotificationCopy, error) {
	var model NotificationCopyModel
	if err := r.db.WithContext(ctx).Where("key = ?", key).Take(&model).Error; err != nil {
		return nil, storeError(fmt.Sprintf("notification copy %q", key), err)
	}
	return &domain.NotificationCopy{Key: model.Key, Title: model.Title, Message: model.Message}, nil
}
