package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/feedback-engine/internal/repository"
	"gorm.io/gorm"
)

func createNotificationCopiesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_notification_copies",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.NotificationCopyModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationCopyModel{})
		},
	}
}
