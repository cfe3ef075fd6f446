package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/feedback-engine/internal/repository"
	"gorm.io/gorm"
)

func createMessageTemplatesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_message_templates",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.MessageTemplateModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.MessageTemplateModel{})
		},
	}
}
