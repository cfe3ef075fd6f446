package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/feedback-engine/internal/repository"
	"gorm.io/gorm"
)

func createFeedbackIssuancesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_feedback_issuances",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.FeedbackIssuanceModel{}); err != nil {
				return err
			}
			return execAll(tx,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_feedback_issuances_one_unresolved ON feedback_issuances (activity_id) WHERE resolved = false`,
				`CREATE INDEX IF NOT EXISTS idx_feedback_issuances_activity_issued ON feedback_issuances (activity_id, issued_at DESC)`,
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.FeedbackIssuanceModel{})
		},
	}
}
