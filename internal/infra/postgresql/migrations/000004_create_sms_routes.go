package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/feedback-engine/internal/repository"
	"gorm.io/gorm"
)

func createSMSRoutesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_sms_routes",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SMSRouteModel{}); err != nil {
				return err
			}
			return execAll(tx,
				`ALTER TABLE sms_routes DROP CONSTRAINT IF EXISTS chk_sms_routes_tier`,
				`ALTER TABLE sms_routes ADD CONSTRAINT chk_sms_routes_tier CHECK (tier IN ('domestic', 'gcc', 'global'))`,
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SMSRouteModel{})
		},
	}
}
