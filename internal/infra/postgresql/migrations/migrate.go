package migrations

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// The CRM owns the shared schema's default migrations table, so the engine
// keeps its own history.
var options = &gormigrate.Options{
	TableName:                 "feedback_engine_migrations",
	IDColumnName:              "id",
	IDColumnSize:              255,
	UseTransaction:            true,
	ValidateUnknownMigrations: true,
}

// all lists the engine-owned tables in apply order. CRM views are provisioned
// elsewhere.
func all() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		createFeedbackIssuancesTable(),
		createDeliveryAttemptsTable(),
		createMessageTemplatesTable(),
		createSMSRoutesTable(),
		createNotificationCopiesTable(),
	}
}

func Migrate(db *gorm.DB) error {
	if err := gormigrate.New(db, options, all()).Migrate(); err != nil {
		return fmt.Errorf("failed to migrate feedback schema: %w", err)
	}
	return nil
}

func execAll(tx *gorm.DB, statements ...string) error {
	for _, sql := range statements {
		if err := tx.Exec(sql).Error; err != nil {
			return err
		}
	}
	return nil
}
