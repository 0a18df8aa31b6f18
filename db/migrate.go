package db

import (
	"fmt"

	"github.com/armonempire/portal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate runs AutoMigrate; only called when the server starts with -migrate.
func Migrate(gdb *gorm.DB, log *zap.Logger) error {
	err := gdb.AutoMigrate(
		&models.User{},
		&models.Appointment{},
	)
	if err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}

	log.Info("migrations applied")
	return nil
}
