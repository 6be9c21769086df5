package db

import (
	"fmt"

	"github.com/zulandar/jobscout/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model managed by Jobscout.
func AllModels() []interface{} {
	return []interface{}{
		&models.ChatSession{},
		&models.Turn{},
		&models.Checkpoint{},
		&models.Interrupt{},
		&models.RunLock{},
		&models.Owner{},
		&models.Profile{},
		&models.Preferences{},
		&models.SearchRun{},
		&models.SearchResult{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Reset drops every managed table and recreates the schema.
func Reset(db *gorm.DB) error {
	if err := db.Migrator().DropTable(AllModels()...); err != nil {
		return fmt.Errorf("db: drop tables: %w", err)
	}
	return AutoMigrate(db)
}
