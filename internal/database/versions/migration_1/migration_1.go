package migration_1

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TrainingRun struct {
	FailedFileCount int `gorm:"default:0"`
}

type RunError struct {
	RunId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Origin    string    `gorm:"size:20"`
	File      sql.NullString
	Error     string
	Timestamp time.Time
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().AddColumn(&TrainingRun{}, "failed_file_count"); err != nil {
		return fmt.Errorf("error adding FailedFileCount column: %w", err)
	}

	if err := db.Model(&TrainingRun{}).
		Where("failed_file_count IS NULL").
		Update("failed_file_count", 0).Error; err != nil {
		return fmt.Errorf("error setting default value for FailedFileCount: %w", err)
	}

	if err := db.Migrator().CreateTable(&RunError{}); err != nil {
		return fmt.Errorf("error creating run_errors table: %w", err)
	}

	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropTable(&RunError{}); err != nil {
		return fmt.Errorf("error dropping run_errors table: %w", err)
	}

	if err := db.Migrator().DropColumn(&TrainingRun{}, "failed_file_count"); err != nil {
		return fmt.Errorf("error dropping FailedFileCount column: %w", err)
	}

	return nil
}
