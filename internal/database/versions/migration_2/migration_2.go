package migration_2

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TrainingRun struct {
	BaseRunId *uuid.UUID `gorm:"type:uuid"`
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().AddColumn(&TrainingRun{}, "base_run_id"); err != nil {
		return fmt.Errorf("error adding BaseRunId column: %w", err)
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropColumn(&TrainingRun{}, "base_run_id"); err != nil {
		return fmt.Errorf("error dropping BaseRunId column: %w", err)
	}
	return nil
}
