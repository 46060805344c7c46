package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrRunNotFound = errors.New("training run not found")

func UpdateRunStatus(ctx context.Context, txn *gorm.DB, runId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	switch status {
	case RunPreparing:
		updates["start_time"] = time.Now().UTC()
	case RunCompleted, RunFailed:
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&TrainingRun{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error updating run status", "run_id", runId, "status", status, "error", err)
		return err
	}
	return nil
}

func SaveRunError(ctx context.Context, txn *gorm.DB, runId uuid.UUID, origin, file, errorMessage string) {
	runError := RunError{
		RunId:     runId,
		ErrorId:   uuid.New(),
		Origin:    origin,
		File:      sql.NullString{String: file, Valid: file != ""},
		Error:     errorMessage,
		Timestamp: time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Create(&runError).Error; err != nil {
		slog.Error("error saving run error", "run_id", runId, "origin", origin, "error", errorMessage, "db_error", err)
	}
}

// GetRun loads a run with its labels in class order and its errors.
func GetRun(ctx context.Context, txn *gorm.DB, runId uuid.UUID) (TrainingRun, error) {
	var run TrainingRun
	err := txn.WithContext(ctx).
		Preload("Labels", func(db *gorm.DB) *gorm.DB { return db.Order("class_id ASC") }).
		Preload("Errors", func(db *gorm.DB) *gorm.DB { return db.Order("timestamp ASC") }).
		First(&run, "id = ?", runId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return TrainingRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, runId)
		}
		return TrainingRun{}, fmt.Errorf("error getting run %s: %w", runId, err)
	}
	return run, nil
}

// DeleteRun removes a run together with its labels and errors.
func DeleteRun(ctx context.Context, txn *gorm.DB, runId uuid.UUID) error {
	return txn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", runId).Delete(&RunError{}).Error; err != nil {
			return fmt.Errorf("error deleting run errors: %w", err)
		}
		if err := tx.Where("run_id = ?", runId).Delete(&RunLabel{}).Error; err != nil {
			return fmt.Errorf("error deleting run labels: %w", err)
		}
		result := tx.Delete(&TrainingRun{Id: runId})
		if result.Error != nil {
			return fmt.Errorf("error deleting run: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runId)
		}
		return nil
	})
}

// NewRunLabels builds the label rows for labels, using list position as the
// class id.
func NewRunLabels(runId uuid.UUID, labels []string) []RunLabel {
	rows := make([]RunLabel, len(labels))
	for i, name := range labels {
		rows[i] = RunLabel{RunId: runId, ClassId: i, Name: name}
	}
	return rows
}
