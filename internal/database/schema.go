package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RunQueued    string = "QUEUED"
	RunPreparing string = "PREPARING"
	RunTraining  string = "TRAINING"
	RunCompleted string = "COMPLETED"
	RunFailed    string = "FAILED"
)

// Error origins recorded on a run, so an operator can tell whether the
// dataset needs to be split again or only training has to be retried.
const (
	OriginDataset  string = "dataset"
	OriginSample   string = "sample"
	OriginTraining string = "training"
	OriginStorage  string = "storage"
)

type TrainingRun struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name    string `gorm:"not null"`
	Project string `gorm:"not null"`

	DataDir        string `gorm:"not null"`
	SourceImageDir string
	SourceLabelDir string
	ValSplit       float64
	Seed           sql.NullInt64

	ModelSize  string `gorm:"size:8;not null"`
	Pretrained bool
	Epochs     int
	BatchSize  int
	ImgSize    int
	Device     string
	ExtraArgs  datatypes.JSON `gorm:"type:jsonb"` // {"patience": "10", ...}

	// BaseRunId is a completed run whose best weights this run starts from.
	BaseRunId *uuid.UUID `gorm:"type:uuid"`

	Status         string `gorm:"size:20;not null"`
	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime

	TrainCount      int `gorm:"default:0"`
	ValCount        int `gorm:"default:0"`
	MovedCount      int `gorm:"default:0"`
	LabelCount      int `gorm:"default:0"`
	FailedFileCount int `gorm:"default:0"`

	ConfigPath sql.NullString
	OutputDir  sql.NullString

	Labels []RunLabel `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
	Errors []RunError `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
}

// Active reports whether the run is queued or being processed.
func (r TrainingRun) Active() bool {
	return r.Status == RunQueued || r.Status == RunPreparing || r.Status == RunTraining
}

type RunLabel struct {
	RunId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	ClassId int       `gorm:"primaryKey;autoIncrement:false"`
	Name    string    `gorm:"not null"`
}

type RunError struct {
	RunId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Origin    string    `gorm:"size:20"`
	File      sql.NullString
	Error     string
	Timestamp time.Time
}

func (run *TrainingRun) LabelNames() []string {
	names := make([]string, len(run.Labels))
	for i, label := range run.Labels {
		names[i] = label.Name
	}
	return names
}
