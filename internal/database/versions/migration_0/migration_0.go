package migration_0

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
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
	ExtraArgs  datatypes.JSON `gorm:"type:jsonb"`

	Status         string `gorm:"size:20;not null"`
	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime

	TrainCount int `gorm:"default:0"`
	ValCount   int `gorm:"default:0"`
	MovedCount int `gorm:"default:0"`
	LabelCount int `gorm:"default:0"`

	ConfigPath sql.NullString
	OutputDir  sql.NullString

	Labels []RunLabel `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
}

type RunLabel struct {
	RunId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	ClassId int       `gorm:"primaryKey;autoIncrement:false"`
	Name    string    `gorm:"not null"`
}

func Migration(db *gorm.DB) error {
	return db.AutoMigrate(&TrainingRun{}, &RunLabel{})
}
