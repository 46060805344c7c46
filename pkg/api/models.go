package api

import (
	"time"

	"github.com/google/uuid"
)

// SubmitRunRequest describes a training run. Zero valued fields are filled in
// from the server's run defaults; the pointer fields distinguish an explicit
// zero from an omitted value.
type SubmitRunRequest struct {
	Name    string
	Project string

	DataDir        string
	SourceImageDir string
	SourceLabelDir string
	Labels         []string
	ValSplit       *float64
	Seed           *int64

	ModelSize  string
	Pretrained *bool
	Epochs     int
	BatchSize  int
	ImgSize    int
	Device     string

	Extra map[string]string `json:"Extra,omitempty"`

	// BaseRunId starts training from the best weights of a completed run.
	BaseRunId *uuid.UUID `json:"BaseRunId,omitempty"`
}

type SubmitRunResponse struct {
	RunId uuid.UUID
}

type ListRunsParams struct {
	Status string `schema:"status"`
}

type RunError struct {
	Origin    string
	File      string `json:"File,omitempty"`
	Error     string
	Timestamp time.Time
}

type Run struct {
	Id      uuid.UUID
	Name    string
	Project string

	DataDir        string
	SourceImageDir string
	SourceLabelDir string
	Labels         []string
	ValSplit       float64
	Seed           *int64 `json:"Seed,omitempty"`

	ModelSize  string
	Pretrained bool
	Epochs     int
	BatchSize  int
	ImgSize    int
	Device     string
	Extra      map[string]string `json:"Extra,omitempty"`
	BaseRunId  *uuid.UUID        `json:"BaseRunId,omitempty"`

	Status         string
	CreationTime   time.Time
	StartTime      *time.Time `json:"StartTime,omitempty"`
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`

	// TrainCount and ValCount are the planned split sizes, MovedCount is the
	// number of images that were relocated.
	TrainCount      int
	ValCount        int
	MovedCount      int
	LabelCount      int
	FailedFileCount int

	ConfigPath string `json:"ConfigPath,omitempty"`
	OutputDir  string `json:"OutputDir,omitempty"`

	Errors []RunError `json:"Errors,omitempty"`
}

type Artifact struct {
	Key  string
	Size int64
}
