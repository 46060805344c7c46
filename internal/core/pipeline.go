package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"slices"

	"detection-backend/internal/dataset"
	"detection-backend/internal/training"
)

var (
	// ErrInvalidConfig marks parameters rejected before anything on disk is
	// touched.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrSetup marks failures preparing the dataset directories. Re-running
	// the split may be needed after fixing the cause.
	ErrSetup = errors.New("dataset setup failed")
)

const (
	DefaultSourceImageDir = "images"
	DefaultSourceLabelDir = "labels"
)

type DatasetParams struct {
	DataDir string

	// Source directories are resolved against DataDir unless absolute.
	SourceImageDir string
	SourceLabelDir string

	Labels   []string
	ValSplit float64

	// Seed makes the split reproducible. Nil gives a fresh partition.
	Seed *int64

	Progress io.Writer
}

func (p DatasetParams) resolve(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(p.DataDir, dir)
}

func (p DatasetParams) ImageSourceDir() string {
	return p.resolve(p.SourceImageDir)
}

func (p DatasetParams) LabelSourceDir() string {
	return p.resolve(p.SourceLabelDir)
}

func (p DatasetParams) Validate() error {
	if p.DataDir == "" {
		return fmt.Errorf("%w: data dir is required", ErrInvalidConfig)
	}
	if p.SourceImageDir == "" {
		return fmt.Errorf("%w: source image dir is required", ErrInvalidConfig)
	}
	if err := dataset.ValidateLabels(p.Labels); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := dataset.ValidateRatio(p.ValSplit); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (p DatasetParams) rng() *rand.Rand {
	if p.Seed == nil {
		return nil
	}
	return rand.New(rand.NewSource(*p.Seed))
}

type PrepareResult struct {
	Layout     *dataset.Layout
	Split      dataset.SplitResult
	ConfigPath string
}

// PrepareDataset creates the layout under DataDir, moves the source samples
// into it and writes the dataset config. Parameters are validated and the
// source directory checked before anything is created or moved.
func PrepareDataset(params DatasetParams) (PrepareResult, error) {
	if err := params.Validate(); err != nil {
		return PrepareResult{}, err
	}

	imageDir := params.ImageSourceDir()
	info, err := os.Stat(imageDir)
	if err != nil {
		return PrepareResult{}, fmt.Errorf("%w: source image directory: %w", ErrSetup, err)
	}
	if !info.IsDir() {
		return PrepareResult{}, fmt.Errorf("%w: source image path %s is not a directory", ErrSetup, imageDir)
	}

	layout := dataset.NewLayout(params.DataDir)
	if err := layout.Ensure(); err != nil {
		return PrepareResult{}, fmt.Errorf("%w: %w", ErrSetup, err)
	}

	split, err := dataset.SplitDataset(dataset.SplitOptions{
		SourceImageDir: imageDir,
		SourceLabelDir: params.LabelSourceDir(),
		Layout:         layout,
		ValRatio:       params.ValSplit,
		Rand:           params.rng(),
		Progress:       params.Progress,
	})
	if err != nil {
		return PrepareResult{}, fmt.Errorf("%w: %w", ErrSetup, err)
	}

	configPath, err := dataset.EmitConfig(layout, params.Labels, layout.ConfigPath())
	if err != nil {
		return PrepareResult{}, fmt.Errorf("%w: %w", ErrSetup, err)
	}

	return PrepareResult{Layout: layout, Split: split, ConfigPath: configPath}, nil
}

func ValidateLaunchParams(params training.LaunchParams) error {
	switch {
	case params.ModelSize == "":
		return fmt.Errorf("%w: model size is required", ErrInvalidConfig)
	case !slices.Contains(training.ModelSizes, params.ModelSize):
		return fmt.Errorf("%w: unknown model size '%s'", ErrInvalidConfig, params.ModelSize)
	case params.Epochs <= 0:
		return fmt.Errorf("%w: epochs must be positive", ErrInvalidConfig)
	case params.BatchSize == 0 || params.BatchSize < -1:
		return fmt.Errorf("%w: batch size must be positive or -1 for auto", ErrInvalidConfig)
	case params.ImgSize <= 0:
		return fmt.Errorf("%w: image size must be positive", ErrInvalidConfig)
	case params.Name == "":
		return fmt.Errorf("%w: run name is required", ErrInvalidConfig)
	case params.Project == "":
		return fmt.Errorf("%w: project dir is required", ErrInvalidConfig)
	}
	return nil
}

type RunParams struct {
	Dataset DatasetParams

	// Training.ConfigPath is filled in from the prepared dataset.
	Training training.LaunchParams
}

type RunResult struct {
	Prepare   PrepareResult
	OutputDir string
}

type Pipeline struct {
	launcher *training.Launcher
}

func NewPipeline(trainer training.Trainer) *Pipeline {
	return &Pipeline{launcher: training.NewLauncher(trainer)}
}

// Run prepares the dataset and trains on it. Errors from the trainer wrap
// training.ErrTrainerFailed and leave the prepared dataset in place, so the
// run can be retried with Train alone.
func (p *Pipeline) Run(ctx context.Context, params RunParams) (RunResult, error) {
	if err := params.Dataset.Validate(); err != nil {
		return RunResult{}, err
	}
	if err := ValidateLaunchParams(params.Training); err != nil {
		return RunResult{}, err
	}

	prepared, err := PrepareDataset(params.Dataset)
	if err != nil {
		return RunResult{}, err
	}

	slog.Info("dataset prepared", "root", prepared.Layout.Root(), "train", prepared.Split.Train, "val", prepared.Split.Val, "failures", len(prepared.Split.Failures))

	outputDir, err := p.Train(ctx, prepared.ConfigPath, params.Training)
	if err != nil {
		return RunResult{Prepare: prepared}, err
	}

	return RunResult{Prepare: prepared, OutputDir: outputDir}, nil
}

// Train launches training against an already prepared dataset config.
func (p *Pipeline) Train(ctx context.Context, configPath string, params training.LaunchParams) (string, error) {
	if err := ValidateLaunchParams(params); err != nil {
		return "", err
	}
	params.ConfigPath = configPath
	return p.launcher.Launch(ctx, params)
}
