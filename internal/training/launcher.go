package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
)

var ErrTrainerFailed = errors.New("trainer failed")

// TrainRequest is everything the external trainer needs for one run.
type TrainRequest struct {
	Model   string
	Data    string
	Epochs  int
	Batch   int
	ImgSize int
	Device  Device
	Name    string
	Project string
	Verbose bool

	// Extra holds additional trainer arguments passed through verbatim.
	Extra map[string]string
}

type Trainer interface {
	Train(ctx context.Context, req TrainRequest) error
}

type TrainerFunc func(ctx context.Context, req TrainRequest) error

func (f TrainerFunc) Train(ctx context.Context, req TrainRequest) error {
	return f(ctx, req)
}

type LaunchParams struct {
	ModelSize  string
	Pretrained bool
	Epochs     int
	BatchSize  int
	ImgSize    int
	Device     string
	Name       string
	Project    string
	ConfigPath string
	Extra      map[string]string

	// Weights, when set, is a weights file to start from instead of the model
	// resolved from ModelSize and Pretrained.
	Weights string
}

type Launcher struct {
	trainer Trainer
}

func NewLauncher(trainer Trainer) *Launcher {
	return &Launcher{trainer: trainer}
}

// OutputDir is where the trainer writes the results of a run.
func OutputDir(project, name string) string {
	return filepath.Join(project, name)
}

// BestWeights is the checkpoint the trainer keeps for the best epoch of a run.
func BestWeights(outputDir string) string {
	return filepath.Join(outputDir, "weights", "best.pt")
}

// Launch runs the trainer and returns the run's output directory. A trainer
// failure is returned wrapped in ErrTrainerFailed with no directory.
func (l *Launcher) Launch(ctx context.Context, params LaunchParams) (string, error) {
	req := TrainRequest{
		Model:   ResolveModel(params.ModelSize, params.Pretrained),
		Data:    params.ConfigPath,
		Epochs:  params.Epochs,
		Batch:   params.BatchSize,
		ImgSize: params.ImgSize,
		Device:  NormalizeDevice(params.Device),
		Name:    params.Name,
		Project: params.Project,
		Verbose: true,
		Extra:   params.Extra,
	}

	switch {
	case params.Weights != "":
		req.Model = params.Weights
		slog.Info("loading weights", "model", req.Model)
	case params.Pretrained:
		slog.Info("loading pretrained model", "model", req.Model)
	default:
		slog.Info("creating new model", "model", req.Model)
	}

	slog.Info("starting training", "model", req.Model, "data", req.Data, "epochs", req.Epochs, "batch", req.Batch, "imgsz", req.ImgSize, "device", req.Device.String(), "project", req.Project, "name", req.Name)

	if err := l.trainer.Train(ctx, req); err != nil {
		slog.Error("training failed", "model", req.Model, "name", req.Name, "error", err)
		return "", fmt.Errorf("%w: %w", ErrTrainerFailed, err)
	}

	outputDir := OutputDir(params.Project, params.Name)
	slog.Info("training completed", "output_dir", outputDir)

	return outputDir, nil
}
