package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"detection-backend/internal/database"
	"detection-backend/internal/messaging"
	"detection-backend/internal/storage"
	"detection-backend/internal/training"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TaskProcessor struct {
	db        *gorm.DB
	storage   storage.ObjectStore
	publisher messaging.Publisher
	reciever  messaging.Reciever

	pipeline *Pipeline

	modelBucket string
}

func NewTaskProcessor(db *gorm.DB, storage storage.ObjectStore, publisher messaging.Publisher, reciever messaging.Reciever, pipeline *Pipeline, modelBucket string) *TaskProcessor {
	return &TaskProcessor{
		db:          db,
		storage:     storage,
		publisher:   publisher,
		reciever:    reciever,
		pipeline:    pipeline,
		modelBucket: modelBucket,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.reciever.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.publisher.Close()
	proc.reciever.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {
	case messaging.TrainingQueue:
		var payload messaging.TrainTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling train task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processTrainTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

// failRun records err on the run under origin and marks the run failed.
func (proc *TaskProcessor) failRun(ctx context.Context, runId uuid.UUID, origin string, err error) {
	database.SaveRunError(ctx, proc.db, runId, origin, "", err.Error())
	database.UpdateRunStatus(ctx, proc.db, runId, database.RunFailed) //nolint:errcheck
}

func errorOrigin(err error) string {
	switch {
	case errors.Is(err, training.ErrTrainerFailed):
		return database.OriginTraining
	default:
		return database.OriginDataset
	}
}

func datasetParams(run database.TrainingRun) DatasetParams {
	params := DatasetParams{
		DataDir:        run.DataDir,
		SourceImageDir: run.SourceImageDir,
		SourceLabelDir: run.SourceLabelDir,
		Labels:         run.LabelNames(),
		ValSplit:       run.ValSplit,
	}
	if run.Seed.Valid {
		seed := run.Seed.Int64
		params.Seed = &seed
	}
	return params
}

func launchParams(run database.TrainingRun) (training.LaunchParams, error) {
	var extra map[string]string
	if len(run.ExtraArgs) > 0 {
		if err := json.Unmarshal(run.ExtraArgs, &extra); err != nil {
			return training.LaunchParams{}, fmt.Errorf("%w: invalid extra args: %w", ErrInvalidConfig, err)
		}
	}

	return training.LaunchParams{
		ModelSize:  run.ModelSize,
		Pretrained: run.Pretrained,
		Epochs:     run.Epochs,
		BatchSize:  run.BatchSize,
		ImgSize:    run.ImgSize,
		Device:     run.Device,
		Name:       run.Name,
		Project:    run.Project,
		Extra:      extra,
	}, nil
}

func (proc *TaskProcessor) processTrainTask(ctx context.Context, payload messaging.TrainTaskPayload) error {
	runId := payload.RunId

	run, err := database.GetRun(ctx, proc.db, runId)
	if err != nil {
		slog.Error("error getting training run", "run_id", runId, "error", err)
		return err
	}

	if run.Status != database.RunQueued {
		slog.Warn("training run is not queued, skipping", "run_id", runId, "status", run.Status)
		return nil
	}

	slog.Info("processing train task", "run_id", runId, "data_dir", run.DataDir)

	launch, err := launchParams(run)
	if err == nil {
		err = ValidateLaunchParams(launch)
	}
	if err != nil {
		slog.Error("invalid training parameters", "run_id", runId, "error", err)
		proc.failRun(ctx, runId, database.OriginDataset, err)
		return err
	}

	baseOutputDir, err := proc.baseRunOutput(ctx, run)
	if err != nil {
		slog.Error("invalid base run", "run_id", runId, "error", err)
		proc.failRun(ctx, runId, database.OriginDataset, err)
		return err
	}

	if err := database.UpdateRunStatus(ctx, proc.db, runId, database.RunPreparing); err != nil {
		return fmt.Errorf("error updating run status: %w", err)
	}

	if run.BaseRunId != nil {
		launch.Weights, err = proc.restoreWeights(ctx, *run.BaseRunId, baseOutputDir)
		if err != nil {
			proc.failRun(ctx, runId, database.OriginStorage, err)
			slog.Error("error restoring base run weights", "run_id", runId, "base_run_id", *run.BaseRunId, "error", err)
			return err
		}
	}

	prepared, err := PrepareDataset(datasetParams(run))
	if err != nil {
		proc.failRun(ctx, runId, database.OriginDataset, err)
		slog.Error("error preparing dataset", "run_id", runId, "error", err)
		return fmt.Errorf("error preparing dataset: %w", err)
	}

	for _, failure := range prepared.Split.Failures {
		database.SaveRunError(ctx, proc.db, runId, database.OriginSample, failure.File, failure.Err.Error())
	}

	split := prepared.Split
	if err := proc.db.WithContext(ctx).Model(&database.TrainingRun{Id: runId}).Updates(map[string]any{
		"train_count":       split.Train,
		"val_count":         split.Val,
		"moved_count":       split.MovedTrain + split.MovedVal,
		"label_count":       split.LabelsMoved,
		"failed_file_count": len(split.Failures),
		"config_path":       sql.NullString{String: prepared.ConfigPath, Valid: true},
	}).Error; err != nil {
		slog.Error("error saving split counts", "run_id", runId, "error", err)
		return fmt.Errorf("error saving split counts: %w", err)
	}

	slog.Info("dataset prepared", "run_id", runId, "train", split.Train, "val", split.Val, "failures", len(split.Failures))

	if err := database.UpdateRunStatus(ctx, proc.db, runId, database.RunTraining); err != nil {
		return fmt.Errorf("error updating run status: %w", err)
	}

	outputDir, err := proc.pipeline.Train(ctx, prepared.ConfigPath, launch)
	if err != nil {
		proc.failRun(ctx, runId, errorOrigin(err), err)
		slog.Error("error training model", "run_id", runId, "error", err)
		return fmt.Errorf("error training model: %w", err)
	}

	slog.Info("training completed", "run_id", runId, "output_dir", outputDir)

	if err := proc.uploadOutput(ctx, runId, outputDir); err != nil {
		proc.failRun(ctx, runId, database.OriginStorage, err)
		slog.Error("error uploading training output", "run_id", runId, "error", err)
		return err
	}

	if err := proc.db.WithContext(ctx).Model(&database.TrainingRun{Id: runId}).
		Update("output_dir", sql.NullString{String: outputDir, Valid: true}).Error; err != nil {
		return fmt.Errorf("error saving output dir: %w", err)
	}

	if err := database.UpdateRunStatus(ctx, proc.db, runId, database.RunCompleted); err != nil {
		return fmt.Errorf("error updating run status after training: %w", err)
	}

	return nil
}

// baseRunOutput returns the output dir of the run's base run, or "" if it has
// none. The base run must have completed.
func (proc *TaskProcessor) baseRunOutput(ctx context.Context, run database.TrainingRun) (string, error) {
	if run.BaseRunId == nil {
		return "", nil
	}

	base, err := database.GetRun(ctx, proc.db, *run.BaseRunId)
	if err != nil {
		return "", fmt.Errorf("%w: base run: %w", ErrInvalidConfig, err)
	}
	if base.Status != database.RunCompleted || !base.OutputDir.Valid {
		return "", fmt.Errorf("%w: base run %s has not completed", ErrInvalidConfig, base.Id)
	}

	return base.OutputDir.String, nil
}

// restoreWeights returns the best weights of a base run, downloading the
// run's uploaded output into outputDir when they are not on local disk.
func (proc *TaskProcessor) restoreWeights(ctx context.Context, baseRunId uuid.UUID, outputDir string) (string, error) {
	weights := training.BestWeights(outputDir)
	if _, err := os.Stat(weights); err == nil {
		return weights, nil
	}

	slog.Info("base run weights not found locally, downloading", "base_run_id", baseRunId, "output_dir", outputDir)

	if err := proc.storage.DownloadDir(ctx, proc.modelBucket, baseRunId.String(), outputDir, true); err != nil {
		return "", fmt.Errorf("error downloading base run output: %w", err)
	}

	if _, err := os.Stat(weights); err != nil {
		return "", fmt.Errorf("base run %s has no weights: %w", baseRunId, err)
	}

	return weights, nil
}

func (proc *TaskProcessor) uploadOutput(ctx context.Context, runId uuid.UUID, outputDir string) error {
	if _, err := os.Stat(outputDir); errors.Is(err, fs.ErrNotExist) {
		slog.Warn("trainer did not create an output directory, nothing to upload", "run_id", runId, "output_dir", outputDir)
		return nil
	}

	if err := proc.storage.UploadDir(ctx, proc.modelBucket, runId.String(), outputDir); err != nil {
		return fmt.Errorf("error uploading training output: %w", err)
	}

	slog.Info("training output uploaded", "run_id", runId, "bucket", proc.modelBucket)
	return nil
}
