package api

import (
	"encoding/json"
	"log/slog"

	"detection-backend/internal/database"
	"detection-backend/pkg/api"
)

func convertRunErrors(es []database.RunError) []api.RunError {
	var errors []api.RunError
	for _, e := range es {
		errors = append(errors, api.RunError{
			Origin:    e.Origin,
			File:      e.File.String,
			Error:     e.Error,
			Timestamp: e.Timestamp,
		})
	}
	return errors
}

func convertRun(r database.TrainingRun) api.Run {
	run := api.Run{
		Id:              r.Id,
		Name:            r.Name,
		Project:         r.Project,
		DataDir:         r.DataDir,
		SourceImageDir:  r.SourceImageDir,
		SourceLabelDir:  r.SourceLabelDir,
		Labels:          r.LabelNames(),
		ValSplit:        r.ValSplit,
		ModelSize:       r.ModelSize,
		Pretrained:      r.Pretrained,
		Epochs:          r.Epochs,
		BatchSize:       r.BatchSize,
		ImgSize:         r.ImgSize,
		Device:          r.Device,
		Status:          r.Status,
		CreationTime:    r.CreationTime,
		TrainCount:      r.TrainCount,
		ValCount:        r.ValCount,
		MovedCount:      r.MovedCount,
		LabelCount:      r.LabelCount,
		FailedFileCount: r.FailedFileCount,
		ConfigPath:      r.ConfigPath.String,
		OutputDir:       r.OutputDir.String,
		Errors:          convertRunErrors(r.Errors),
		BaseRunId:       r.BaseRunId,
	}

	if r.Seed.Valid {
		seed := r.Seed.Int64
		run.Seed = &seed
	}
	if r.StartTime.Valid {
		run.StartTime = &r.StartTime.Time
	}
	if r.CompletionTime.Valid {
		run.CompletionTime = &r.CompletionTime.Time
	}

	if len(r.ExtraArgs) > 0 {
		if err := json.Unmarshal(r.ExtraArgs, &run.Extra); err != nil {
			slog.Error("error decoding run extra args", "run_id", r.Id, "error", err)
		}
	}

	return run
}

func convertRuns(rs []database.TrainingRun) []api.Run {
	runs := make([]api.Run, 0, len(rs))
	for _, r := range rs {
		runs = append(runs, convertRun(r))
	}
	return runs
}
