package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"detection-backend/internal/config"
	"detection-backend/internal/core"
	"detection-backend/internal/database"
	"detection-backend/internal/messaging"
	"detection-backend/internal/storage"
	"detection-backend/internal/training"
	"detection-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type BackendService struct {
	db          *gorm.DB
	storage     storage.ObjectStore
	publisher   messaging.Publisher
	modelBucket string
	defaults    config.RunDefaults
}

func NewBackendService(db *gorm.DB, storage storage.ObjectStore, pub messaging.Publisher, modelBucket string, defaults config.RunDefaults) *BackendService {
	return &BackendService{db: db, storage: storage, publisher: pub, modelBucket: modelBucket, defaults: defaults}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", RestHandler(s.SubmitRun))
		r.Get("/", RestHandler(s.ListRuns))
		r.Get("/{run_id}", RestHandler(s.GetRun))
		r.Delete("/{run_id}", RestHandler(s.DeleteRun))
		r.Get("/{run_id}/artifacts", RestHandler(s.ListArtifacts))
		r.Get("/{run_id}/artifacts/*", s.DownloadArtifact)
	})
}

func (s *BackendService) applyDefaults(req *api.SubmitRunRequest) {
	d := s.defaults
	if req.Name == "" {
		req.Name = d.Name
	}
	if req.Project == "" {
		req.Project = d.Project
	}
	if req.SourceImageDir == "" {
		req.SourceImageDir = d.SourceImageDir
	}
	if req.SourceLabelDir == "" {
		req.SourceLabelDir = d.SourceLabelDir
	}
	if req.ValSplit == nil {
		valSplit := d.ValSplit
		req.ValSplit = &valSplit
	}
	if req.ModelSize == "" {
		req.ModelSize = d.ModelSize
	}
	if req.Pretrained == nil {
		pretrained := d.Pretrained
		req.Pretrained = &pretrained
	}
	if req.Epochs == 0 {
		req.Epochs = d.Epochs
	}
	if req.BatchSize == 0 {
		req.BatchSize = d.BatchSize
	}
	if req.ImgSize == 0 {
		req.ImgSize = d.ImgSize
	}
	if req.Device == "" {
		req.Device = d.Device
	}
}

func validateRunRequest(req api.SubmitRunRequest) error {
	if err := validateName(req.Name); err != nil {
		return err
	}

	dataset := core.DatasetParams{
		DataDir:        req.DataDir,
		SourceImageDir: req.SourceImageDir,
		SourceLabelDir: req.SourceLabelDir,
		Labels:         req.Labels,
		ValSplit:       *req.ValSplit,
	}
	if err := dataset.Validate(); err != nil {
		return CodedError(http.StatusUnprocessableEntity, err)
	}

	launch := training.LaunchParams{
		ModelSize: req.ModelSize,
		Epochs:    req.Epochs,
		BatchSize: req.BatchSize,
		ImgSize:   req.ImgSize,
		Device:    req.Device,
		Name:      req.Name,
		Project:   req.Project,
	}
	if err := core.ValidateLaunchParams(launch); err != nil {
		return CodedError(http.StatusUnprocessableEntity, err)
	}

	return nil
}

func (s *BackendService) SubmitRun(r *http.Request) (any, error) {
	req, err := ParseRequest[api.SubmitRunRequest](r)
	if err != nil {
		return nil, err
	}

	s.applyDefaults(&req)

	if err := validateRunRequest(req); err != nil {
		return nil, err
	}

	extra := datatypes.JSON("{}")
	if len(req.Extra) > 0 {
		data, err := json.Marshal(req.Extra)
		if err != nil {
			return nil, CodedErrorf(http.StatusBadRequest, "invalid extra args: %v", err)
		}
		extra = data
	}

	ctx := r.Context()

	if req.BaseRunId != nil {
		if err := s.checkBaseRun(r, *req.BaseRunId); err != nil {
			return nil, err
		}
	}

	runId := uuid.New()
	run := database.TrainingRun{
		Id:             runId,
		Name:           req.Name,
		Project:        req.Project,
		DataDir:        req.DataDir,
		SourceImageDir: req.SourceImageDir,
		SourceLabelDir: req.SourceLabelDir,
		ValSplit:       *req.ValSplit,
		ModelSize:      req.ModelSize,
		Pretrained:     *req.Pretrained,
		Epochs:         req.Epochs,
		BatchSize:      req.BatchSize,
		ImgSize:        req.ImgSize,
		Device:         req.Device,
		ExtraArgs:      extra,
		Status:         database.RunQueued,
		CreationTime:   time.Now().UTC(),
		Labels:         database.NewRunLabels(runId, req.Labels),
		BaseRunId:      req.BaseRunId,
	}
	if req.Seed != nil {
		run.Seed = sql.NullInt64{Int64: *req.Seed, Valid: true}
	}

	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		slog.Error("error creating training run", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create training run entry")
	}

	if err := s.publisher.PublishTrainTask(ctx, messaging.TrainTaskPayload{RunId: runId}); err != nil {
		slog.Error("error publishing train task", "run_id", runId, "error", err)
		database.SaveRunError(ctx, s.db, runId, database.OriginDataset, "", "failed to queue training task")
		database.UpdateRunStatus(ctx, s.db, runId, database.RunFailed) //nolint:errcheck
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue training task")
	}

	slog.Info("submitted training run", "run_id", runId, "name", run.Name, "data_dir", run.DataDir)

	return api.SubmitRunResponse{RunId: runId}, nil
}

func (s *BackendService) checkBaseRun(r *http.Request, baseRunId uuid.UUID) error {
	base, err := database.GetRun(r.Context(), s.db, baseRunId)
	if err != nil {
		if errors.Is(err, database.ErrRunNotFound) {
			return CodedErrorf(http.StatusUnprocessableEntity, "base run %s not found", baseRunId)
		}
		slog.Error("error getting base run", "base_run_id", baseRunId, "error", err)
		return CodedErrorf(http.StatusInternalServerError, "error retrieving base run")
	}
	if base.Status != database.RunCompleted {
		return CodedErrorf(http.StatusUnprocessableEntity, "base run %s has status %s, only completed runs can be trained from", baseRunId, base.Status)
	}
	return nil
}

func (s *BackendService) ListRuns(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ListRunsParams](r)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(r.Context()).
		Preload("Labels", func(db *gorm.DB) *gorm.DB { return db.Order("class_id ASC") }).
		Order("creation_time DESC")
	if params.Status != "" {
		query = query.Where("status = ?", strings.ToUpper(params.Status))
	}

	var runs []database.TrainingRun
	if err := query.Find(&runs).Error; err != nil {
		slog.Error("error listing training runs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving training runs")
	}

	return convertRuns(runs), nil
}

func (s *BackendService) getRun(r *http.Request) (database.TrainingRun, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return database.TrainingRun{}, err
	}

	run, err := database.GetRun(r.Context(), s.db, runId)
	if err != nil {
		if errors.Is(err, database.ErrRunNotFound) {
			return database.TrainingRun{}, CodedErrorf(http.StatusNotFound, "training run not found")
		}
		return database.TrainingRun{}, CodedErrorf(http.StatusInternalServerError, "error retrieving training run")
	}

	return run, nil
}

func (s *BackendService) GetRun(r *http.Request) (any, error) {
	run, err := s.getRun(r)
	if err != nil {
		return nil, err
	}
	return convertRun(run), nil
}

// DeleteRun removes a finished run and its uploaded artifacts. Queued and
// running runs cannot be deleted.
func (s *BackendService) DeleteRun(r *http.Request) (any, error) {
	run, err := s.getRun(r)
	if err != nil {
		return nil, err
	}

	if run.Active() {
		return nil, CodedErrorf(http.StatusConflict, "training run is %s and cannot be deleted", run.Status)
	}

	ctx := r.Context()

	if err := s.storage.DeleteObjects(ctx, s.modelBucket, run.Id.String()+"/"); err != nil {
		slog.Error("error deleting run artifacts", "run_id", run.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error deleting run artifacts")
	}

	if err := database.DeleteRun(ctx, s.db, run.Id); err != nil {
		slog.Error("error deleting training run", "run_id", run.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error deleting training run")
	}

	slog.Info("deleted training run", "run_id", run.Id)

	return nil, nil
}

func (s *BackendService) ListArtifacts(r *http.Request) (any, error) {
	run, err := s.getRun(r)
	if err != nil {
		return nil, err
	}

	prefix := run.Id.String() + "/"
	objects, err := s.storage.ListObjects(r.Context(), s.modelBucket, prefix)
	if err != nil {
		slog.Error("error listing run artifacts", "run_id", run.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing run artifacts")
	}

	artifacts := make([]api.Artifact, 0, len(objects))
	for _, obj := range objects {
		artifacts = append(artifacts, api.Artifact{Key: strings.TrimPrefix(obj.Name, prefix), Size: obj.Size})
	}

	return artifacts, nil
}

func (s *BackendService) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := chi.URLParam(r, "*")
	if key == "" || strings.Contains(key, "..") {
		http.Error(w, "invalid artifact key", http.StatusBadRequest)
		return
	}

	data, err := s.storage.GetObject(r.Context(), s.modelBucket, runId.String()+"/"+key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			http.Error(w, "artifact not found", http.StatusNotFound)
			return
		}
		slog.Error("error reading run artifact", "run_id", runId, "key", key, "error", err)
		http.Error(w, "error reading artifact", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("error writing artifact response", "run_id", runId, "key", key, "error", err)
	}
}
