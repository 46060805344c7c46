package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	backend "detection-backend/internal/api"
	"detection-backend/internal/config"
	"detection-backend/internal/database"
	"detection-backend/internal/messaging"
	"detection-backend/internal/storage"
	"detection-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const modelBucket = "models"

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

func defaults(t *testing.T) config.RunDefaults {
	d, err := config.LoadFrom[config.RunDefaults]("")
	require.NoError(t, err)
	return d
}

type testService struct {
	db     *gorm.DB
	store  *storage.LocalObjectStore
	queue  *messaging.InMemoryQueue
	router chi.Router
}

func setupService(t *testing.T, create ...any) testService {
	db := createDB(t, create...)

	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	queue := messaging.NewInMemoryQueue()
	t.Cleanup(queue.Close)

	service := backend.NewBackendService(db, store, queue, modelBucket, defaults(t))
	router := chi.NewRouter()
	service.AddRoutes(router)

	return testService{db: db, store: store, queue: queue, router: router}
}

func (s testService) do(t *testing.T, method, endpoint string, payload any) *httptest.ResponseRecorder {
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, endpoint, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func newRun(id uuid.UUID, name, status string) *database.TrainingRun {
	return &database.TrainingRun{
		Id:           id,
		Name:         name,
		Project:      "runs/detect",
		DataDir:      "/data/" + name,
		ModelSize:    "m",
		Epochs:       100,
		BatchSize:    16,
		ImgSize:      640,
		Device:       "0",
		ValSplit:     0.2,
		Status:       status,
		CreationTime: time.Now().UTC(),
		Labels:       database.NewRunLabels(id, []string{"car", "truck"}),
	}
}

func TestHealth(t *testing.T) {
	service := setupService(t)

	rec := service.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitRun(t *testing.T) {
	service := setupService(t)

	seed := int64(42)
	rec := service.do(t, http.MethodPost, "/runs", api.SubmitRunRequest{
		DataDir: "/data/traffic",
		Labels:  []string{"car", "truck", "bus"},
		Seed:    &seed,
		Epochs:  10,
		Extra:   map[string]string{"patience": "3"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var response api.SubmitRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))

	task := <-service.queue.Tasks()
	assert.Equal(t, messaging.TrainingQueue, task.Type())
	var payload messaging.TrainTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, response.RunId, payload.RunId)

	rec = service.do(t, http.MethodGet, "/runs/"+response.RunId.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var run api.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))

	assert.Equal(t, "yolov8_custom", run.Name)
	assert.Equal(t, "runs/detect", run.Project)
	assert.Equal(t, "images", run.SourceImageDir)
	assert.Equal(t, "labels", run.SourceLabelDir)
	assert.Equal(t, []string{"car", "truck", "bus"}, run.Labels)
	assert.Equal(t, 0.2, run.ValSplit)
	require.NotNil(t, run.Seed)
	assert.Equal(t, int64(42), *run.Seed)
	assert.Equal(t, "m", run.ModelSize)
	assert.True(t, run.Pretrained)
	assert.Equal(t, 10, run.Epochs)
	assert.Equal(t, 16, run.BatchSize)
	assert.Equal(t, 640, run.ImgSize)
	assert.Equal(t, "0", run.Device)
	assert.Equal(t, map[string]string{"patience": "3"}, run.Extra)
	assert.Equal(t, database.RunQueued, run.Status)
}

func TestSubmitRunExplicitZeros(t *testing.T) {
	service := setupService(t)

	valSplit, pretrained := 0.0, false
	rec := service.do(t, http.MethodPost, "/runs", api.SubmitRunRequest{
		DataDir:    "/data/traffic",
		Labels:     []string{"car"},
		ValSplit:   &valSplit,
		Pretrained: &pretrained,
		BatchSize:  -1,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var response api.SubmitRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))

	run, err := database.GetRun(context.Background(), service.db, response.RunId)
	require.NoError(t, err)
	assert.Equal(t, 0.0, run.ValSplit)
	assert.False(t, run.Pretrained)
	assert.Equal(t, -1, run.BatchSize)
	assert.False(t, run.Seed.Valid)
}

func TestSubmitRunValidation(t *testing.T) {
	service := setupService(t)

	one, negative := 1.0, -0.1
	for name, req := range map[string]api.SubmitRunRequest{
		"no labels":       {DataDir: "/data"},
		"blank label":     {DataDir: "/data", Labels: []string{"car", " "}},
		"no data dir":     {Labels: []string{"car"}},
		"val split one":   {DataDir: "/data", Labels: []string{"car"}, ValSplit: &one},
		"negative split":  {DataDir: "/data", Labels: []string{"car"}, ValSplit: &negative},
		"negative epochs": {DataDir: "/data", Labels: []string{"car"}, Epochs: -5},
		"bad batch":       {DataDir: "/data", Labels: []string{"car"}, BatchSize: -2},
		"bad name":        {DataDir: "/data", Labels: []string{"car"}, Name: "../escape"},
	} {
		t.Run(name, func(t *testing.T) {
			rec := service.do(t, http.MethodPost, "/runs", req)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
		})
	}

	var count int64
	require.NoError(t, service.db.Model(&database.TrainingRun{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestSubmitRunBadBody(t *testing.T) {
	service := setupService(t)

	req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	service.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRuns(t *testing.T) {
	id1, id2 := uuid.New(), uuid.New()
	service := setupService(t,
		newRun(id1, "first", database.RunCompleted),
		newRun(id2, "second", database.RunQueued),
	)

	rec := service.do(t, http.MethodGet, "/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var runs []api.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 2)

	rec = service.do(t, http.MethodGet, "/runs?status=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, id1, runs[0].Id)
	assert.Equal(t, []string{"car", "truck"}, runs[0].Labels)
}

func TestGetRun(t *testing.T) {
	runId := uuid.New()
	run := newRun(runId, "exp", database.RunFailed)
	run.TrainCount, run.ValCount, run.MovedCount, run.FailedFileCount = 8, 2, 9, 1
	run.ConfigPath = sql.NullString{String: "/data/exp/dataset.yaml", Valid: true}

	service := setupService(t, run)
	database.SaveRunError(context.Background(), service.db, runId, database.OriginSample, "/data/exp/images/a.jpg", "file exists")

	rec := service.do(t, http.MethodGet, "/runs/"+runId.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var response api.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, 8, response.TrainCount)
	assert.Equal(t, 2, response.ValCount)
	assert.Equal(t, 9, response.MovedCount)
	assert.Equal(t, 1, response.FailedFileCount)
	assert.Equal(t, "/data/exp/dataset.yaml", response.ConfigPath)
	require.Len(t, response.Errors, 1)
	assert.Equal(t, database.OriginSample, response.Errors[0].Origin)
	assert.Equal(t, "/data/exp/images/a.jpg", response.Errors[0].File)
}

func TestGetRunNotFound(t *testing.T) {
	service := setupService(t)

	rec := service.do(t, http.MethodGet, "/runs/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = service.do(t, http.MethodGet, "/runs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestArtifacts(t *testing.T) {
	runId := uuid.New()
	service := setupService(t, newRun(runId, "exp", database.RunCompleted))

	ctx := context.Background()
	require.NoError(t, service.store.PutObject(ctx, modelBucket, runId.String()+"/weights/best.pt", strings.NewReader("best")))
	require.NoError(t, service.store.PutObject(ctx, modelBucket, runId.String()+"/results.csv", strings.NewReader("epoch,loss")))

	rec := service.do(t, http.MethodGet, "/runs/"+runId.String()+"/artifacts", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var artifacts []api.Artifact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &artifacts))
	assert.ElementsMatch(t, []api.Artifact{
		{Key: "weights/best.pt", Size: 4},
		{Key: "results.csv", Size: 10},
	}, artifacts)

	rec = service.do(t, http.MethodGet, "/runs/"+runId.String()+"/artifacts/weights/best.pt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "best", rec.Body.String())

	rec = service.do(t, http.MethodGet, "/runs/"+runId.String()+"/artifacts/weights/last.pt", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitRunFromBaseRun(t *testing.T) {
	completed := uuid.New()
	queued := uuid.New()
	service := setupService(t, newRun(completed, "base", database.RunCompleted), newRun(queued, "pending", database.RunQueued))

	rec := service.do(t, http.MethodPost, "/runs", api.SubmitRunRequest{
		DataDir:   "/data/traffic",
		Labels:    []string{"car"},
		BaseRunId: &completed,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var response api.SubmitRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))

	rec = service.do(t, http.MethodGet, "/runs/"+response.RunId.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var run api.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.NotNil(t, run.BaseRunId)
	assert.Equal(t, completed, *run.BaseRunId)

	missing := uuid.New()
	for _, base := range []uuid.UUID{queued, missing} {
		rec := service.do(t, http.MethodPost, "/runs", api.SubmitRunRequest{
			DataDir:   "/data/traffic",
			Labels:    []string{"car"},
			BaseRunId: &base,
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	}
}

func TestDeleteRun(t *testing.T) {
	finished := uuid.New()
	other := uuid.New()
	active := uuid.New()
	service := setupService(t,
		newRun(finished, "done", database.RunCompleted),
		newRun(other, "other", database.RunFailed),
		newRun(active, "busy", database.RunTraining),
	)

	ctx := context.Background()
	require.NoError(t, service.store.PutObject(ctx, modelBucket, finished.String()+"/weights/best.pt", strings.NewReader("w")))
	require.NoError(t, service.store.PutObject(ctx, modelBucket, other.String()+"/weights/best.pt", strings.NewReader("w")))

	rec := service.do(t, http.MethodDelete, "/runs/"+finished.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = service.do(t, http.MethodGet, "/runs/"+finished.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	objects, err := service.store.ListObjects(ctx, modelBucket, finished.String()+"/")
	require.NoError(t, err)
	assert.Empty(t, objects)

	objects, err = service.store.ListObjects(ctx, modelBucket, other.String()+"/")
	require.NoError(t, err)
	assert.Len(t, objects, 1)

	rec = service.do(t, http.MethodDelete, "/runs/"+active.String(), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = service.do(t, http.MethodDelete, "/runs/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
