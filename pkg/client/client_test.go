package client_test

import (
	"context"
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
	"detection-backend/pkg/client"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupServer(t *testing.T) (*client.Client, *gorm.DB, *storage.LocalObjectStore) {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)

	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	queue := messaging.NewInMemoryQueue()
	t.Cleanup(queue.Close)

	defaults, err := config.LoadFrom[config.RunDefaults]("")
	require.NoError(t, err)

	router := chi.NewRouter()
	backend.NewBackendService(db, store, queue, "models", defaults).AddRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return client.New(server.URL), db, store
}

func TestClientRunLifecycle(t *testing.T) {
	c, db, store := setupServer(t)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	runId, err := c.SubmitRun(ctx, api.SubmitRunRequest{
		Name:    "traffic",
		DataDir: "/data/traffic",
		Labels:  []string{"car", "bus"},
	})
	require.NoError(t, err)

	queued, err := c.ListRuns(ctx, database.RunQueued)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, runId, queued[0].Id)

	go func() {
		time.Sleep(100 * time.Millisecond)
		database.UpdateRunStatus(ctx, db, runId, database.RunCompleted) //nolint:errcheck
	}()

	run, err := c.WaitForRun(ctx, runId, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, database.RunCompleted, run.Status)
	assert.Equal(t, "traffic", run.Name)

	require.NoError(t, store.PutObject(ctx, "models", runId.String()+"/weights/best.pt", strings.NewReader("weights")))

	artifacts, err := c.ListArtifacts(ctx, runId)
	require.NoError(t, err)
	assert.Equal(t, []api.Artifact{{Key: "weights/best.pt", Size: 7}}, artifacts)

	data, err := c.DownloadArtifact(ctx, runId, "weights/best.pt")
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))

	require.NoError(t, c.DeleteRun(ctx, runId))

	_, err = c.GetRun(ctx, runId)
	assert.Equal(t, http.StatusNotFound, client.StatusCode(err))

	remaining, err := store.ListObjects(ctx, "models", runId.String()+"/")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestClientDeleteActiveRun(t *testing.T) {
	c, _, _ := setupServer(t)
	ctx := context.Background()

	runId, err := c.SubmitRun(ctx, api.SubmitRunRequest{DataDir: "/data", Labels: []string{"car"}})
	require.NoError(t, err)

	err = c.DeleteRun(ctx, runId)
	assert.Equal(t, http.StatusConflict, client.StatusCode(err))

	_, err = c.GetRun(ctx, runId)
	require.NoError(t, err)
}

func TestClientWaitForFailedRun(t *testing.T) {
	c, db, _ := setupServer(t)
	ctx := context.Background()

	runId, err := c.SubmitRun(ctx, api.SubmitRunRequest{DataDir: "/data", Labels: []string{"car"}})
	require.NoError(t, err)

	database.SaveRunError(ctx, db, runId, database.OriginTraining, "", "trainer exited with status 1")
	require.NoError(t, database.UpdateRunStatus(ctx, db, runId, database.RunFailed))

	_, err = c.WaitForRun(ctx, runId, 10*time.Millisecond)
	assert.ErrorIs(t, err, client.ErrRunFailed)
	assert.ErrorContains(t, err, "trainer exited with status 1")
}

func TestClientErrors(t *testing.T) {
	c, _, _ := setupServer(t)
	ctx := context.Background()

	_, err := c.SubmitRun(ctx, api.SubmitRunRequest{DataDir: "/data"})
	assert.Equal(t, http.StatusUnprocessableEntity, client.StatusCode(err))

	_, err = c.GetRun(ctx, uuid.New())
	assert.Equal(t, http.StatusNotFound, client.StatusCode(err))
}
