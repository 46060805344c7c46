//go:build integration
// +build integration

package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"detection-backend/internal/database"
	"detection-backend/internal/messaging"
	"detection-backend/internal/storage"
	"detection-backend/internal/training"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

const (
	modelBucket = "test-model-bucket"

	minioUsername = "admin"
	minioPassword = "password"
)

func terminate(t *testing.T, container testcontainers.Container) {
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
}

func setupMinioContainer(t *testing.T, ctx context.Context) string {
	minioContainer, err := minio.Run(
		ctx,
		"minio/minio:RELEASE.2024-01-16T16-07-38Z",
		minio.WithUsername(minioUsername),
		minio.WithPassword(minioPassword),
	)
	terminate(t, minioContainer)
	require.NoError(t, err, "Failed to start MinIO container")

	connStr, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err, "Failed to get MinIO connection string")

	return "http://" + connStr
}

func setupObjectStore(t *testing.T, ctx context.Context) *storage.S3ObjectStore {
	store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        setupMinioContainer(t, ctx),
		Region:          "us-east-1",
		AccessKeyID:     minioUsername,
		SecretAccessKey: minioPassword,
	})
	require.NoError(t, err)
	return store
}

func setupPostgresContainer(t *testing.T, ctx context.Context) string {
	dbName, dbUser, dbPassword := "test_db", "test_user", "test_password"

	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	terminate(t, postgresContainer)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get PostgreSQL connection string")

	return connStr
}

func createDB(t *testing.T, ctx context.Context) *gorm.DB {
	db, err := database.NewDatabase(setupPostgresContainer(t, ctx))
	require.NoError(t, err)
	return db
}

func setupRabbitMQContainer(t *testing.T, ctx context.Context) (messaging.Publisher, messaging.Reciever) {
	rabbitmqContainer, err := rabbitmq.Run(ctx, "rabbitmq:3.11-management")
	terminate(t, rabbitmqContainer)
	require.NoError(t, err, "Failed to start RabbitMQ container")

	url, err := rabbitmqContainer.AmqpURL(ctx)
	require.NoError(t, err, "Failed to get RabbitMQ AMQP URL")

	publisher, err := messaging.NewRabbitMQPublisher(url)
	require.NoError(t, err)
	t.Cleanup(publisher.Close)

	reciever, err := messaging.NewRabbitMQReceiver(url)
	require.NoError(t, err)
	t.Cleanup(reciever.Close)

	return publisher, reciever
}

// createSource writes n image files, each with a label file, under
// dataDir/images and dataDir/labels.
func createSource(t *testing.T, dataDir string, n int) {
	imageDir := filepath.Join(dataDir, "images")
	labelDir := filepath.Join(dataDir, "labels")
	require.NoError(t, os.MkdirAll(imageDir, 0755))
	require.NoError(t, os.MkdirAll(labelDir, 0755))

	for i := 0; i < n; i++ {
		name := fmt.Sprintf("img_%03d", i)
		require.NoError(t, os.WriteFile(filepath.Join(imageDir, name+".jpg"), []byte("jpeg"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(labelDir, name+".txt"), []byte("0 0.5 0.5 0.2 0.2\n"), 0644))
	}
}

// stubTrainer stands in for the ultralytics CLI: it checks the dataset config
// exists and writes a weights file where the CLI would.
type stubTrainer struct {
	mu       sync.Mutex
	requests []training.TrainRequest
}

func (s *stubTrainer) Train(ctx context.Context, req training.TrainRequest) error {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if _, err := os.Stat(req.Data); err != nil {
		return fmt.Errorf("dataset config missing: %w", err)
	}

	weights := filepath.Join(training.OutputDir(req.Project, req.Name), "weights")
	if err := os.MkdirAll(weights, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(weights, "best.pt"), []byte("weights"), 0644)
}

func (s *stubTrainer) Requests() []training.TrainRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]training.TrainRequest(nil), s.requests...)
}

func httpRequest(api http.Handler, method, endpoint string, payload any, dest any) error {
	var body io.Reader
	if payload != nil {
		requestBody, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(requestBody)
	}

	req := httptest.NewRequest(method, endpoint, body)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		return fmt.Errorf("expected status code 200, got %d: %v", rr.Code, strings.TrimSpace(rr.Body.String()))
	}

	if dest != nil {
		if err := json.Unmarshal(rr.Body.Bytes(), dest); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
