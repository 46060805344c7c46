package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"detection-backend/cmd"
	"detection-backend/internal/api"
	"detection-backend/internal/config"
	"detection-backend/internal/core"
	"detection-backend/internal/database"
	"detection-backend/internal/messaging"
	"detection-backend/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"
)

const modelBucket = "models"

// requeueRuns publishes the runs that were still queued when the process
// last stopped, since the in-memory queue does not survive restarts. The
// worker must already be consuming.
func requeueRuns(db *gorm.DB, queue messaging.Publisher) {
	var runs []database.TrainingRun
	if err := db.Where("status = ?", database.RunQueued).Order("creation_time ASC").Find(&runs).Error; err != nil {
		log.Fatalf("Failed to fetch queued runs from database: %v", err)
	}

	for _, run := range runs {
		if err := queue.PublishTrainTask(context.Background(), messaging.TrainTaskPayload{RunId: run.Id}); err != nil {
			log.Fatalf("Failed to publish train task: %v", err)
		}
	}

	if len(runs) > 0 {
		slog.Info("requeued training runs", "count", len(runs))
	}
}

// failInterruptedRuns marks runs that were preparing or training when the
// process stopped as failed. Their dataset may be partially split.
func failInterruptedRuns(db *gorm.DB) {
	var runs []database.TrainingRun
	if err := db.Where("status IN ?", []string{database.RunPreparing, database.RunTraining}).Find(&runs).Error; err != nil {
		log.Fatalf("Failed to fetch interrupted runs from database: %v", err)
	}

	ctx := context.Background()
	for _, run := range runs {
		origin := database.OriginTraining
		if run.Status == database.RunPreparing {
			origin = database.OriginDataset
		}
		database.SaveRunError(ctx, db, run.Id, origin, "", "run interrupted by backend restart")
		database.UpdateRunStatus(ctx, db, run.Id, database.RunFailed) //nolint:errcheck
	}
}

func createServer(db *gorm.DB, storage storage.ObjectStore, queue messaging.Publisher, port int, defaults config.RunDefaults) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300, // Cache preflight response for 5 minutes
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(db, storage, queue, modelBucket, defaults)

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	cfg, err := config.Load[config.LocalConfig]()
	if err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating directory for log file: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting backend", "root", cfg.Root, "port", cfg.Port)

	db, err := database.NewDatabase(filepath.Join(cfg.Root, "db", "runs.db"))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	objectStore, err := storage.NewLocalObjectStore(filepath.Join(cfg.Root, "storage"))
	if err != nil {
		log.Fatalf("Failed to create storage: %v", err)
	}
	if err := objectStore.CreateBucket(context.Background(), modelBucket); err != nil {
		log.Fatalf("Failed to create model bucket: %v", err)
	}

	trainer, release, err := cmd.CreateTrainer(cfg.Trainer)
	if err != nil {
		log.Fatalf("Failed to create trainer: %v", err)
	}
	defer release()

	failInterruptedRuns(db)
	queue := messaging.NewInMemoryQueue()

	worker := core.NewTaskProcessor(db, objectStore, queue, queue, core.NewPipeline(trainer), modelBucket)

	server := createServer(db, objectStore, queue, cfg.Port, cfg.Defaults)

	slog.Info("starting worker")
	go worker.Start()

	requeueRuns(db, queue)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		slog.Info("shutting down worker")
		worker.Stop()
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}
