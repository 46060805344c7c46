package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"detection-backend/cmd"
	"detection-backend/internal/config"
	"detection-backend/internal/core"
	"detection-backend/internal/database"
	"detection-backend/internal/messaging"
)

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	cfg, err := config.Load[config.WorkerConfig]()
	if err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	objectStore := cmd.CreateS3ObjectStore(cfg.S3)

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	reciever, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to start RabbitMQ receiver: %v", err)
	}

	trainer, release, err := cmd.CreateTrainer(cfg.Trainer)
	if err != nil {
		log.Fatalf("Failed to create trainer: %v", err)
	}
	defer release()

	processor := core.NewTaskProcessor(db, objectStore, publisher, reciever, core.NewPipeline(trainer), cfg.S3.ModelBucketName)

	go processor.Start()

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received, stopping worker...")
	processor.Stop()

	log.Println("Worker process stopped.")
}
