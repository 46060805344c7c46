package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// RunDefaults fill in the fields a run submission leaves empty.
type RunDefaults struct {
	Project        string  `env:"DEFAULT_PROJECT" envDefault:"runs/detect"`
	Name           string  `env:"DEFAULT_RUN_NAME" envDefault:"yolov8_custom"`
	ModelSize      string  `env:"DEFAULT_MODEL_SIZE" envDefault:"m"`
	Epochs         int     `env:"DEFAULT_EPOCHS" envDefault:"100"`
	BatchSize      int     `env:"DEFAULT_BATCH_SIZE" envDefault:"16"`
	ImgSize        int     `env:"DEFAULT_IMG_SIZE" envDefault:"640"`
	Device         string  `env:"DEFAULT_DEVICE" envDefault:"0"`
	ValSplit       float64 `env:"DEFAULT_VAL_SPLIT" envDefault:"0.2"`
	SourceImageDir string  `env:"DEFAULT_SOURCE_IMAGE_DIR" envDefault:"images"`
	SourceLabelDir string  `env:"DEFAULT_SOURCE_LABEL_DIR" envDefault:"labels"`
	Pretrained     bool    `env:"DEFAULT_PRETRAINED" envDefault:"true"`
}

type TrainerConfig struct {
	// Executable is the ultralytics CLI run by the command trainer.
	Executable string `env:"TRAINER_EXECUTABLE" envDefault:"yolo"`

	// Plugin, when set, is the trainer plugin binary to launch instead of
	// running the CLI in process.
	Plugin string `env:"TRAINER_PLUGIN"`
}

type S3Config struct {
	EndpointURL     string `env:"S3_ENDPOINT_URL"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	ModelBucketName string `env:"MODEL_BUCKET_NAME" envDefault:"models"`
}

type APIConfig struct {
	DatabaseURL string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL string `env:"RABBITMQ_URL,notEmpty,required"`
	APIPort     string `env:"API_PORT" envDefault:"8001"`

	S3       S3Config
	Defaults RunDefaults
}

type WorkerConfig struct {
	DatabaseURL string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL string `env:"RABBITMQ_URL,notEmpty,required"`

	S3      S3Config
	Trainer TrainerConfig
}

// LocalConfig runs the API and the worker in one process backed by sqlite,
// an in-memory queue and a directory for artifacts.
type LocalConfig struct {
	Root string `env:"ROOT" envDefault:"./detection-backend"`
	Port int    `env:"PORT" envDefault:"3001"`

	Trainer  TrainerConfig
	Defaults RunDefaults
}

// Load parses T from the process environment.
func Load[T any]() (T, error) {
	cfg, err := env.ParseAs[T]()
	if err != nil {
		return cfg, fmt.Errorf("error parsing config: %w", err)
	}
	return cfg, nil
}

// LoadFrom parses T from the contents of an env file, ignoring the process
// environment.
func LoadFrom[T any](envFile string) (T, error) {
	vars, err := godotenv.Unmarshal(envFile)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("error reading env file: %w", err)
	}

	cfg, err := env.ParseAsWithOptions[T](env.Options{Environment: vars})
	if err != nil {
		return cfg, fmt.Errorf("error parsing config: %w", err)
	}
	return cfg, nil
}
