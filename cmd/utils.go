package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"strings"

	"detection-backend/internal/config"
	"detection-backend/internal/core"
	"detection-backend/internal/storage"
	"detection-backend/internal/training"

	"github.com/joho/godotenv"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// CreateTrainer returns the plugin trainer if a plugin binary is configured
// and the ultralytics command trainer otherwise. The returned func releases
// the trainer.
func CreateTrainer(cfg config.TrainerConfig) (training.Trainer, func(), error) {
	if cfg.Plugin != "" {
		slog.Info("using trainer plugin", "plugin", cfg.Plugin)
		trainer, err := training.LoadPluginTrainer(cfg.Plugin)
		if err != nil {
			return nil, nil, fmt.Errorf("error loading trainer plugin %s: %w", cfg.Plugin, err)
		}
		return trainer, trainer.Release, nil
	}

	slog.Info("using command trainer", "executable", cfg.Executable)
	return training.NewCommandTrainer(cfg.Executable), func() {}, nil
}

func CreateS3ObjectStore(cfg config.S3Config) *storage.S3ObjectStore {
	s3, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        cfg.EndpointURL,
		Region:          cfg.Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	})
	if err != nil {
		log.Fatalf("Failed to create S3 object store: %v", err)
	}

	if err := s3.CreateBucket(context.Background(), cfg.ModelBucketName); err != nil {
		log.Fatalf("Failed to create model bucket %s: %v", cfg.ModelBucketName, err)
	}

	return s3
}

// DatasetFlags registers the flags shared by the prepare and train commands,
// with defaults taken from the run defaults.
type DatasetFlags struct {
	DataDir        string
	SourceImageDir string
	SourceLabelDir string
	Classes        string
	ValSplit       float64
	Seed           int64
}

func (f *DatasetFlags) Register(fs *flag.FlagSet, defaults config.RunDefaults) {
	fs.StringVar(&f.DataDir, "data-dir", "", "dataset root, the split layout and dataset.yaml are created here")
	fs.StringVar(&f.SourceImageDir, "images", defaults.SourceImageDir, "source image directory, relative to -data-dir unless absolute")
	fs.StringVar(&f.SourceLabelDir, "labels", defaults.SourceLabelDir, "source label directory, relative to -data-dir unless absolute")
	fs.StringVar(&f.Classes, "classes", "", "comma separated class names in class id order")
	fs.Float64Var(&f.ValSplit, "val-split", defaults.ValSplit, "fraction of images moved to the validation split")
	fs.Int64Var(&f.Seed, "seed", -1, "seed for the split shuffle, negative for a random split")
}

func (f *DatasetFlags) Params(progress io.Writer) core.DatasetParams {
	params := core.DatasetParams{
		DataDir:        f.DataDir,
		SourceImageDir: f.SourceImageDir,
		SourceLabelDir: f.SourceLabelDir,
		Labels:         SplitList(f.Classes),
		ValSplit:       f.ValSplit,
		Progress:       progress,
	}
	if f.Seed >= 0 {
		seed := f.Seed
		params.Seed = &seed
	}
	return params
}

func SplitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}

// ParseKeyValues parses "key=value,key=value" into a map.
func ParseKeyValues(value string) (map[string]string, error) {
	result := map[string]string{}
	for _, pair := range SplitList(value) {
		key, val, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid key=value pair '%s'", pair)
		}
		result[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	return result, nil
}

func LogSplitSummary(result core.PrepareResult) {
	split := result.Split
	slog.Info("dataset split complete", "train", split.Train, "val", split.Val, "moved_train", split.MovedTrain, "moved_val", split.MovedVal, "labels", split.LabelsMoved, "failures", len(split.Failures), "config", result.ConfigPath)
	for _, failure := range split.Failures {
		slog.Warn("sample not moved", "split", failure.Split, "file", failure.File, "error", failure.Err)
	}
}
