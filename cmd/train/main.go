package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"detection-backend/cmd"
	"detection-backend/internal/config"
	"detection-backend/internal/core"
	"detection-backend/internal/training"
)

func main() {
	defaults, err := config.Load[config.RunDefaults]()
	if err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	var dataset cmd.DatasetFlags
	dataset.Register(flag.CommandLine, defaults)

	var (
		params       training.LaunchParams
		noPretrained bool
		extra        string
		configPath   string
		trainerCfg   config.TrainerConfig
	)
	flag.StringVar(&params.ModelSize, "model-size", defaults.ModelSize, "model size: n, s, m, l or x")
	flag.BoolVar(&noPretrained, "no-pretrained", !defaults.Pretrained, "train from the model architecture instead of pretrained weights")
	flag.StringVar(&params.Weights, "weights", "", "weights file to fine-tune from, such as a previous run's weights/best.pt")
	flag.IntVar(&params.Epochs, "epochs", defaults.Epochs, "number of training epochs")
	flag.IntVar(&params.BatchSize, "batch", defaults.BatchSize, "batch size, -1 for auto batch")
	flag.IntVar(&params.ImgSize, "imgsz", defaults.ImgSize, "input image size")
	flag.StringVar(&params.Device, "device", defaults.Device, "device: cpu, a device index, or a list such as 0,1")
	flag.StringVar(&params.Name, "name", defaults.Name, "run name")
	flag.StringVar(&params.Project, "project", defaults.Project, "directory the run output is written under")
	flag.StringVar(&extra, "extra", "", "additional trainer arguments as key=value,key=value")
	flag.StringVar(&configPath, "config", "", "train on an already prepared dataset config and skip the split")
	flag.StringVar(&trainerCfg.Executable, "yolo", training.DefaultTrainerExecutable, "ultralytics CLI executable")
	flag.StringVar(&trainerCfg.Plugin, "plugin", "", "trainer plugin binary to use instead of the CLI")
	flag.Parse()

	params.Pretrained = !noPretrained
	params.Extra, err = cmd.ParseKeyValues(extra)
	if err != nil {
		log.Fatalf("invalid -extra: %v", err)
	}

	trainer, release, err := cmd.CreateTrainer(trainerCfg)
	if err != nil {
		log.Fatalf("Failed to create trainer: %v", err)
	}
	defer release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline := core.NewPipeline(trainer)

	var outputDir string
	if configPath != "" {
		outputDir, err = pipeline.Train(ctx, configPath, params)
	} else {
		var result core.RunResult
		result, err = pipeline.Run(ctx, core.RunParams{Dataset: dataset.Params(os.Stderr), Training: params})
		if result.Prepare.Layout != nil {
			cmd.LogSplitSummary(result.Prepare)
		}
		outputDir = result.OutputDir
	}
	if err != nil {
		release()
		log.Fatalf("training failed: %v", err)
	}

	slog.Info("training finished", "output_dir", outputDir)
}
