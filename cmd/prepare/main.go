package main

import (
	"flag"
	"log"
	"os"

	"detection-backend/cmd"
	"detection-backend/internal/config"
	"detection-backend/internal/core"
)

func main() {
	defaults, err := config.Load[config.RunDefaults]()
	if err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	var dataset cmd.DatasetFlags
	dataset.Register(flag.CommandLine, defaults)
	flag.Parse()

	result, err := core.PrepareDataset(dataset.Params(os.Stderr))
	if err != nil {
		log.Fatalf("error preparing dataset: %v", err)
	}

	cmd.LogSplitSummary(result)
}
