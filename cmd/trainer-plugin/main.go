package main

import (
	"os"

	"detection-backend/internal/training"
	"detection-backend/plugin/shared"

	"github.com/hashicorp/go-plugin"
)

func main() {
	executable := os.Getenv("TRAINER_EXECUTABLE")

	trainer := training.NewCommandTrainer(executable)
	// Stdout carries the plugin handshake, so trainer output goes to stderr
	// which the host forwards to its logs.
	trainer.Stdout = os.Stderr

	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: shared.Handshake,
		Plugins: map[string]plugin.Plugin{
			shared.TrainerPluginName: &shared.TrainerPlugin{Impl: &training.PluginServer{Trainer: trainer}},
		},
	})
}
