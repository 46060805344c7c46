package training

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"detection-backend/plugin/shared"

	"github.com/hashicorp/go-plugin"
)

// PluginTrainer delegates training to a separate plugin process speaking the
// shared.Trainer protocol, such as cmd/trainer-plugin.
type PluginTrainer struct {
	mu      sync.Mutex
	client  *plugin.Client
	trainer shared.Trainer
}

var _ Trainer = (*PluginTrainer)(nil)

func LoadPluginTrainer(executable string, args ...string) (*PluginTrainer, error) {
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  shared.Handshake,
		Plugins:          shared.PluginMap,
		Cmd:              exec.Command(executable, args...),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("error establishing RPC connection: %w", err)
	}

	raw, err := rpcClient.Dispense(shared.TrainerPluginName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("error dispensing '%s': %w", shared.TrainerPluginName, err)
	}

	trainer, ok := raw.(shared.Trainer)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("dispensed interface '%s' is not of expected type shared.Trainer (actual type: %T)", shared.TrainerPluginName, raw)
	}

	return &PluginTrainer{client: client, trainer: trainer}, nil
}

// Train forwards req to the plugin. The RPC call itself cannot be
// interrupted; a cancelled ctx kills the plugin process instead.
func (t *PluginTrainer) Train(ctx context.Context, req TrainRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.trainer == nil {
		return fmt.Errorf("trainer plugin has been released")
	}

	// The goroutine keeps its own reference: a cancellation clears t.trainer
	// while the RPC may still be in flight.
	trainer := t.trainer
	args := ToTrainArgs(req)

	done := make(chan error, 1)
	go func() {
		done <- trainer.Train(args)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		t.client.Kill()
		t.client = nil
		t.trainer = nil
		return ctx.Err()
	}
}

func (t *PluginTrainer) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return
	}

	t.client.Kill()
	t.client = nil
	t.trainer = nil
}

func ToTrainArgs(req TrainRequest) shared.TrainArgs {
	return shared.TrainArgs{
		Model:   req.Model,
		Data:    req.Data,
		Epochs:  req.Epochs,
		Batch:   req.Batch,
		ImgSize: req.ImgSize,
		Device:  req.Device.String(),
		Name:    req.Name,
		Project: req.Project,
		Verbose: req.Verbose,
		Extra:   req.Extra,
	}
}

func FromTrainArgs(args shared.TrainArgs) TrainRequest {
	return TrainRequest{
		Model:   args.Model,
		Data:    args.Data,
		Epochs:  args.Epochs,
		Batch:   args.Batch,
		ImgSize: args.ImgSize,
		Device:  NormalizeDevice(args.Device),
		Name:    args.Name,
		Project: args.Project,
		Verbose: args.Verbose,
		Extra:   args.Extra,
	}
}

// PluginServer exposes a Trainer as the implementation side of a trainer
// plugin.
type PluginServer struct {
	Trainer Trainer
}

var _ shared.Trainer = (*PluginServer)(nil)

func (s *PluginServer) Train(args shared.TrainArgs) error {
	return s.Trainer.Train(context.Background(), FromTrainArgs(args))
}
