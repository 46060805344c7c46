package training

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strconv"
)

const DefaultTrainerExecutable = "yolo"

// CommandTrainer runs training through the ultralytics command line
// interface, e.g. `yolo detect train model=yolov8m.pt data=dataset.yaml ...`.
type CommandTrainer struct {
	Executable string
	Stdout     io.Writer
	Stderr     io.Writer
}

var _ Trainer = (*CommandTrainer)(nil)

func NewCommandTrainer(executable string) *CommandTrainer {
	if executable == "" {
		executable = DefaultTrainerExecutable
	}
	return &CommandTrainer{Executable: executable, Stdout: os.Stdout, Stderr: os.Stderr}
}

func (t *CommandTrainer) Train(ctx context.Context, req TrainRequest) error {
	cmd := exec.CommandContext(ctx, t.Executable, CommandArgs(req)...)
	cmd.Stdout = t.Stdout
	cmd.Stderr = t.Stderr

	slog.Info("running trainer command", "cmd", cmd.String())

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("trainer command %s failed: %w", t.Executable, err)
	}
	return nil
}

// CommandArgs renders req as ultralytics CLI arguments. Extra arguments are
// appended in key order and may not override the fixed ones.
func CommandArgs(req TrainRequest) []string {
	args := []string{
		"detect", "train",
		"model=" + req.Model,
		"data=" + req.Data,
		"epochs=" + strconv.Itoa(req.Epochs),
		"batch=" + strconv.Itoa(req.Batch),
		"imgsz=" + strconv.Itoa(req.ImgSize),
	}
	if device := req.Device.String(); device != "" {
		args = append(args, "device="+device)
	}
	args = append(args,
		"name="+req.Name,
		"project="+req.Project,
		"verbose="+pyBool(req.Verbose),
	)

	fixed := map[string]struct{}{
		"model": {}, "data": {}, "epochs": {}, "batch": {}, "imgsz": {},
		"device": {}, "name": {}, "project": {}, "verbose": {},
	}

	keys := make([]string, 0, len(req.Extra))
	for k := range req.Extra {
		if _, ok := fixed[k]; ok {
			slog.Warn("ignoring trainer argument that conflicts with run parameters", "arg", k)
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		args = append(args, k+"="+req.Extra[k])
	}

	return args
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
