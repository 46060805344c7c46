package dataset

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

var (
	ErrNoClasses  = errors.New("at least one class label is required")
	ErrBlankClass = errors.New("class labels must not be blank")
)

// RunConfig is the dataset description read by the trainer. The field names
// follow the ultralytics dataset YAML schema.
type RunConfig struct {
	Path  string         `yaml:"path"`
	Train string         `yaml:"train"`
	Val   string         `yaml:"val"`
	NC    int            `yaml:"nc"`
	Names map[int]string `yaml:"names"`
}

func ValidateLabels(labels []string) error {
	if len(labels) == 0 {
		return ErrNoClasses
	}
	for i, label := range labels {
		if strings.TrimSpace(label) == "" {
			return fmt.Errorf("%w: label %d", ErrBlankClass, i)
		}
	}
	return nil
}

// NewRunConfig describes layout with absolute paths. Class ids are the
// positions of labels.
func NewRunConfig(layout *Layout, labels []string) (RunConfig, error) {
	if err := ValidateLabels(labels); err != nil {
		return RunConfig{}, err
	}

	root, err := filepath.Abs(layout.Root())
	if err != nil {
		return RunConfig{}, fmt.Errorf("failed to get absolute path for %s: %w", layout.Root(), err)
	}
	abs := NewLayout(root)

	names := make(map[int]string, len(labels))
	for i, label := range labels {
		names[i] = label
	}

	return RunConfig{
		Path:  root,
		Train: abs.ImageDir(TrainSplit),
		Val:   abs.ImageDir(ValSplit),
		NC:    len(labels),
		Names: names,
	}, nil
}

// EmitConfig writes the dataset description for layout to dest, replacing
// any existing file, and returns the absolute path written. Nothing is
// written if labels is empty.
func EmitConfig(layout *Layout, labels []string, dest string) (string, error) {
	cfg, err := NewRunConfig(layout, labels)
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode dataset config: %w", err)
	}

	path, err := filepath.Abs(dest)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for %s: %w", dest, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write dataset config %s: %w", path, err)
	}

	slog.Info("created dataset config", "path", path, "nc", cfg.NC)

	return path, nil
}

func LoadRunConfig(path string) (RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("failed to read dataset config %s: %w", path, err)
	}

	var cfg RunConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, fmt.Errorf("failed to parse dataset config %s: %w", path, err)
	}
	return cfg, nil
}

// Labels returns the class names ordered by id.
func (c RunConfig) Labels() []string {
	labels := make([]string, c.NC)
	for i := range labels {
		labels[i] = c.Names[i]
	}
	return labels
}
