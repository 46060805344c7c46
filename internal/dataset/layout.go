package dataset

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Split identifies one of the two partitions of a dataset.
type Split string

const (
	TrainSplit Split = "train"
	ValSplit   Split = "val"
)

const (
	imagesDir      = "images"
	labelsDir      = "labels"
	configFileName = "dataset.yaml"
)

var splits = []Split{TrainSplit, ValSplit}

// Layout is the directory skeleton a detection dataset is relocated into:
//
//	<root>/images/{train,val}
//	<root>/labels/{train,val}
type Layout struct {
	root string
}

func NewLayout(root string) *Layout {
	return &Layout{root: filepath.Clean(root)}
}

func (l *Layout) Root() string {
	return l.root
}

func (l *Layout) ImageDir(split Split) string {
	return filepath.Join(l.root, imagesDir, string(split))
}

func (l *Layout) LabelDir(split Split) string {
	return filepath.Join(l.root, labelsDir, string(split))
}

// ConfigPath is where EmitConfig writes the dataset description by default.
func (l *Layout) ConfigPath() string {
	return filepath.Join(l.root, configFileName)
}

// Ensure creates any missing leaf directories. It is safe to call repeatedly.
func (l *Layout) Ensure() error {
	for _, split := range splits {
		for _, dir := range []string{l.ImageDir(split), l.LabelDir(split)} {
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				return fmt.Errorf("failed to create dataset directory %s: %w", dir, err)
			}
		}
	}
	slog.Info("dataset directory structure ready", "root", l.root)
	return nil
}
