package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const labelExt = ".txt"

var imageExts = map[string]struct{}{
	".jpg": {},
	".png": {},
}

// Sample is an image and, when one exists, its same-stem annotation file.
type Sample struct {
	Image string
	Label string // empty for unlabeled (background) images
}

func (s Sample) Name() string {
	return filepath.Base(s.Image)
}

func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func isImage(name string) bool {
	_, ok := imageExts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// DiscoverSamples lists images directly under imageDir, sorted by name, and
// pairs each with <labelDir>/<stem>.txt if that file exists.
func DiscoverSamples(imageDir, labelDir string) ([]Sample, error) {
	entries, err := os.ReadDir(imageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list images in %s: %w", imageDir, err)
	}

	var samples []Sample
	for _, entry := range entries {
		if entry.IsDir() || !isImage(entry.Name()) {
			continue
		}

		sample := Sample{Image: filepath.Join(imageDir, entry.Name())}

		sample.Label = findLabel(labelDir, Stem(entry.Name()))
		samples = append(samples, sample)
	}

	return samples, nil
}

// findLabel returns the label path for stem, or "" if there is none. A label
// that exists but cannot be inspected is still returned so that the failure
// surfaces when the sample is moved.
func findLabel(labelDir, stem string) string {
	if labelDir == "" {
		return ""
	}

	path := filepath.Join(labelDir, stem+labelExt)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ""
		}
		slog.Warn("unable to inspect label file", "label", path, "error", err)
		return path
	}
	if info.IsDir() {
		return ""
	}
	return path
}
