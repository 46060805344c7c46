package dataset

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

var ErrInvalidRatio = errors.New("validation ratio must be in [0, 1)")

type SplitOptions struct {
	SourceImageDir string
	SourceLabelDir string
	Layout         *Layout

	ValRatio float64

	// Rand drives the shuffle. A nil Rand uses a time seeded generator, so
	// each run yields a different partition.
	Rand *rand.Rand

	// Progress receives a per-split progress bar. Nil disables it.
	Progress io.Writer
}

// SampleError records a sample that could not be fully relocated.
type SampleError struct {
	Split Split
	File  string
	Err   error
}

func (e SampleError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.File, e.Split, e.Err)
}

func (e SampleError) Unwrap() error {
	return e.Err
}

// SplitResult reports both the assignment and the outcome of a split. Train
// and Val count samples assigned to each subset; the Moved counts only
// include samples whose image reached the destination.
type SplitResult struct {
	Train int
	Val   int

	MovedTrain  int
	MovedVal    int
	LabelsMoved int

	Failures []SampleError
}

func (r SplitResult) Total() int {
	return r.Train + r.Val
}

func ValidateRatio(ratio float64) error {
	if !(ratio >= 0 && ratio < 1) {
		return fmt.Errorf("%w: got %v", ErrInvalidRatio, ratio)
	}
	return nil
}

// ValCount is the number of samples out of total assigned to validation.
func ValCount(total int, ratio float64) int {
	return int(float64(total) * ratio)
}

// Partition shuffles samples in place and returns the (train, val) subsets.
func Partition(samples []Sample, ratio float64, rng *rand.Rand) ([]Sample, []Sample) {
	rng.Shuffle(len(samples), func(i, j int) {
		samples[i], samples[j] = samples[j], samples[i]
	})

	nVal := ValCount(len(samples), ratio)
	return samples[nVal:], samples[:nVal]
}

// SplitDataset moves the images under SourceImageDir, with any same-stem labels from
// SourceLabelDir, into the train and val directories of the layout. Files are
// moved, not copied: after a successful run the sources are gone. Failures on
// individual files are logged and collected in the result without stopping
// the remaining moves.
func SplitDataset(opts SplitOptions) (SplitResult, error) {
	if err := ValidateRatio(opts.ValRatio); err != nil {
		return SplitResult{}, err
	}
	if opts.Layout == nil {
		return SplitResult{}, fmt.Errorf("split requires a dataset layout")
	}

	samples, err := DiscoverSamples(opts.SourceImageDir, opts.SourceLabelDir)
	if err != nil {
		return SplitResult{}, err
	}

	slog.Info("discovered images", "dir", opts.SourceImageDir, "count", len(samples))

	if len(samples) == 0 {
		return SplitResult{}, nil
	}

	if err := opts.Layout.Ensure(); err != nil {
		return SplitResult{}, err
	}

	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	train, val := Partition(samples, opts.ValRatio, rng)

	slog.Info("splitting dataset", "train", len(train), "val", len(val))

	result := SplitResult{Train: len(train), Val: len(val)}

	for _, subset := range []struct {
		split   Split
		samples []Sample
		moved   *int
	}{
		{split: TrainSplit, samples: train, moved: &result.MovedTrain},
		{split: ValSplit, samples: val, moved: &result.MovedVal},
	} {
		bar := newProgressBar(opts.Progress, len(subset.samples), subset.split)

		for _, sample := range subset.samples {
			landed, labelMoved, failures := relocate(sample, opts.Layout, subset.split)
			if landed {
				*subset.moved++
			}
			if labelMoved {
				result.LabelsMoved++
			}
			for _, failure := range failures {
				slog.Error("failed to move sample", "split", failure.Split, "file", failure.File, "error", failure.Err)
			}
			result.Failures = append(result.Failures, failures...)
			_ = bar.Add(1)
		}
		_ = bar.Finish()
	}

	slog.Info("dataset split complete",
		"train", result.Train, "val", result.Val,
		"moved_train", result.MovedTrain, "moved_val", result.MovedVal,
		"labels", result.LabelsMoved, "failures", len(result.Failures),
	)

	return result, nil
}

// relocate moves one sample. The label is only moved once the image has
// landed, so an image and its label never end up in different splits. An
// image whose source could not be removed after copying still counts as
// landed, and its label follows it.
func relocate(sample Sample, layout *Layout, split Split) (landed, labelMoved bool, failures []SampleError) {
	dst, err := moveFile(sample.Image, layout.ImageDir(split))
	if err != nil {
		failures = append(failures, SampleError{Split: split, File: sample.Image, Err: err})
		if dst == "" {
			return false, false, failures
		}
		slog.Warn("image copied but its source remains, sample is duplicated", "source", sample.Image, "copy", dst)
	}

	if sample.Label == "" {
		return true, false, failures
	}

	// Images sharing a stem share one label; it goes with the first of them.
	if _, err := os.Stat(sample.Label); errors.Is(err, fs.ErrNotExist) {
		slog.Info("label already moved with another image", "image", sample.Image, "label", sample.Label)
		return true, false, failures
	}

	if _, err := moveFile(sample.Label, layout.LabelDir(split)); err != nil {
		return true, false, append(failures, SampleError{Split: split, File: sample.Label, Err: err})
	}

	return true, true, failures
}

func newProgressBar(w io.Writer, n int, split Split) *progressbar.ProgressBar {
	if w == nil {
		w = io.Discard
	}
	return progressbar.NewOptions(n,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(fmt.Sprintf("moving %s files", split)),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
	)
}
