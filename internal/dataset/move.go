package dataset

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var removeSource = os.Remove

// moveFile relocates src into dir, keeping its base name. The data is copied
// and synced, the copy's size checked against the source, and only then is
// the source removed. An existing file at the destination is never replaced.
func moveFile(src, dir string) (string, error) {
	dst := filepath.Join(dir, filepath.Base(src))

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", src, err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dst, err)
	}

	written, err := io.Copy(out, in)
	if err == nil {
		err = out.Sync()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dst) //nolint:errcheck
		return "", fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}

	if written != info.Size() {
		os.Remove(dst) //nolint:errcheck
		return "", fmt.Errorf("incomplete copy of %s to %s: wrote %d of %d bytes", src, dst, written, info.Size())
	}

	in.Close()
	if err := removeSource(src); err != nil {
		return dst, fmt.Errorf("copied %s to %s but failed to remove source: %w", src, dst, err)
	}

	return dst, nil
}
