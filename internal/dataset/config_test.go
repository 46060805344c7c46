package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestEmitConfig(t *testing.T) {
	root := t.TempDir()
	layout := NewLayout(root)
	require.NoError(t, layout.Ensure())

	path, err := EmitConfig(layout, []string{"cat", "dog", "bird"}, layout.ConfigPath())
	require.NoError(t, err)
	assert.Equal(t, layout.ConfigPath(), path)

	cfg, err := LoadRunConfig(path)
	require.NoError(t, err)

	assert.Equal(t, root, cfg.Path)
	assert.Equal(t, filepath.Join(root, "images", "train"), cfg.Train)
	assert.Equal(t, filepath.Join(root, "images", "val"), cfg.Val)
	assert.Equal(t, 3, cfg.NC)
	assert.Equal(t, map[int]string{0: "cat", 1: "dog", 2: "bird"}, cfg.Names)
	assert.Equal(t, []string{"cat", "dog", "bird"}, cfg.Labels())
}

func TestEmitConfigSchema(t *testing.T) {
	root := t.TempDir()
	layout := NewLayout(root)

	path, err := EmitConfig(layout, []string{"person"}, filepath.Join(root, "dataset.yaml"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &raw))

	assert.ElementsMatch(t, []string{"path", "train", "val", "nc", "names"}, keys(raw))
	assert.Equal(t, 1, raw["nc"])
	assert.Equal(t, map[interface{}]interface{}{0: "person"}, raw["names"])
}

func keys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestEmitConfigOverwrites(t *testing.T) {
	root := t.TempDir()
	layout := NewLayout(root)
	dest := layout.ConfigPath()

	require.NoError(t, os.WriteFile(dest, []byte("stale: true\nextra: 1\n"), 0644))

	_, err := EmitConfig(layout, []string{"a", "b"}, dest)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "stale")

	cfg, err := LoadRunConfig(dest)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.NC)
}

func TestEmitConfigRejectsEmptyLabels(t *testing.T) {
	root := t.TempDir()
	layout := NewLayout(root)
	dest := layout.ConfigPath()

	_, err := EmitConfig(layout, nil, dest)
	assert.ErrorIs(t, err, ErrNoClasses)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "no config should be written")

	_, err = EmitConfig(layout, []string{"a", " "}, dest)
	assert.ErrorIs(t, err, ErrBlankClass)

	_, statErr = os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "no config should be written")
}

func TestEmitConfigRelativeRoot(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) }) //nolint:errcheck

	layout := NewLayout("data")
	path, err := EmitConfig(layout, []string{"a"}, filepath.Join("data", "dataset.yaml"))
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(path))

	cfg, err := LoadRunConfig(path)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.Path))
	assert.True(t, filepath.IsAbs(cfg.Train))
	assert.True(t, filepath.IsAbs(cfg.Val))
}
