package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/omengrep/internal/scanner"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	root := t.TempDir()

	cfg, err := Load(root, "")
	require.NoError(t, err)

	assert.Equal(t, "edge", cfg.Model)
	assert.Equal(t, BackendHash, cfg.Backend)
	assert.Equal(t, filepath.Join(root, IndexDirName), cfg.IndexDir)
	assert.Equal(t, filepath.Join(root, IndexDirName, "snapshot.json"), cfg.SnapshotPath())
	assert.Equal(t, filepath.Join(root, IndexDirName, "index.db"), cfg.StorePath())
	assert.Positive(t, cfg.Workers)
	assert.Equal(t, 2*time.Minute, cfg.CallTimeout)
	assert.EqualValues(t, scanner.MaxFileSize, cfg.MaxFileSize)
	assert.Zero(t, cfg.WindowLines)
}

func TestLoad_YAMLDiscovered(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".omengrep.yaml", `
model: full
workers: 3
call_timeout: 45s
exclude:
  - "*.gen.go"
  - vendor
global_ignore: ""
max_file_size: 4096
window_lines: 40
window_overlap: 5
`)

	cfg, err := Load(root, "")
	require.NoError(t, err)

	assert.Equal(t, "full", cfg.Model)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 45*time.Second, cfg.CallTimeout)
	assert.Equal(t, []string{"*.gen.go", "vendor"}, cfg.Exclude)
	assert.Empty(t, cfg.GlobalIgnore)
	assert.EqualValues(t, 4096, cfg.MaxFileSize)
	assert.Equal(t, 40, cfg.WindowLines)
	assert.Equal(t, 5, cfg.WindowOverlap)
	assert.Equal(t, 128, cfg.ModelConfig().TokenDim)
}

func TestLoad_TOMLExplicitPath(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, t.TempDir(), "custom.toml", `
backend = "http"
inference_url = "http://localhost:8080/embed"
log_level = "debug"
`)

	cfg, err := Load(root, path)
	require.NoError(t, err)

	assert.Equal(t, BackendHTTP, cfg.Backend)
	assert.Equal(t, "http://localhost:8080/embed", cfg.InferenceURL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".omengrep.yml", "model: full\n")

	t.Setenv("OMENGREP_MODEL", "edge")
	t.Setenv("OMENGREP_WORKERS", "7")
	t.Setenv("OMENGREP_INFERENCE_URL", "http://infer")

	cfg, err := Load(root, "")
	require.NoError(t, err)

	assert.Equal(t, "edge", cfg.Model)
	assert.Equal(t, 7, cfg.Workers)
	assert.Equal(t, BackendHTTP, cfg.Backend, "an inference url selects the http backend")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown model", "model: huge\n"},
		{"http without url", "backend: http\n"},
		{"unknown backend", "backend: onnx\n"},
		{"negative rps", "inference_rps: -1\n"},
		{"negative max size", "max_file_size: -1\n"},
		{"overlap not below window", "window_lines: 10\nwindow_overlap: 10\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeFile(t, root, ".omengrep.yaml", tt.content)

			_, err := Load(root, "")
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_UnsupportedExtension(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.ini", "model=edge")
	err := LoadFile(Default(), path)
	assert.Error(t, err)
}
