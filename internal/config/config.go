// Package config loads omengrep settings from defaults, an optional YAML or
// TOML file, and OMENGREP_* environment variables, in that order. Command-line
// flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/dshills/omengrep/internal/models"
	"github.com/dshills/omengrep/internal/scanner"
)

// Embedding backends
const (
	BackendHash = "hash"
	BackendHTTP = "http"
)

// IndexDirName is the per-project directory holding the snapshot and store
const IndexDirName = ".omengrep"

// FileNames are looked up in the project root, in order
var FileNames = []string{".omengrep.yaml", ".omengrep.yml", ".omengrep.toml"}

// Config holds every tunable setting
type Config struct {
	Model    string `yaml:"model" toml:"model"`
	IndexDir string `yaml:"index_dir" toml:"index_dir"`
	CacheDir string `yaml:"cache_dir" toml:"cache_dir"`

	Workers     int           `yaml:"workers" toml:"workers"`
	CallTimeout time.Duration `yaml:"call_timeout" toml:"call_timeout"`

	Backend         string  `yaml:"backend" toml:"backend"`
	InferenceURL    string  `yaml:"inference_url" toml:"inference_url"`
	InferenceAPIKey string  `yaml:"inference_api_key" toml:"inference_api_key"`
	InferenceRPS    float64 `yaml:"inference_rps" toml:"inference_rps"`

	HubEndpoint string `yaml:"hub_endpoint" toml:"hub_endpoint"`
	HubToken    string `yaml:"hub_token" toml:"hub_token"`

	Exclude []string `yaml:"exclude" toml:"exclude"`
	// GlobalIgnore is the user-wide git excludes file; empty disables it
	GlobalIgnore string `yaml:"global_ignore" toml:"global_ignore"`
	MaxFileSize  int64  `yaml:"max_file_size" toml:"max_file_size"`

	// Line windows for files without structural segmentation. Zero keeps
	// the chunker defaults.
	WindowLines   int `yaml:"window_lines" toml:"window_lines"`
	WindowOverlap int `yaml:"window_overlap" toml:"window_overlap"`
	MaxBlockLines int `yaml:"max_block_lines" toml:"max_block_lines"`

	LogLevel    string `yaml:"log_level" toml:"log_level"`
	LogFormat   string `yaml:"log_format" toml:"log_format"`
	MetricsAddr string `yaml:"metrics_addr" toml:"metrics_addr"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Model:        models.DefaultName,
		CacheDir:     defaultCacheDir(),
		Workers:      runtime.NumCPU(),
		CallTimeout:  2 * time.Minute,
		Backend:      BackendHash,
		InferenceRPS: 10,
		HubEndpoint:  models.DefaultEndpoint,
		GlobalIgnore: scanner.DefaultGlobalIgnore(),
		MaxFileSize:  scanner.MaxFileSize,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "omengrep")
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".omengrep", "cache")
	}
	return filepath.Join(os.TempDir(), "omengrep")
}

// Load builds the configuration for a project rooted at root. An explicit
// path wins over files discovered in root.
func Load(root, path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = discover(root)
	}
	if path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults(root)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func discover(root string) string {
	if root == "" {
		return ""
	}
	for _, name := range FileNames {
		p := filepath.Join(root, name)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

// LoadFile decodes path into cfg, choosing the format by extension
func LoadFile(cfg *Config, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("failed to decode TOML config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to decode YAML config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format: %s", path)
	}
	return nil
}

// ApplyEnvOverrides applies OMENGREP_* variables
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("OMENGREP_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("OMENGREP_INDEX_DIR"); v != "" {
		c.IndexDir = v
	}
	if v := os.Getenv("OMENGREP_CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv("OMENGREP_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Workers = n
		}
	}
	if v := os.Getenv("OMENGREP_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.CallTimeout = d
		}
	}
	if v := os.Getenv("OMENGREP_BACKEND"); v != "" {
		c.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("OMENGREP_INFERENCE_URL"); v != "" {
		c.InferenceURL = v
		if os.Getenv("OMENGREP_BACKEND") == "" {
			c.Backend = BackendHTTP
		}
	}
	if v := os.Getenv("OMENGREP_INFERENCE_API_KEY"); v != "" {
		c.InferenceAPIKey = v
	}
	if v := os.Getenv("HF_ENDPOINT"); v != "" {
		c.HubEndpoint = v
	}
	if v := os.Getenv("HF_TOKEN"); v != "" {
		c.HubToken = v
	}
	if v := os.Getenv("OMENGREP_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("OMENGREP_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
}

// SetDefaults fills values that depend on the project root
func (c *Config) SetDefaults(root string) {
	if c.IndexDir == "" && root != "" {
		c.IndexDir = filepath.Join(root, IndexDirName)
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Model == "" {
		c.Model = models.DefaultName
	}
	if c.Backend == "" {
		c.Backend = BackendHash
	}
}

// Validate rejects settings the rest of the system cannot work with
func (c *Config) Validate() error {
	var errs []error
	if _, ok := models.Resolve(c.Model); !ok {
		errs = append(errs, fmt.Errorf("unknown model %q", c.Model))
	}
	switch c.Backend {
	case BackendHash:
	case BackendHTTP:
		if c.InferenceURL == "" {
			errs = append(errs, errors.New("backend http requires inference_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, errors.New("call_timeout must be positive"))
	}
	if c.InferenceRPS < 0 {
		errs = append(errs, errors.New("inference_rps cannot be negative"))
	}
	if c.MaxFileSize < 0 {
		errs = append(errs, errors.New("max_file_size cannot be negative"))
	}
	if c.WindowLines < 0 || c.WindowOverlap < 0 || c.MaxBlockLines < 0 {
		errs = append(errs, errors.New("window_lines, window_overlap and max_block_lines cannot be negative"))
	}
	if c.WindowLines > 0 && c.WindowOverlap >= c.WindowLines {
		errs = append(errs, errors.New("window_overlap must be smaller than window_lines"))
	}
	return errors.Join(errs...)
}

// ModelConfig resolves the configured model
func (c *Config) ModelConfig() models.ModelConfig {
	cfg, _ := models.Resolve(c.Model)
	return cfg
}

// SnapshotPath is where the index snapshot is persisted
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.IndexDir, "snapshot.json")
}

// StorePath is the SQLite database backing the retrieval store
func (c *Config) StorePath() string {
	return filepath.Join(c.IndexDir, "index.db")
}

// LockPath guards builds across processes
func (c *Config) LockPath() string {
	return filepath.Join(c.IndexDir, "build.lock")
}
