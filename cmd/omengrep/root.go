package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/dshills/omengrep/internal/config"
	"github.com/dshills/omengrep/internal/logging"
	"github.com/dshills/omengrep/internal/storage"
)

// Exit codes follow grep
const (
	exitMatch   = 0
	exitNoMatch = 1
	exitError   = 2
)

// exitCodeError carries a non-default exit code out of a command
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitCodeError) Unwrap() error { return e.err }

// errNoMatch ends a search that found nothing
var errNoMatch = &exitCodeError{code: exitNoMatch}

// app holds the global flags and the streams of one invocation
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	indexDir   string
	cacheDir   string
	model      string
	backend    string
	workers    int
	logLevel   string
	logFormat  string

	log *logging.Logger
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr, log: logging.Nop()}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitMatch
	}
	var exitErr *exitCodeError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintf(stderr, "omengrep: %v\n", exitErr.err)
		}
		return exitErr.code
	}
	fmt.Fprintf(stderr, "omengrep: %v\n", err)
	return exitError
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "omengrep",
		Short: "Hybrid lexical and semantic code search",
		Long: `omengrep indexes a source tree into a local hybrid index and searches it
with keyword and late-interaction embedding retrieval.

The index lives in .omengrep/ under the project root and is updated
incrementally: only files whose size or mtime changed are re-embedded.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(fmt.Sprintf(
		"omengrep {{.Version}}\ncommit: %s\nbuilt: %s\nstorage: %s (%s)\ngo: %s %s/%s\n",
		emptyAsNA(commit), emptyAsNA(buildDate), storage.BuildMode, storage.DriverName,
		runtime.Version(), runtime.GOOS, runtime.GOARCH,
	))

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default: .omengrep.{yaml,yml,toml} in the project root)")
	pf.StringVar(&a.indexDir, "index-dir", "", "index directory (default: <root>/.omengrep)")
	pf.StringVar(&a.cacheDir, "cache-dir", "", "model artifact cache directory")
	pf.StringVar(&a.model, "model", "", "embedding model name")
	pf.StringVar(&a.backend, "backend", "", "embedding backend: hash or http")
	pf.IntVar(&a.workers, "workers", 0, "concurrent file tasks (default: number of CPUs)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		a.buildCommand(),
		a.searchCommand(),
		a.statusCommand(),
		a.modelCommand(),
		a.serveCommand(),
		a.watchCommand(),
	)
	return root
}

// resolveRoot turns the optional path argument into an absolute directory
func resolveRoot(args []string, index int) (string, error) {
	root := "."
	if len(args) > index {
		root = args[index]
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("path does not exist: %s", root)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path is not a directory: %s", root)
	}
	return abs, nil
}

// loadConfig layers the command-line flags over config.Load and sets up
// the logger
func (a *app) loadConfig(root string) (*config.Config, error) {
	cfg, err := config.Load(root, a.configPath)
	if err != nil {
		return nil, err
	}
	a.applyFlags(cfg, root)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	a.log = logging.New(a.stderr, cfg.LogFormat, logging.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

func (a *app) applyFlags(cfg *config.Config, root string) {
	if a.indexDir != "" {
		cfg.IndexDir = a.indexDir
		if !filepath.IsAbs(cfg.IndexDir) && root != "" {
			cfg.IndexDir = filepath.Join(root, cfg.IndexDir)
		}
	}
	if a.cacheDir != "" {
		cfg.CacheDir = a.cacheDir
	}
	if a.model != "" {
		cfg.Model = a.model
	}
	if a.backend != "" {
		cfg.Backend = a.backend
	}
	if a.workers > 0 {
		cfg.Workers = a.workers
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.logFormat != "" {
		cfg.LogFormat = a.logFormat
	}
}

func emptyAsNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}
