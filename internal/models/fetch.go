package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/omengrep/internal/fslock"
	"github.com/dshills/omengrep/internal/retry"
)

// ErrArtifactFetch is returned when a model or vocabulary file cannot be
// obtained. It is fatal for construction of the embedding stack.
var ErrArtifactFetch = errors.New("artifact fetch failed")

// DefaultEndpoint serves files as {endpoint}/{repo}/resolve/main/{file}
const DefaultEndpoint = "https://huggingface.co"

const lockTimeout = 5 * time.Minute

// Artifacts are the local paths of a model's files
type Artifacts struct {
	ModelPath     string
	TokenizerPath string
}

// Fetcher downloads model artifacts into a local cache directory
type Fetcher struct {
	cacheDir   string
	endpoint   string
	token      string
	httpClient *http.Client
	retry      retry.Config
}

// FetcherOption customises a Fetcher
type FetcherOption func(*Fetcher)

// WithEndpoint overrides the download endpoint
func WithEndpoint(endpoint string) FetcherOption {
	return func(f *Fetcher) {
		if endpoint != "" {
			f.endpoint = strings.TrimRight(endpoint, "/")
		}
	}
}

// WithToken sets a bearer token for gated repositories
func WithToken(token string) FetcherOption {
	return func(f *Fetcher) { f.token = token }
}

// WithRetry replaces the retry policy
func WithRetry(c retry.Config) FetcherOption {
	return func(f *Fetcher) { f.retry = c }
}

// NewFetcher creates a Fetcher caching under cacheDir
func NewFetcher(cacheDir string, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		cacheDir: cacheDir,
		endpoint: DefaultEndpoint,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
		retry: retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CacheDir returns the root of the artifact cache
func (f *Fetcher) CacheDir() string {
	return f.cacheDir
}

// repoDir maps "org/name" to "<cache>/models--org--name"
func (f *Fetcher) repoDir(repo string) string {
	return filepath.Join(f.cacheDir, "models--"+strings.ReplaceAll(repo, "/", "--"))
}

// Paths returns where the artifacts of cfg live, whether or not they exist
func (f *Fetcher) Paths(cfg ModelConfig) Artifacts {
	dir := f.repoDir(cfg.Repo)
	return Artifacts{
		ModelPath:     filepath.Join(dir, filepath.FromSlash(cfg.ModelFile)),
		TokenizerPath: filepath.Join(dir, filepath.FromSlash(cfg.TokenizerFile)),
	}
}

// Installed reports whether both artifacts of cfg are in the cache
func (f *Fetcher) Installed(cfg ModelConfig) bool {
	paths := f.Paths(cfg)
	return fileExists(paths.ModelPath) && fileExists(paths.TokenizerPath)
}

// Resolve returns local artifact paths for cfg, downloading what is missing
func (f *Fetcher) Resolve(ctx context.Context, cfg ModelConfig) (Artifacts, error) {
	paths := f.Paths(cfg)
	if f.Installed(cfg) {
		return paths, nil
	}

	release, err := fslock.Acquire(ctx, filepath.Join(f.cacheDir, ".download.lock"), lockTimeout)
	if err != nil {
		return Artifacts{}, fmt.Errorf("%w: %v", ErrArtifactFetch, err)
	}
	defer release()

	for _, item := range []struct{ file, dst string }{
		{cfg.TokenizerFile, paths.TokenizerPath},
		{cfg.ModelFile, paths.ModelPath},
	} {
		// Another process may have finished while we waited for the lock
		if fileExists(item.dst) {
			continue
		}
		if err := f.download(ctx, cfg.Repo, item.file, item.dst); err != nil {
			return Artifacts{}, fmt.Errorf("%w: %s/%s: %v", ErrArtifactFetch, cfg.Repo, item.file, err)
		}
	}
	return paths, nil
}

// ResolveTokenizer fetches only the vocabulary file
func (f *Fetcher) ResolveTokenizer(ctx context.Context, cfg ModelConfig) (string, error) {
	dst := f.Paths(cfg).TokenizerPath
	if fileExists(dst) {
		return dst, nil
	}

	release, err := fslock.Acquire(ctx, filepath.Join(f.cacheDir, ".download.lock"), lockTimeout)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArtifactFetch, err)
	}
	defer release()

	if fileExists(dst) {
		return dst, nil
	}
	if err := f.download(ctx, cfg.Repo, cfg.TokenizerFile, dst); err != nil {
		return "", fmt.Errorf("%w: %s/%s: %v", ErrArtifactFetch, cfg.Repo, cfg.TokenizerFile, err)
	}
	return dst, nil
}

func (f *Fetcher) download(ctx context.Context, repo, file, dst string) error {
	url := fmt.Sprintf("%s/%s/resolve/main/%s", f.endpoint, repo, file)

	_, err := retry.Do(ctx, f.retry, func(int) (struct{}, error) {
		return struct{}{}, f.downloadOnce(ctx, url, dst)
	})
	return err
}

// downloadOnce streams url into a temp file next to dst and renames it into place
func (f *Fetcher) downloadOnce(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		// Client errors (missing file, gated repo) will not fix themselves
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return retry.Permanent(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return retry.Permanent(err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", filepath.Base(dst), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		cleanup()
		return err
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
