package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dshills/omengrep/internal/config"
	"github.com/dshills/omengrep/internal/embedder"
	"github.com/dshills/omengrep/internal/models"
	"github.com/dshills/omengrep/internal/snapshot"
	"github.com/dshills/omengrep/internal/storage"
)

// ErrStaleIndex is returned when the index was embedded with another model
// than the configured one. Query embeddings from the configured model are
// not comparable with the stored ones.
var ErrStaleIndex = errors.New("index was built with a different model")

// Status summarises the index of one project
type Status struct {
	Root     string `json:"root"`
	IndexDir string `json:"index_dir"`
	Indexed  bool   `json:"indexed"`

	ModelVersion   string `json:"model_version,omitempty"`
	CurrentVersion string `json:"current_version"`
	// Stale is set when the index was built with another model and the
	// next build will re-embed everything
	Stale bool `json:"stale"`

	Files     int       `json:"files"`
	Blocks    int       `json:"blocks"`
	BuildID   string    `json:"build_id,omitempty"`
	LastBuild time.Time `json:"last_build,omitempty"`

	Store *storage.Stats `json:"store,omitempty"`
	// Problem explains an unreadable snapshot
	Problem string `json:"problem,omitempty"`
}

// Searchable reports whether queries embedded under the current
// configuration can run against the index as it stands
func (st *Status) Searchable() error {
	switch {
	case !st.Indexed:
		return ErrNotIndexed
	case st.Stale:
		return fmt.Errorf("%w: indexed with %s, configured %s",
			ErrStaleIndex, modelName(st.ModelVersion), modelName(st.CurrentVersion))
	}
	return nil
}

// modelName maps a recorded model version to its registry name, keeping
// any backend suffix. Unknown versions are returned as they are.
func modelName(version string) string {
	base, backend, found := strings.Cut(version, "+")
	mc, ok := models.ResolveByVersion(base)
	switch {
	case !ok:
		return version
	case found:
		return mc.Name + "+" + backend
	default:
		return mc.Name
	}
}

// Inspect reads the snapshot and store of root. It never creates the
// index directory and never loads the embedding model.
func Inspect(ctx context.Context, root string, cfg *config.Config) (*Status, error) {
	if cfg.IndexDir == "" {
		cfg.SetDefaults(root)
	}
	st := &Status{
		Root:           root,
		IndexDir:       cfg.IndexDir,
		CurrentVersion: embedder.Version(cfg.Backend, cfg.ModelConfig()),
	}

	snap, err := snapshot.NewFileStore(cfg.SnapshotPath()).Load(ctx)
	switch {
	case errors.Is(err, snapshot.ErrCorrupt), errors.Is(err, snapshot.ErrUnsupportedVersion):
		st.Problem = err.Error()
		return st, nil
	case err != nil:
		return nil, err
	case snap == nil:
		return st, nil
	}

	st.Indexed = true
	st.ModelVersion = snap.ModelVersion
	st.Stale = snap.Stale(st.CurrentVersion)
	st.Files = len(snap.Files)
	st.Blocks = snap.BlockCount()
	st.BuildID = snap.BuildID
	st.LastBuild = snap.CreatedAt

	if _, err := os.Stat(cfg.StorePath()); err == nil {
		store, err := storage.Open(ctx, cfg.StorePath())
		if err != nil {
			return nil, err
		}
		defer store.Close()
		if st.Store, err = store.Stats(ctx); err != nil {
			return nil, err
		}
	}
	return st, nil
}
