package embedder

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/omengrep/internal/models"
	"github.com/dshills/omengrep/internal/retry"
)

func TestVersion(t *testing.T) {
	mc := models.Default()
	assert.Equal(t, mc.Version+"+hash", Version(BackendHash, mc))
	assert.Equal(t, mc.Version, Version(BackendHTTP, mc))
}

func TestNewModel(t *testing.T) {
	mc := models.Default()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		want    any
	}{
		{name: "default is hash", cfg: Config{}, want: &HashModel{}},
		{name: "hash", cfg: Config{Backend: "HASH"}, want: &HashModel{}},
		{name: "http", cfg: Config{Backend: BackendHTTP, InferenceURL: "http://localhost:9"}, want: &HTTPModel{}},
		{name: "http without url", cfg: Config{Backend: BackendHTTP}, wantErr: true},
		{name: "unknown", cfg: Config{Backend: "onnx"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewModel(tt.cfg, mc)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedModel)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, m)
			assert.Equal(t, mc.TokenDim, m.Dimension())
		})
	}
}

func TestNew_HashBackend(t *testing.T) {
	mc := models.Default()
	p, err := New(context.Background(), Config{Backend: BackendHash}, mc, nil)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, mc.TokenDim, p.Dimension())
	assert.Equal(t, mc.BatchSize, p.BatchSize())
	assert.Equal(t, Version(BackendHash, mc), p.Version())

	out, err := p.EmbedBlocks(context.Background(), []string{"func Parse() error { return nil }"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, mc.TokenDim, out[0].Dim())

	encs, err := p.tok.EncodeDocuments([]string{"func Parse() error { return nil }"})
	require.NoError(t, err)
	assert.Equal(t, encs[0].Len(), out[0].Rows())
}

func TestNew_HTTPBackendNeedsTokenizer(t *testing.T) {
	mc := models.Default()
	cfg := Config{Backend: BackendHTTP, InferenceURL: "http://127.0.0.1:9"}

	_, err := New(context.Background(), cfg, mc, nil)
	assert.ErrorIs(t, err, models.ErrArtifactFetch)

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	fetcher := models.NewFetcher(t.TempDir(),
		models.WithEndpoint(srv.URL),
		models.WithRetry(retry.Config{Attempts: 1}),
	)
	_, err = New(context.Background(), cfg, mc, fetcher)
	assert.ErrorIs(t, err, models.ErrArtifactFetch)
}
