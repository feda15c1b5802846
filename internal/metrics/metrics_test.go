package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveBuild(2*time.Second, nil)
	m.ObserveBuild(time.Second, errors.New("boom"))
	m.AddFiles(FileIndexed, 3)
	m.AddFiles(FileFailed, 1)
	m.AddFiles(FileSkipped, 0)
	m.AddBlocks(BlockUpserted, 12)
	m.AddBlocks(BlockRetracted, 4)
	m.ObserveBatch(8, 50*time.Millisecond, nil)
	m.ObserveBatch(8, 10*time.Millisecond, errors.New("timeout"))
	m.SetIndexedBlocks(42)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.builds.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.builds.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.files.WithLabelValues(FileIndexed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.files.WithLabelValues(FileFailed)))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.blocks.WithLabelValues(BlockUpserted)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.blocks.WithLabelValues(BlockRetracted)))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.embedTexts), "failed batches are not counted")
	assert.Equal(t, 42.0, testutil.ToFloat64(m.indexedBlocks))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveBuild(time.Second, nil)
		m.AddFiles(FileIndexed, 1)
		m.AddBlocks(BlockUpserted, 1)
		m.ObserveBatch(1, time.Millisecond, nil)
		m.ObserveSearch("hybrid", time.Millisecond, nil)
		m.SetIndexedBlocks(1)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveSearch("semantic", 5*time.Millisecond, nil)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `omengrep_search_duration_seconds_count{mode="semantic",status="success"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestMetrics_Independent(t *testing.T) {
	// Two instances must not collide on registration
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
