package embedder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// Backend names
const (
	BackendHash = "hash"
	BackendHTTP = "http"
)

// HashModel is an offline inference engine: every token id maps to a fixed
// pseudo-random unit vector. Identical tokens get identical vectors, so
// MaxSim over HashModel output behaves like weighted token overlap.
type HashModel struct {
	dim int
}

// NewHashModel creates a HashModel emitting dim-wide rows
func NewHashModel(dim int) *HashModel {
	return &HashModel{dim: dim}
}

// Run never fails except on cancellation
func (h *HashModel) Run(ctx context.Context, ids, mask [][]int) ([][][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(ids) != len(mask) {
		return nil, fmt.Errorf("%w: %d id rows, %d mask rows", ErrInvalidInput, len(ids), len(mask))
	}
	out := make([][][]float32, len(ids))
	for i, seq := range ids {
		rows := make([][]float32, len(seq))
		for j, id := range seq {
			rows[j] = h.vector(id)
		}
		out[i] = rows
	}
	return out, nil
}

func (h *HashModel) vector(id int) []float32 {
	v := make([]float32, h.dim)
	state := uint64(id)*0x9E3779B97F4A7C15 + 1
	for k := range v {
		state = splitmix64(state)
		// Map to [-1, 1)
		v[k] = float32(state>>40)/float32(1<<23) - 1
	}
	return NormalizeVector(v)
}

func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}

func (h *HashModel) Dimension() int { return h.dim }

func (h *HashModel) Close() error { return nil }

// HTTPModel calls a remote inference server. The request body is
// {"model", "input_ids", "attention_mask"}; the response carries
// {"embeddings": [batch][tokens][dim]}.
type HTTPModel struct {
	url        string
	apiKey     string
	model      string
	dim        int
	httpClient *http.Client
	limiter    *rate.Limiter
}

// APIError is a non-200 response from the inference server
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying can succeed: server errors and
// throttling are temporary, other client errors are not
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// HTTPOption configures an HTTPModel
type HTTPOption func(*HTTPModel)

// WithAPIKey sends key as a bearer token
func WithAPIKey(key string) HTTPOption {
	return func(m *HTTPModel) { m.apiKey = key }
}

// WithRateLimit caps requests per second. Zero or negative disables it.
func WithRateLimit(rps float64) HTTPOption {
	return func(m *HTTPModel) {
		if rps <= 0 {
			m.limiter = nil
			return
		}
		m.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(math.Ceil(rps))))
	}
}

// WithTimeout bounds every HTTP request
func WithTimeout(d time.Duration) HTTPOption {
	return func(m *HTTPModel) {
		if d > 0 {
			m.httpClient.Timeout = d
		}
	}
}

// NewHTTPModel creates a client for the server at url serving the named
// model with dim-wide token rows. Run makes a single attempt; retries are
// the caller's policy.
func NewHTTPModel(url, model string, dim int, opts ...HTTPOption) *HTTPModel {
	m := &HTTPModel{
		url:   url,
		model: model,
		dim:   dim,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *HTTPModel) Run(ctx context.Context, ids, mask [][]int) ([][][]float32, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(map[string]any{
		"model":          m.model,
		"input_ids":      ids,
		"attention_mask": mask,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return m.callAPI(ctx, body)
}

func (m *HTTPModel) callAPI(ctx context.Context, body []byte) ([][][]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(bytes.TrimSpace(bodyBytes)),
		}
	}

	var apiResp struct {
		Embeddings [][][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return apiResp.Embeddings, nil
}

func (m *HTTPModel) Dimension() int { return m.dim }

func (m *HTTPModel) Close() error {
	m.httpClient.CloseIdleConnections()
	return nil
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
