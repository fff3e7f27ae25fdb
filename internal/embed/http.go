package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
)

// NetworkChecker is satisfied by the network gate. The embedder asks it
// before every request; a denial aborts the call.
type NetworkChecker interface {
	CheckAllowed(url, purpose, caller string) error
}

// HTTPConfig configures the HTTP embedder.
type HTTPConfig struct {
	// Host is the local inference server base URL (e.g. http://127.0.0.1:11434).
	Host string

	// Model is the embedding model name.
	Model string

	// BatchSize caps texts per request.
	BatchSize int

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// Dimensions, when zero, is probed from the first embedding.
	Dimensions int

	// SkipProbe skips the startup dimension probe (tests).
	SkipProbe bool
}

// HTTPEmbedder generates embeddings via the local inference server's HTTP
// API. Every request passes through the network gate first.
type HTTPEmbedder struct {
	client *http.Client
	config HTTPConfig
	gate   NetworkChecker

	mu     sync.RWMutex
	dims   int
	closed bool
}

// Verify interface implementation at compile time.
var _ Embedder = (*HTTPEmbedder)(nil)

// embedRequest is the wire request for the embeddings route.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the wire response.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewHTTPEmbedder creates an embedder backed by the local inference server.
// The model is resolved from the server's local cache; the gate (together
// with environment flags set at boot) blocks any model-repository download.
func NewHTTPEmbedder(ctx context.Context, cfg HTTPConfig, gate NetworkChecker) (*HTTPEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = "http://127.0.0.1:11434"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	e := &HTTPEmbedder{
		// Per-request timeouts come from context so callers stay in control.
		client: &http.Client{},
		config: cfg,
		gate:   gate,
		dims:   cfg.Dimensions,
	}

	if !cfg.SkipProbe && e.dims == 0 {
		probeCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		vec, err := e.Embed(probeCtx, "dimension probe")
		if err != nil {
			return nil, rgerrors.New(rgerrors.ErrCodeEmbeddingFailed,
				"failed to probe embedding dimension", err).
				WithRemedy("check that the local inference server is running and the model is pulled")
		}
		e.mu.Lock()
		e.dims = len(vec)
		e.mu.Unlock()
	}

	return e, nil
}

// Embed generates an embedding for a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, rgerrors.New(rgerrors.ErrCodeInvalidResponse,
			fmt.Sprintf("expected 1 embedding, got %d", len(vecs)), nil)
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts. Order is preserved;
// oversized batches are split transparently.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, rgerrors.InternalError("embedder is closed", nil)
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.doEmbed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// doEmbed issues one gated request.
func (e *HTTPEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	url := e.config.Host + "/api/embed"

	if e.gate != nil {
		if err := e.gate.CheckAllowed(url, "embedding", "embed.HTTPEmbedder"); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(embedRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, rgerrors.InternalError("failed to encode embed request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, rgerrors.InternalError("failed to create embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, rgerrors.New(rgerrors.ErrCodeTimeout,
				"embedding request timed out", err)
		}
		return nil, rgerrors.New(rgerrors.ErrCodeBackendUnavailable,
			"failed to reach local inference server", err).
			WithRemedy("start the local inference server or run with the static embedder")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, rgerrors.New(rgerrors.ErrCodeInvalidResponse,
			fmt.Sprintf("embedding server returned %d", resp.StatusCode), nil).
			WithDetail("body", string(data))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, rgerrors.New(rgerrors.ErrCodeInvalidResponse,
			"failed to decode embedding response", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, rgerrors.New(rgerrors.ErrCodeInvalidResponse,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(parsed.Embeddings)), nil)
	}

	vecs := make([][]float32, len(parsed.Embeddings))
	for i, v := range parsed.Embeddings {
		vecs[i] = normalizeVector(v)
	}
	return vecs, nil
}

// Dimensions returns the embedding dimension.
func (e *HTTPEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the model identifier.
func (e *HTTPEmbedder) ModelName() string {
	return e.config.Model
}

// Available checks whether the server responds to a trivial embedding.
func (e *HTTPEmbedder) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.Embed(probeCtx, "ping")
	return err == nil
}

// Close releases the HTTP client's idle connections.
func (e *HTTPEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}
