package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hybridrag/hybridrag/internal/config"
	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
)

// LocalClient talks to a local inference server over its generate route.
// Local inference on CPU is slow, so the default timeout is generous.
type LocalClient struct {
	client  *http.Client
	baseURL string
	model   string
	timeout time.Duration
	ctxWin  int
	gate    NetworkChecker
}

// Verify interface implementation at compile time.
var _ Backend = (*LocalClient)(nil)

// generateRequest is the wire request for the local generate route.
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
	NumCtx      int     `json:"num_ctx,omitempty"`
}

// generateResponse is the wire response.
type generateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// NewLocalClient creates a client for the configured local backend.
func NewLocalClient(cfg config.LocalConfig, gate NetworkChecker) *LocalClient {
	timeout := time.Duration(cfg.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434"
	}
	return &LocalClient{
		client:  &http.Client{},
		baseURL: baseURL,
		model:   cfg.Model,
		timeout: timeout,
		ctxWin:  cfg.ContextWindow,
		gate:    gate,
	}
}

// Name identifies the backend.
func (c *LocalClient) Name() string { return "local" }

// Generate submits the prompt to the local generate route.
func (c *LocalClient) Generate(ctx context.Context, req Request) (Response, error) {
	url := c.baseURL + "/api/generate"

	if c.gate != nil {
		if err := c.gate.CheckAllowed(url, "llm_generate", "llm.LocalClient"); err != nil {
			return Response{}, err
		}
	}

	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: req.Prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
			NumCtx:      c.ctxWin,
		},
	})
	if err != nil {
		return Response{}, rgerrors.InternalError("failed to encode generate request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, rgerrors.InternalError("failed to create generate request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.client.Do(httpReq)
	latency := time.Since(started).Milliseconds()
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return Response{}, rgerrors.New(rgerrors.ErrCodeTimeout,
				fmt.Sprintf("local inference exceeded %s", c.timeout), err).
				WithRemedy("raise local_backend.timeout_seconds or use a smaller model")
		}
		return Response{}, rgerrors.New(rgerrors.ErrCodeBackendUnavailable,
			"failed to reach local inference server", err).
			WithRemedy("start the local inference server or switch security.mode to online")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Response{}, rgerrors.New(rgerrors.ErrCodeInvalidResponse,
			fmt.Sprintf("local inference server returned %d", resp.StatusCode), nil).
			WithDetail("body", string(data))
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Response{}, rgerrors.New(rgerrors.ErrCodeInvalidResponse,
			"failed to decode generate response", err)
	}
	if strings.TrimSpace(parsed.Response) == "" {
		return Response{}, rgerrors.New(rgerrors.ErrCodeInvalidResponse,
			"local inference returned an empty response", nil)
	}

	return Response{
		Text:      parsed.Response,
		TokensIn:  parsed.PromptEvalCount,
		TokensOut: parsed.EvalCount,
		LatencyMS: latency,
		Backend:   c.Name(),
	}, nil
}

// Available probes the server root, which answers cheaply when up.
func (c *LocalClient) Available(ctx context.Context) bool {
	if c.gate != nil {
		if err := c.gate.CheckAllowed(c.baseURL+"/", "llm_probe", "llm.LocalClient"); err != nil {
			return false
		}
	}
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < 500
}

// Close releases idle connections.
func (c *LocalClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
