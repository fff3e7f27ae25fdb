package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hybridrag/hybridrag/internal/config"
	"github.com/hybridrag/hybridrag/internal/creds"
	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
)

// bannedDeployments never get auto-selected: they are not chat models and
// answer chat requests with confusing errors.
var bannedDeployments = map[string]bool{
	"text-embedding-ada-002": true,
	"text-embedding-3-small": true,
	"text-embedding-3-large": true,
	"whisper":                true,
	"dall-e-3":               true,
}

// RemoteClient talks to a remote chat-completion API. Requests carry the
// resolved API key in the api-key header and the API version as a query
// parameter.
type RemoteClient struct {
	client     *http.Client
	endpoint   string
	model      string
	deployment string
	apiVersion string
	apiKey     string
	maxTokens  int
	timeout    time.Duration
	gate       NetworkChecker

	discoverOnce sync.Once
	discovered   []string
	discoverErr  error
}

// Verify interface implementation at compile time.
var _ Backend = (*RemoteClient)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// NewRemoteClient creates a client for the configured remote API using the
// resolved credential bundle. Bundle fields override config fields.
func NewRemoteClient(cfg config.RemoteConfig, bundle creds.Bundle, gate NetworkChecker) (*RemoteClient, error) {
	endpoint := bundle.Endpoint
	if endpoint == "" {
		endpoint = cfg.Endpoint
	}
	endpoint = strings.TrimRight(endpoint, "/")
	if endpoint == "" {
		return nil, rgerrors.CredentialError("remote endpoint is not configured", nil).
			WithRemedy("set remote_api.endpoint or store one with cred-store")
	}
	if err := CheckEndpointComposition(endpoint); err != nil {
		return nil, err
	}

	deployment := bundle.Deployment
	if deployment == "" {
		deployment = cfg.Deployment
	}
	apiVersion := bundle.APIVersion
	if apiVersion == "" {
		apiVersion = cfg.APIVersion
	}

	timeout := time.Duration(cfg.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &RemoteClient{
		client:     &http.Client{},
		endpoint:   endpoint,
		model:      cfg.Model,
		deployment: deployment,
		apiVersion: apiVersion,
		apiKey:     bundle.APIKey,
		maxTokens:  cfg.MaxTokens,
		timeout:    timeout,
		gate:       gate,
	}, nil
}

// CheckEndpointComposition rejects endpoints that would produce doubled
// version-path segments once the chat-completions path is appended.
func CheckEndpointComposition(endpoint string) error {
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return rgerrors.New(rgerrors.ErrCodeInvalidURL,
			fmt.Sprintf("remote endpoint %q is not a valid URL", endpoint), err)
	}
	path := strings.TrimRight(parsed.Path, "/")
	if strings.HasSuffix(path, "/chat/completions") {
		return rgerrors.New(rgerrors.ErrCodeInvalidURL,
			"remote endpoint must not include the chat/completions path; it is appended per call", nil).
			WithDetail("endpoint", endpoint)
	}
	return nil
}

// chatURL composes the per-call URL. Deployment-style endpoints route
// through the deployments path; plain endpoints get /v1/chat/completions,
// unless the endpoint already carries a /v1 suffix.
func (c *RemoteClient) chatURL() string {
	var u string
	switch {
	case c.deployment != "":
		u = fmt.Sprintf("%s/openai/deployments/%s/chat/completions", c.endpoint, url.PathEscape(c.deployment))
	case strings.HasSuffix(c.endpoint, "/v1"):
		u = c.endpoint + "/chat/completions"
	default:
		u = c.endpoint + "/v1/chat/completions"
	}
	if c.apiVersion != "" {
		u += "?api-version=" + url.QueryEscape(c.apiVersion)
	}
	return u
}

// Name identifies the backend.
func (c *RemoteClient) Name() string { return "remote" }

// Generate submits the prompt to the chat-completions route.
func (c *RemoteClient) Generate(ctx context.Context, req Request) (Response, error) {
	callURL := c.chatURL()

	if c.gate != nil {
		if err := c.gate.CheckAllowed(callURL, "llm_generate", "llm.RemoteClient"); err != nil {
			return Response{}, err
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return Response{}, rgerrors.InternalError("failed to encode chat request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, callURL, bytes.NewReader(body))
	if err != nil {
		return Response{}, rgerrors.InternalError("failed to create chat request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", c.apiKey)

	started := time.Now()
	resp, err := c.client.Do(httpReq)
	latency := time.Since(started).Milliseconds()
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return Response{}, rgerrors.New(rgerrors.ErrCodeTimeout,
				fmt.Sprintf("remote API exceeded %s", c.timeout), err)
		}
		return Response{}, rgerrors.New(rgerrors.ErrCodeBackendUnavailable,
			"failed to reach remote API", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Response{}, c.mapErrorStatus(resp)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Response{}, rgerrors.New(rgerrors.ErrCodeInvalidResponse,
			"failed to decode chat response", err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return Response{}, rgerrors.New(rgerrors.ErrCodeInvalidResponse,
			"remote API returned no choices", nil)
	}

	return Response{
		Text:      parsed.Choices[0].Message.Content,
		TokensIn:  parsed.Usage.PromptTokens,
		TokensOut: parsed.Usage.CompletionTokens,
		LatencyMS: latency,
		Backend:   c.Name(),
	}, nil
}

// mapErrorStatus translates HTTP failures into the shared taxonomy.
// Credential values never appear in diagnostics.
func (c *RemoteClient) mapErrorStatus(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	body := string(data)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return rgerrors.New(rgerrors.ErrCodeAuthRejected,
			fmt.Sprintf("remote API rejected credentials (%d)", resp.StatusCode), nil).
			WithRemedy(fmt.Sprintf("verify the stored API key (%s) and endpoint", creds.Mask(c.apiKey)))
	case resp.StatusCode == http.StatusTooManyRequests ||
		strings.Contains(strings.ToLower(body), "rate limit"):
		return rgerrors.New(rgerrors.ErrCodeRateLimited,
			fmt.Sprintf("remote API rate limited the request (%d)", resp.StatusCode), nil)
	default:
		return rgerrors.New(rgerrors.ErrCodeInvalidResponse,
			fmt.Sprintf("remote API returned %d", resp.StatusCode), nil).
			WithDetail("body", body)
	}
}

// ListDeployments fetches the endpoint's deployment list, cached for the
// process lifetime.
func (c *RemoteClient) ListDeployments(ctx context.Context) ([]string, error) {
	c.discoverOnce.Do(func() {
		c.discovered, c.discoverErr = c.fetchDeployments(ctx)
	})
	return c.discovered, c.discoverErr
}

// fetchDeployments lists deployments from the endpoint.
func (c *RemoteClient) fetchDeployments(ctx context.Context) ([]string, error) {
	listURL := c.endpoint + "/openai/deployments"
	if c.apiVersion != "" {
		listURL += "?api-version=" + url.QueryEscape(c.apiVersion)
	}

	if c.gate != nil {
		if err := c.gate.CheckAllowed(listURL, "deployment_discovery", "llm.RemoteClient"); err != nil {
			return nil, err
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, rgerrors.InternalError("failed to create deployment request", err)
	}
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, rgerrors.New(rgerrors.ErrCodeBackendUnavailable,
			"failed to list deployments", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.mapErrorStatus(resp)
	}

	var parsed struct {
		Data []struct {
			ID    string `json:"id"`
			Model string `json:"model"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, rgerrors.New(rgerrors.ErrCodeInvalidResponse,
			"failed to decode deployment list", err)
	}

	out := make([]string, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		out = append(out, d.ID)
	}
	return out, nil
}

// AutoSelectDeployment picks a deployment when none is configured: the
// first priority entry present in the discovered list, skipping banned
// names, then any non-banned discovered deployment.
func (c *RemoteClient) AutoSelectDeployment(ctx context.Context, priority []string) (string, error) {
	if c.deployment != "" {
		return c.deployment, nil
	}

	available, err := c.ListDeployments(ctx)
	if err != nil {
		return "", err
	}
	availSet := make(map[string]bool, len(available))
	for _, d := range available {
		availSet[d] = true
	}

	for _, p := range priority {
		if availSet[p] && !bannedDeployments[p] {
			c.deployment = p
			return p, nil
		}
	}
	for _, d := range available {
		if !bannedDeployments[d] {
			c.deployment = d
			return d, nil
		}
	}
	return "", rgerrors.New(rgerrors.ErrCodeBackendUnavailable,
		"no usable deployment found on the remote endpoint", nil).
		WithRemedy("set remote_api.deployment explicitly")
}

// Available probes the deployment list.
func (c *RemoteClient) Available(ctx context.Context) bool {
	_, err := c.ListDeployments(ctx)
	return err == nil
}

// Close releases idle connections.
func (c *RemoteClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
