package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridrag/hybridrag/internal/config"
	"github.com/hybridrag/hybridrag/internal/creds"
	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
)

func localConfig(baseURL string) config.LocalConfig {
	return config.LocalConfig{
		BaseURL:        baseURL,
		Model:          "test-model",
		TimeoutSeconds: 5,
		ContextWindow:  2048,
	}
}

func remoteConfig() config.RemoteConfig {
	return config.RemoteConfig{
		Model:          "gpt-test",
		MaxTokens:      256,
		Temperature:    0.1,
		TimeoutSeconds: 5,
		APIVersion:     "2024-06-01",
	}
}

func TestLocalClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.False(t, req.Stream)

		require.NoError(t, json.NewEncoder(w).Encode(generateResponse{
			Response:        "the answer",
			PromptEvalCount: 12,
			EvalCount:       5,
		}))
	}))
	defer srv.Close()

	c := NewLocalClient(localConfig(srv.URL), nil)
	resp, err := c.Generate(context.Background(), Request{Prompt: "question", Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "the answer", resp.Text)
	assert.Equal(t, 12, resp.TokensIn)
	assert.Equal(t, 5, resp.TokensOut)
	assert.Equal(t, "local", resp.Backend)
}

func TestLocalClient_EmptyResponseIsInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(generateResponse{Response: "  "}))
	}))
	defer srv.Close()

	c := NewLocalClient(localConfig(srv.URL), nil)
	_, err := c.Generate(context.Background(), Request{Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, rgerrors.ErrCodeInvalidResponse, rgerrors.GetCode(err))
}

func TestLocalClient_TimeoutMapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := localConfig(srv.URL)
	cfg.TimeoutSeconds = 0.05
	c := NewLocalClient(cfg, nil)

	_, err := c.Generate(context.Background(), Request{Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, rgerrors.ErrCodeTimeout, rgerrors.GetCode(err))
	assert.True(t, rgerrors.IsRetryable(err))
}

func TestLocalClient_UnreachableIsBackendUnavailable(t *testing.T) {
	c := NewLocalClient(localConfig("http://127.0.0.1:1"), nil)
	_, err := c.Generate(context.Background(), Request{Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, rgerrors.ErrCodeBackendUnavailable, rgerrors.GetCode(err))
}

// denyingGate denies everything.
type denyingGate struct{}

func (denyingGate) CheckAllowed(url, purpose, caller string) error {
	return rgerrors.NetworkBlocked(url, "offline")
}

func TestLocalClient_GateDenialAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not reach the server when the gate denies")
	}))
	defer srv.Close()

	c := NewLocalClient(localConfig(srv.URL), denyingGate{})
	_, err := c.Generate(context.Background(), Request{Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, rgerrors.ErrCodeNetworkBlocked, rgerrors.GetCode(err))
}

func newRemote(t *testing.T, endpoint string, bundle creds.Bundle) *RemoteClient {
	t.Helper()
	bundle.Endpoint = endpoint
	c, err := NewRemoteClient(remoteConfig(), bundle, nil)
	require.NoError(t, err)
	return c
}

func TestRemoteClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "secret-key-value", r.Header.Get("api-key"))
		assert.Equal(t, "2024-06-01", r.URL.Query().Get("api-version"))

		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "remote answer"}}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 7}
		}`))
	}))
	defer srv.Close()

	c := newRemote(t, srv.URL, creds.Bundle{APIKey: "secret-key-value"})
	resp, err := c.Generate(context.Background(), Request{Prompt: "question"})
	require.NoError(t, err)
	assert.Equal(t, "remote answer", resp.Text)
	assert.Equal(t, 20, resp.TokensIn)
	assert.Equal(t, 7, resp.TokensOut)
}

func TestRemoteClient_DeploymentPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/my-dep/chat/completions", r.URL.Path)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}],"usage":{}}`))
	}))
	defer srv.Close()

	c := newRemote(t, srv.URL, creds.Bundle{APIKey: "k", Deployment: "my-dep"})
	_, err := c.Generate(context.Background(), Request{Prompt: "q"})
	require.NoError(t, err)
}

func TestRemoteClient_V1NotDoubled(t *testing.T) {
	var gotPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}],"usage":{}}`))
	}))
	defer srv.Close()

	c := newRemote(t, srv.URL+"/v1", creds.Bundle{APIKey: "k"})
	_, err := c.Generate(context.Background(), Request{Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, "/v1/chat/completions", gotPath.Load())
}

func TestCheckEndpointComposition(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		wantErr  bool
	}{
		{"plain endpoint", "https://api.example.com", false},
		{"v1 suffix allowed", "https://api.example.com/v1", false},
		{"full path rejected", "https://api.example.com/v1/chat/completions", true},
		{"not a url", "not a url at all", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckEndpointComposition(tt.endpoint)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRemoteClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
	}{
		{"unauthorized", http.StatusUnauthorized, `{}`, rgerrors.ErrCodeAuthRejected},
		{"forbidden", http.StatusForbidden, `{}`, rgerrors.ErrCodeAuthRejected},
		{"too many requests", http.StatusTooManyRequests, `{}`, rgerrors.ErrCodeRateLimited},
		{"rate limit hint", http.StatusBadRequest, `{"error":"Rate limit exceeded"}`, rgerrors.ErrCodeRateLimited},
		{"server error", http.StatusInternalServerError, `{}`, rgerrors.ErrCodeInvalidResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := newRemote(t, srv.URL, creds.Bundle{APIKey: "super-secret-value"})
			_, err := c.Generate(context.Background(), Request{Prompt: "q"})
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, rgerrors.GetCode(err))
			assert.NotContains(t, err.Error(), "super-secret-value",
				"credentials never appear in diagnostics")
		})
	}
}

func TestRemoteClient_EmptyChoicesIsInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[],"usage":{}}`))
	}))
	defer srv.Close()

	c := newRemote(t, srv.URL, creds.Bundle{APIKey: "k"})
	_, err := c.Generate(context.Background(), Request{Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, rgerrors.ErrCodeInvalidResponse, rgerrors.GetCode(err))
	assert.False(t, rgerrors.IsRetryable(err))
}

func TestRemoteClient_DeploymentDiscoveryCached(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/openai/deployments", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"id":"text-embedding-ada-002"},{"id":"gpt-4o"},{"id":"gpt-35-turbo"}]}`))
	}))
	defer srv.Close()

	c := newRemote(t, srv.URL, creds.Bundle{APIKey: "k"})

	deps, err := c.ListDeployments(context.Background())
	require.NoError(t, err)
	assert.Len(t, deps, 3)

	_, err = c.ListDeployments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load(), "discovery is cached for the process lifetime")
}

func TestRemoteClient_AutoSelectSkipsBanned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"text-embedding-ada-002"},{"id":"gpt-35-turbo"}]}`))
	}))
	defer srv.Close()

	c := newRemote(t, srv.URL, creds.Bundle{APIKey: "k"})
	dep, err := c.AutoSelectDeployment(context.Background(), []string{"text-embedding-ada-002", "gpt-35-turbo"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-35-turbo", dep, "banned deployments are never auto-selected")
}

// scriptedBackend returns queued errors, then a fixed response.
type scriptedBackend struct {
	name   string
	errs   []error
	calls  int
	answer string
}

func (b *scriptedBackend) Generate(ctx context.Context, req Request) (Response, error) {
	b.calls++
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		return Response{}, err
	}
	return Response{Text: b.answer, Backend: b.name}, nil
}

func (b *scriptedBackend) Name() string                       { return b.name }
func (b *scriptedBackend) Available(ctx context.Context) bool { return true }
func (b *scriptedBackend) Close() error                       { return nil }

func fastRetryRouter(mode config.Mode, local, remote Backend) *Router {
	r := NewRouter(mode, local, remote, nil)
	r.retryCfg = rgerrors.RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
	return r
}

func TestRouter_OfflineSelectsLocal(t *testing.T) {
	local := &scriptedBackend{name: "local", answer: "from local"}
	remote := &scriptedBackend{name: "remote", answer: "from remote"}

	r := fastRetryRouter(config.ModeOffline, local, remote)
	resp, err := r.Generate(context.Background(), Request{Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, "from local", resp.Text)
	assert.Equal(t, 0, remote.calls)
}

func TestRouter_OnlineSelectsRemote(t *testing.T) {
	local := &scriptedBackend{name: "local", answer: "from local"}
	remote := &scriptedBackend{name: "remote", answer: "from remote"}

	r := fastRetryRouter(config.ModeOnline, local, remote)
	resp, err := r.Generate(context.Background(), Request{Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, "from remote", resp.Text)
	assert.Equal(t, 0, local.calls)
}

func TestRouter_RetriesTransientAndReportsCount(t *testing.T) {
	remote := &scriptedBackend{
		name:   "remote",
		answer: "eventually",
		errs: []error{
			rgerrors.New(rgerrors.ErrCodeRateLimited, "slow down", nil),
			rgerrors.New(rgerrors.ErrCodeTimeout, "timed out", nil),
		},
	}

	r := fastRetryRouter(config.ModeOnline, nil, remote)
	resp, err := r.Generate(context.Background(), Request{Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, "eventually", resp.Text)
	assert.Equal(t, 2, resp.RetryCount)
	assert.Equal(t, 3, remote.calls)
}

func TestRouter_NoRetryOnAuthRejected(t *testing.T) {
	remote := &scriptedBackend{
		name: "remote",
		errs: []error{rgerrors.New(rgerrors.ErrCodeAuthRejected, "bad key", nil)},
	}

	r := fastRetryRouter(config.ModeOnline, nil, remote)
	_, err := r.Generate(context.Background(), Request{Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, rgerrors.ErrCodeAuthRejected, rgerrors.GetCode(err))
	assert.Equal(t, 1, remote.calls)
}

func TestRouter_MissingBackendUnavailable(t *testing.T) {
	r := fastRetryRouter(config.ModeOnline, &scriptedBackend{name: "local"}, nil)
	_, err := r.Generate(context.Background(), Request{Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, rgerrors.ErrCodeBackendUnavailable, rgerrors.GetCode(err))
}

func TestRouter_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	errs := make([]error, breakerMaxFailures)
	for i := range errs {
		errs[i] = rgerrors.New(rgerrors.ErrCodeAuthRejected, "bad key", nil)
	}
	remote := &scriptedBackend{name: "remote", answer: "late", errs: errs}

	r := fastRetryRouter(config.ModeOnline, nil, remote)
	for i := 0; i < breakerMaxFailures; i++ {
		_, err := r.Generate(context.Background(), Request{Prompt: "q"})
		require.Error(t, err)
	}
	require.Equal(t, breakerMaxFailures, remote.calls)

	// The backend would answer now, but the open circuit fails fast.
	_, err := r.Generate(context.Background(), Request{Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, rgerrors.ErrCodeBackendUnavailable, rgerrors.GetCode(err))
	assert.Equal(t, breakerMaxFailures, remote.calls, "open circuit never reaches the backend")
}

func TestRouter_CircuitReclosesAfterTrialSuccess(t *testing.T) {
	remote := &scriptedBackend{
		name:   "remote",
		answer: "recovered",
		errs:   []error{rgerrors.New(rgerrors.ErrCodeAuthRejected, "bad key", nil)},
	}

	r := fastRetryRouter(config.ModeOnline, nil, remote)
	r.breakers["remote"] = rgerrors.NewCircuitBreaker("remote", 1, 10*time.Millisecond)

	_, err := r.Generate(context.Background(), Request{Prompt: "q"})
	require.Error(t, err)
	_, err = r.Generate(context.Background(), Request{Prompt: "q"})
	assert.Equal(t, rgerrors.ErrCodeBackendUnavailable, rgerrors.GetCode(err))

	time.Sleep(20 * time.Millisecond)
	resp, err := r.Generate(context.Background(), Request{Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text)

	resp, err = r.Generate(context.Background(), Request{Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text)
}
