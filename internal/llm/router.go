package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/hybridrag/hybridrag/internal/config"
	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
)

// Circuit breaker limits for backend calls. A backend that keeps failing
// across calls is suspended instead of eating a retry cycle every query.
const (
	breakerMaxFailures  = 5
	breakerResetTimeout = 30 * time.Second
)

// Router submits prompts to the backend selected by the security mode:
// offline routes to the local server, online and admin to the remote API.
// Transient failures (timeouts, rate limits) retry with exponential
// backoff and jitter; auth rejections and malformed responses do not.
// Each backend sits behind a circuit breaker.
type Router struct {
	mode     config.Mode
	local    Backend
	remote   Backend
	retryCfg rgerrors.RetryConfig
	breakers map[string]*rgerrors.CircuitBreaker
	logger   *slog.Logger
}

// NewRouter creates a router. Either backend may be nil when its mode is
// unavailable; selecting a nil backend returns a backend-unavailable error.
func NewRouter(mode config.Mode, local, remote Backend, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	breakers := make(map[string]*rgerrors.CircuitBreaker)
	for _, b := range []Backend{local, remote} {
		if b != nil {
			breakers[b.Name()] = rgerrors.NewCircuitBreaker(b.Name(), breakerMaxFailures, breakerResetTimeout)
		}
	}
	return &Router{
		mode:     mode,
		local:    local,
		remote:   remote,
		retryCfg: rgerrors.DefaultRetryConfig(),
		breakers: breakers,
		logger:   logger,
	}
}

// backend selects the backend for the current mode.
func (r *Router) backend() (Backend, error) {
	var b Backend
	switch r.mode {
	case config.ModeOffline:
		b = r.local
	case config.ModeOnline, config.ModeAdmin:
		b = r.remote
	default:
		return nil, rgerrors.ConfigError("unknown security mode", nil)
	}
	if b == nil {
		return nil, rgerrors.New(rgerrors.ErrCodeBackendUnavailable,
			"no backend available for the current mode", nil).
			WithDetail("mode", string(r.mode)).
			WithRemedy("check boot diagnostics for why the backend failed to initialize")
	}
	return b, nil
}

// Generate submits the prompt to the selected backend, retrying transient
// failures. The returned retry count is for observability.
func (r *Router) Generate(ctx context.Context, req Request) (Response, error) {
	backend, err := r.backend()
	if err != nil {
		return Response{}, err
	}

	breaker := r.breakers[backend.Name()]
	if !breaker.Allow() {
		return Response{}, rgerrors.New(rgerrors.ErrCodeBackendUnavailable,
			"backend suspended after repeated failures", nil).
			WithDetail("backend", backend.Name()).
			WithDetail("circuit", breaker.State().String()).
			WithRemedy("wait for the backend to recover or switch modes")
	}

	resp, retries, err := rgerrors.RetryWithCount(ctx, r.retryCfg, func() (Response, error) {
		return backend.Generate(ctx, req)
	})
	if err != nil {
		breaker.RecordFailure()
		r.logger.Warn("llm_call_failed",
			slog.String("backend", backend.Name()),
			slog.Int("retries", retries),
			slog.String("error_code", rgerrors.GetCode(err)))
		return Response{}, err
	}
	breaker.RecordSuccess()

	resp.RetryCount = retries
	r.logger.Info("llm_call_completed",
		slog.String("backend", backend.Name()),
		slog.Int("tokens_in", resp.TokensIn),
		slog.Int("tokens_out", resp.TokensOut),
		slog.Int64("latency_ms", resp.LatencyMS),
		slog.Int("retries", retries))
	return resp, nil
}

// BackendName reports which backend the current mode selects, for
// diagnostics. Empty when none is available.
func (r *Router) BackendName() string {
	b, err := r.backend()
	if err != nil {
		return ""
	}
	return b.Name()
}

// Close closes both backends.
func (r *Router) Close() error {
	var firstErr error
	if r.local != nil {
		if err := r.local.Close(); err != nil {
			firstErr = err
		}
	}
	if r.remote != nil {
		if err := r.remote.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
