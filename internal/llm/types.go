// Package llm routes prompts to a local inference server or a remote
// chat-completion API, mapping backend-specific failures into the shared
// error taxonomy. Every outbound request is cleared by the network gate
// first.
package llm

import (
	"context"
)

// Request is one generation request, backend-agnostic.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response is the structured generation result.
type Response struct {
	Text      string
	TokensIn  int
	TokensOut int
	LatencyMS int64

	// RetryCount is the number of retries the router performed before
	// this response was produced, for observability.
	RetryCount int

	// Backend names the backend that produced the response.
	Backend string
}

// Backend is one LLM backend.
type Backend interface {
	// Generate submits a prompt and returns the structured response.
	Generate(ctx context.Context, req Request) (Response, error)

	// Name identifies the backend in logs and results.
	Name() string

	// Available reports whether the backend answers a trivial probe.
	Available(ctx context.Context) bool

	// Close releases held connections.
	Close() error
}

// NetworkChecker is satisfied by the network gate.
type NetworkChecker interface {
	CheckAllowed(url, purpose, caller string) error
}
