// Package query implements end-to-end question answering: embed, retrieve,
// assemble the hardened prompt, call the router, apply the hallucination
// guard, and record cost. Every path returns a structured QueryResult; no
// error propagates to the caller.
package query

import (
	"context"
	"log/slog"
	"time"

	"github.com/hybridrag/hybridrag/internal/config"
	"github.com/hybridrag/hybridrag/internal/embed"
	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
	"github.com/hybridrag/hybridrag/internal/guard"
	"github.com/hybridrag/hybridrag/internal/llm"
	"github.com/hybridrag/hybridrag/internal/search"
)

// NoDocumentsAnswer is returned when nothing scores above min_score; the
// LLM is never called in that case.
const NoDocumentsAnswer = "No relevant documents were found for this question."

// Source describes one chunk that grounded the answer.
type Source struct {
	ChunkID string  `json:"chunk_id"`
	Path    string  `json:"path"`
	Heading string  `json:"heading,omitempty"`
	Score   float64 `json:"score"`
}

// QueryResult is the structured outcome of one question.
type QueryResult struct {
	AnswerText string   `json:"answer_text"`
	Sources    []Source `json:"sources"`
	TokensIn   int      `json:"tokens_in"`
	TokensOut  int      `json:"tokens_out"`
	LatencyMS  int64    `json:"latency_ms"`
	RetryCount int      `json:"retry_count"`

	// IsSafe is false when the guard replaced or flagged the answer.
	IsSafe bool `json:"is_safe"`

	// Faithfulness is the guard's score, when the guard ran.
	Faithfulness float64 `json:"faithfulness,omitempty"`

	// Err carries the failure for error paths; AnswerText still explains
	// the failure in user-readable form.
	Err error `json:"-"`

	// ErrorCode is the stable code of Err, for structured output.
	ErrorCode string `json:"error_code,omitempty"`

	// EstimatedCost is the token cost estimate in configured units.
	EstimatedCost float64 `json:"estimated_cost"`
}

// Router is the slice of the LLM router the engine needs.
type Router interface {
	Generate(ctx context.Context, req llm.Request) (llm.Response, error)
}

// Verifier is the slice of the guard the engine needs.
type Verifier interface {
	Verify(ctx context.Context, answer string, sources []string) (guard.Assessment, error)
}

// Retriever is the slice of the search layer the engine needs.
type Retriever interface {
	Retrieve(ctx context.Context, queryVec []float32, queryText string) ([]search.ScoredChunk, error)
}

// Engine answers questions end to end.
type Engine struct {
	embedder  embed.Embedder
	retriever Retriever
	router    Router
	guard     Verifier
	hardener  *guard.PromptHardener
	costs     *CostLog
	cfg       *config.Config
	logger    *slog.Logger
}

// New creates an engine. The guard may be nil when disabled.
func New(embedder embed.Embedder, retriever Retriever, router Router, verifier Verifier, costs *CostLog, cfg *config.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		embedder:  embedder,
		retriever: retriever,
		router:    router,
		guard:     verifier,
		hardener:  guard.NewPromptHardener(),
		costs:     costs,
		cfg:       cfg,
		logger:    logger,
	}
}

// Answer handles one question. It never returns an error: failures are
// folded into the result with an explanatory answer text and error code.
func (e *Engine) Answer(ctx context.Context, question string) QueryResult {
	started := time.Now()

	if question == "" {
		return e.failure(started, nil,
			rgerrors.New(rgerrors.ErrCodeQueryEmpty, "question is empty", nil),
			"Please provide a question.")
	}

	queryVec, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return e.failure(started, nil, err,
			"The question could not be embedded; check that the embedding backend is running.")
	}

	hits, err := e.retriever.Retrieve(ctx, queryVec, question)
	if err != nil {
		return e.failure(started, nil, err,
			"Retrieval failed; see the error code for details.")
	}

	sources := toSources(hits)
	if len(hits) == 0 {
		// Deliberate short-circuit: an empty context would only invite
		// fabrication.
		e.logger.Info("query_no_documents", slog.String("question", question))
		return QueryResult{
			AnswerText: NoDocumentsAnswer,
			Sources:    []Source{},
			LatencyMS:  time.Since(started).Milliseconds(),
			IsSafe:     true,
		}
	}

	passages := make([]string, len(hits))
	for i, h := range hits {
		passages[i] = h.Chunk.Text
	}
	prompt := e.hardener.BuildPrompt(question, passages)

	resp, err := e.router.Generate(ctx, llm.Request{
		Prompt:      prompt,
		MaxTokens:   e.cfg.Remote.MaxTokens,
		Temperature: e.cfg.Remote.Temperature,
	})
	if err != nil {
		// The retrieval result is still useful; return it with the error
		// flag rather than pretending partial success.
		return e.failure(started, sources, err,
			"The language model call failed; the retrieved passages are listed in sources.")
	}

	result := QueryResult{
		AnswerText: resp.Text,
		Sources:    sources,
		TokensIn:   resp.TokensIn,
		TokensOut:  resp.TokensOut,
		LatencyMS:  time.Since(started).Milliseconds(),
		RetryCount: resp.RetryCount,
		IsSafe:     true,
	}

	if e.guardApplies() {
		assessment, gerr := e.guard.Verify(ctx, resp.Text, passages)
		if gerr != nil {
			// A broken guard must not silently wave answers through.
			result.IsSafe = false
			result.Err = gerr
			result.ErrorCode = rgerrors.GetCode(gerr)
		} else {
			result.IsSafe = assessment.IsSafe
			result.Faithfulness = assessment.Faithfulness
			if !assessment.IsSafe && e.cfg.Guard.FailureAction == config.FailureBlock {
				result.AnswerText = assessment.SafeResponse
			}
		}
	}

	result.EstimatedCost = e.recordCost(question, result)
	result.LatencyMS = time.Since(started).Milliseconds()

	e.logger.Info("query_answered",
		slog.Int("sources", len(sources)),
		slog.Int("tokens_in", result.TokensIn),
		slog.Int("tokens_out", result.TokensOut),
		slog.Bool("is_safe", result.IsSafe),
		slog.Int64("latency_ms", result.LatencyMS))

	return result
}

// guardApplies reports whether the guard runs for this configuration:
// enabled, constructed, and the mode is online.
func (e *Engine) guardApplies() bool {
	return e.guard != nil && e.cfg.Guard.Enabled && e.cfg.Security.Mode == config.ModeOnline
}

// failure folds an error into a structured result.
func (e *Engine) failure(started time.Time, sources []Source, err error, explanation string) QueryResult {
	e.logger.Warn("query_failed",
		slog.String("error_code", rgerrors.GetCode(err)),
		slog.String("error", err.Error()))
	if sources == nil {
		sources = []Source{}
	}
	return QueryResult{
		AnswerText: explanation,
		Sources:    sources,
		LatencyMS:  time.Since(started).Milliseconds(),
		IsSafe:     false,
		Err:        err,
		ErrorCode:  rgerrors.GetCode(err),
	}
}

// recordCost estimates and logs the token cost of a completed query.
func (e *Engine) recordCost(question string, result QueryResult) float64 {
	cost := float64(result.TokensIn)/1000*e.cfg.Cost.InputPer1K +
		float64(result.TokensOut)/1000*e.cfg.Cost.OutputPer1K
	if e.costs != nil {
		e.costs.Record(CostEntry{
			Timestamp: time.Now().UTC(),
			Question:  question,
			TokensIn:  result.TokensIn,
			TokensOut: result.TokensOut,
			Cost:      cost,
		})
	}
	return cost
}

// toSources converts retrieval hits to result sources.
func toSources(hits []search.ScoredChunk) []Source {
	out := make([]Source, len(hits))
	for i, h := range hits {
		out[i] = Source{
			ChunkID: h.Chunk.ID,
			Path:    h.Chunk.Source,
			Heading: h.Chunk.Heading,
			Score:   h.Score,
		}
	}
	return out
}
