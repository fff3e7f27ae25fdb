// Package guard reduces the risk that a model response contains statements
// unsupported by the retrieved context. It layers a prompt hardener, a
// deterministic claim extractor, an NLI verifier, response scoring, and a
// safe-rewrite step.
package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
	"github.com/hybridrag/hybridrag/internal/llm"
)

// Probs are NLI class probabilities for one (premise, hypothesis) pair.
type Probs struct {
	Entailment    float64
	Neutral       float64
	Contradiction float64
}

// NLIModel classifies whether a premise entails a hypothesis.
type NLIModel interface {
	Classify(ctx context.Context, premise, hypothesis string) (Probs, error)
}

// LazyModel defers model construction to first use. Concurrent verifiers
// share one load; the loader runs under a mutex.
type LazyModel struct {
	mu     sync.Mutex
	loaded NLIModel
	err    error
	load   func() (NLIModel, error)
}

// Verify interface implementation at compile time.
var _ NLIModel = (*LazyModel)(nil)

// NewLazyModel wraps a loader.
func NewLazyModel(load func() (NLIModel, error)) *LazyModel {
	return &LazyModel{load: load}
}

// Classify loads the model on first use, then delegates.
func (l *LazyModel) Classify(ctx context.Context, premise, hypothesis string) (Probs, error) {
	l.mu.Lock()
	if l.loaded == nil && l.err == nil {
		l.loaded, l.err = l.load()
	}
	model, err := l.loaded, l.err
	l.mu.Unlock()

	if err != nil {
		return Probs{}, rgerrors.New(rgerrors.ErrCodeNLIUnavailable,
			"NLI model failed to load", err)
	}
	return model.Classify(ctx, premise, hypothesis)
}

// negationMarkers flag polarity in lexical entailment.
var negationMarkers = map[string]bool{
	"not": true, "no": true, "never": true, "cannot": true,
	"without": true, "isn": true, "aren": true, "don": true,
	"doesn": true, "didn": true, "won": true, "wasn": true,
}

// nliStopWords are excluded from overlap scoring.
var nliStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"of": true, "in": true, "on": true, "at": true, "to": true,
	"is": true, "are": true, "was": true, "be": true, "it": true,
	"for": true, "with": true, "as": true, "by": true, "that": true,
	"this": true, "its": true,
}

var nliTokenRegex = regexp.MustCompile(`[\pL\pN.]+`)
var numberRegex = regexp.MustCompile(`^\d+(\.\d+)?$`)

// LexicalNLI is a deterministic entailment model based on content-term
// coverage with polarity and numeric-value checks. It backs fully offline
// operation and the structural self-test; no model load, no network.
type LexicalNLI struct{}

// Verify interface implementation at compile time.
var _ NLIModel = (*LexicalNLI)(nil)

// NewLexicalNLI creates the lexical model.
func NewLexicalNLI() *LexicalNLI {
	return &LexicalNLI{}
}

// Classify scores how well the premise covers the hypothesis's content
// terms. A polarity flip or a numeric value absent from the premise turns
// coverage into contradiction evidence.
func (m *LexicalNLI) Classify(ctx context.Context, premise, hypothesis string) (Probs, error) {
	premTerms, premNums, premNeg := analyze(premise)
	hypTerms, hypNums, hypNeg := analyze(hypothesis)

	if len(hypTerms) == 0 {
		return Probs{Neutral: 1}, nil
	}

	var covered int
	for t := range hypTerms {
		if premTerms[t] {
			covered++
		}
	}
	coverage := float64(covered) / float64(len(hypTerms))

	conflict := premNeg != hypNeg
	if !conflict && len(hypNums) > 0 && len(premNums) > 0 {
		for n := range hypNums {
			if !premNums[n] {
				conflict = true
				break
			}
		}
	}

	if conflict {
		return Probs{Contradiction: coverage, Neutral: 1 - coverage}, nil
	}
	return Probs{Entailment: coverage, Neutral: 1 - coverage}, nil
}

// analyze extracts content terms, numeric values, and polarity.
func analyze(text string) (terms, nums map[string]bool, negated bool) {
	terms = make(map[string]bool)
	nums = make(map[string]bool)
	for _, raw := range nliTokenRegex.FindAllString(strings.ToLower(text), -1) {
		tok := strings.Trim(raw, ".")
		if tok == "" {
			continue
		}
		if negationMarkers[tok] {
			negated = true
			continue
		}
		if nliStopWords[tok] {
			continue
		}
		if numberRegex.MatchString(tok) {
			nums[tok] = true
		}
		terms[tok] = true
	}
	return terms, nums, negated
}

// HTTPNLI runs NLI through an LLM backend with a strict JSON-verdict
// prompt. Used when a local inference server is available.
type HTTPNLI struct {
	backend llm.Backend
}

// Verify interface implementation at compile time.
var _ NLIModel = (*HTTPNLI)(nil)

// NewHTTPNLI wraps an LLM backend as an NLI model.
func NewHTTPNLI(backend llm.Backend) *HTTPNLI {
	return &HTTPNLI{backend: backend}
}

const nliPromptTemplate = `You are a natural language inference classifier.
Given a premise and a hypothesis, respond with ONLY a JSON object of the
form {"entailment": E, "neutral": N, "contradiction": C} where the three
numbers are probabilities summing to 1.

Premise: %s
Hypothesis: %s

JSON:`

// Classify prompts the backend and parses the JSON verdict.
func (m *HTTPNLI) Classify(ctx context.Context, premise, hypothesis string) (Probs, error) {
	resp, err := m.backend.Generate(ctx, llm.Request{
		Prompt:      fmt.Sprintf(nliPromptTemplate, premise, hypothesis),
		MaxTokens:   128,
		Temperature: 0,
	})
	if err != nil {
		return Probs{}, rgerrors.New(rgerrors.ErrCodeNLIUnavailable,
			"NLI backend call failed", err)
	}

	raw := extractJSONObject(resp.Text)
	var parsed struct {
		Entailment    float64 `json:"entailment"`
		Neutral       float64 `json:"neutral"`
		Contradiction float64 `json:"contradiction"`
	}
	if raw == "" || json.Unmarshal([]byte(raw), &parsed) != nil {
		return Probs{}, rgerrors.New(rgerrors.ErrCodeInvalidResponse,
			"NLI backend returned a non-JSON verdict", nil).
			WithDetail("text", resp.Text)
	}
	return Probs{
		Entailment:    parsed.Entailment,
		Neutral:       parsed.Neutral,
		Contradiction: parsed.Contradiction,
	}, nil
}

// extractJSONObject pulls the first {...} span out of model chatter.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
