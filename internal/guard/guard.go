package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/hybridrag/hybridrag/internal/config"
	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
)

// Per-claim verdicts.
const (
	VerdictSupported    = "supported"
	VerdictContradicted = "contradicted"
	VerdictUnverified   = "unverified"
)

// Verdict thresholds on NLI probabilities.
const (
	entailmentThreshold    = 0.5
	contradictionThreshold = 0.5
)

// ClaimResult is one claim with its verdict.
type ClaimResult struct {
	Claim   string
	Verdict string

	// BestEntailment and BestContradiction are the strongest per-chunk
	// probabilities observed for the claim.
	BestEntailment    float64
	BestContradiction float64
}

// Assessment is the guard's judgment of one response.
type Assessment struct {
	// IsSafe is true when the response has no contradicted claims and its
	// faithfulness meets the threshold.
	IsSafe bool

	// Faithfulness is supported claims / total claims, in [0, 1].
	Faithfulness float64

	Claims  []ClaimResult
	Flagged []ClaimResult

	// SafeResponse is the rewrite to use instead of the original answer.
	// Set exactly when IsSafe is false.
	SafeResponse string
}

// Guard is the hallucination guard pipeline.
type Guard struct {
	cfg       config.GuardConfig
	extractor *ClaimExtractor
	model     NLIModel
	logger    *slog.Logger
}

// New creates a guard with the given NLI model.
func New(cfg config.GuardConfig, model NLIModel, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		cfg:       cfg,
		extractor: NewClaimExtractor(),
		model:     model,
		logger:    logger,
	}
}

// Verify assesses a response against the source chunks it was generated
// from. A refusal is always safe: refusing is the behavior the rules ask
// for when the context is insufficient.
func (g *Guard) Verify(ctx context.Context, answer string, sources []string) (Assessment, error) {
	if strings.Contains(answer, RefusalPhrase) {
		return Assessment{IsSafe: true, Faithfulness: 1}, nil
	}

	claims := g.extractor.Extract(answer)
	if len(claims) == 0 {
		return Assessment{IsSafe: true, Faithfulness: 1}, nil
	}

	results, earlyFail, err := g.verifyClaims(ctx, claims, sources)
	if err != nil {
		return Assessment{}, err
	}

	var supported, contradicted int
	for _, r := range results {
		switch r.Verdict {
		case VerdictSupported:
			supported++
		case VerdictContradicted:
			contradicted++
		}
	}
	faithfulness := float64(supported) / float64(len(results))

	// The safety determination and the rewrite trigger are the SAME
	// condition. Keeping them as one expression is load-bearing: earlier
	// designs computed them separately and let contradicted claims
	// through.
	safe := !earlyFail && contradicted == 0 && faithfulness >= g.cfg.FaithfulnessThreshold

	assessment := Assessment{
		IsSafe:       safe,
		Faithfulness: faithfulness,
		Claims:       results,
	}
	for _, r := range results {
		if r.Verdict != VerdictSupported {
			assessment.Flagged = append(assessment.Flagged, r)
		}
	}
	if !safe {
		assessment.SafeResponse = buildSafeResponse(results)
	}

	g.logger.Info("guard_verdict",
		slog.Bool("is_safe", safe),
		slog.Float64("faithfulness", faithfulness),
		slog.Int("claims", len(results)),
		slog.Int("contradicted", contradicted))

	return assessment, nil
}

// verifyClaims runs NLI per claim against the pruned source set, with
// short-circuiting in both directions.
func (g *Guard) verifyClaims(ctx context.Context, claims []string, sources []string) ([]ClaimResult, bool, error) {
	results := make([]ClaimResult, 0, len(claims))
	passStreak := 0
	failCount := 0

	for i, claim := range claims {
		premises := pruneSources(claim, sources, g.cfg.ChunkPruneK)

		r := ClaimResult{Claim: claim, Verdict: VerdictUnverified}
		for _, premise := range premises {
			probs, err := g.model.Classify(ctx, premise, claim)
			if err != nil {
				return nil, false, err
			}
			if probs.Entailment > r.BestEntailment {
				r.BestEntailment = probs.Entailment
			}
			if probs.Contradiction > r.BestContradiction {
				r.BestContradiction = probs.Contradiction
			}
		}

		switch {
		case r.BestContradiction >= contradictionThreshold && r.BestContradiction > r.BestEntailment:
			r.Verdict = VerdictContradicted
		case r.BestEntailment >= entailmentThreshold:
			r.Verdict = VerdictSupported
		}
		results = append(results, r)

		switch r.Verdict {
		case VerdictContradicted:
			passStreak = 0
			failCount++
			if g.cfg.ShortCircuitFailCount > 0 && failCount >= g.cfg.ShortCircuitFailCount {
				// The response is already unsafe; skip the remaining NLI
				// calls and leave the rest unverified.
				for _, rest := range claims[i+1:] {
					results = append(results, ClaimResult{Claim: rest, Verdict: VerdictUnverified})
				}
				return results, true, nil
			}
		case VerdictSupported:
			passStreak++
			if g.cfg.ShortCircuitPassCount > 0 && passStreak >= g.cfg.ShortCircuitPassCount && failCount == 0 && i+1 < len(claims) {
				for _, rest := range claims[i+1:] {
					results = append(results, ClaimResult{Claim: rest, Verdict: VerdictSupported})
				}
				return results, false, nil
			}
		default:
			passStreak = 0
		}
	}
	return results, false, nil
}

// pruneSources keeps the top-k sources by lexical overlap with the claim,
// for performance. k <= 0 keeps everything.
func pruneSources(claim string, sources []string, k int) []string {
	if k <= 0 || len(sources) <= k {
		return sources
	}
	claimTerms, _, _ := analyze(claim)

	type scored struct {
		idx     int
		overlap int
	}
	ranked := make([]scored, len(sources))
	for i, s := range sources {
		terms, _, _ := analyze(s)
		var overlap int
		for t := range claimTerms {
			if terms[t] {
				overlap++
			}
		}
		ranked[i] = scored{idx: i, overlap: overlap}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].overlap > ranked[j].overlap
	})

	out := make([]string, 0, k)
	for _, r := range ranked[:k] {
		out = append(out, sources[r.idx])
	}
	return out
}

// buildSafeResponse composes the rewrite from supported claims only, or
// falls back to the refusal phrase when nothing survives.
func buildSafeResponse(results []ClaimResult) string {
	var supported []string
	for _, r := range results {
		if r.Verdict == VerdictSupported {
			supported = append(supported, r.Claim)
		}
	}
	if len(supported) == 0 {
		return RefusalPhrase
	}
	return "Based on the provided documents, the verifiable statements are:\n- " +
		strings.Join(supported, "\n- ") +
		"\n\nOther parts of the draft answer could not be verified against the documents and were removed."
}

// SelfTest is a fast structural check: no model load, no network. It
// builds the pipeline with the lexical NLI model and verifies that a
// trivially supported claim scores as safe. CLI entry points honor its
// result.
func SelfTest(cfg config.GuardConfig) error {
	g := New(cfg, NewLexicalNLI(), slog.New(slog.DiscardHandler))

	source := "The maximum operating temperature of the unit is 85 degrees celsius."
	answer := "The maximum operating temperature of the unit is 85 degrees celsius."

	assessment, err := g.Verify(context.Background(), answer, []string{source})
	if err != nil {
		return rgerrors.New(rgerrors.ErrCodeGuardBlocked, "guard self-test errored", err)
	}
	if !assessment.IsSafe {
		return rgerrors.New(rgerrors.ErrCodeGuardBlocked,
			fmt.Sprintf("guard self-test scored %.2f below threshold %.2f",
				assessment.Faithfulness, cfg.FaithfulnessThreshold), nil).
			WithRemedy("check guard.faithfulness_threshold; the pipeline rejected a trivially supported claim")
	}
	return nil
}
