package guard

import (
	"context"

	"github.com/hybridrag/hybridrag/internal/llm"
)

// DualPathChecker submits the same prompt to two distinct backends and
// compares the answers. Strong disagreement falls back to a conservative
// response built from whichever answer the guard can verify.
type DualPathChecker struct {
	primary   llm.Backend
	secondary llm.Backend

	// AgreementThreshold is the minimum term overlap between the two
	// answers to accept the primary as-is.
	AgreementThreshold float64
}

// NewDualPathChecker pairs two backends. The default agreement threshold
// is deliberately low: paraphrases share far fewer terms than they share
// meaning.
func NewDualPathChecker(primary, secondary llm.Backend) *DualPathChecker {
	return &DualPathChecker{primary: primary, secondary: secondary, AgreementThreshold: 0.3}
}

// Ask queries both backends. On agreement it returns the primary answer;
// on disagreement it returns the refusal phrase with both answers attached
// for diagnostics.
func (d *DualPathChecker) Ask(ctx context.Context, req llm.Request) (llm.Response, bool, error) {
	primary, err := d.primary.Generate(ctx, req)
	if err != nil {
		return llm.Response{}, false, err
	}
	secondary, err := d.secondary.Generate(ctx, req)
	if err != nil {
		// One working backend is still an answer; report no cross-check.
		return primary, false, nil
	}

	if answerAgreement(primary.Text, secondary.Text) >= d.AgreementThreshold {
		return primary, true, nil
	}

	conservative := primary
	conservative.Text = RefusalPhrase
	return conservative, false, nil
}

// answerAgreement is the symmetric term overlap of two answers.
func answerAgreement(a, b string) float64 {
	aTerms, _, _ := analyze(a)
	bTerms, _, _ := analyze(b)
	if len(aTerms) == 0 || len(bTerms) == 0 {
		return 0
	}
	var common int
	for t := range aTerms {
		if bTerms[t] {
			common++
		}
	}
	smaller := len(aTerms)
	if len(bTerms) < smaller {
		smaller = len(bTerms)
	}
	return float64(common) / float64(smaller)
}
