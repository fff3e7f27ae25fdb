package guard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
	"github.com/hybridrag/hybridrag/internal/llm"
)

// cannedBackend returns a fixed answer or error.
type cannedBackend struct {
	name   string
	answer string
	err    error
	calls  int
}

func (b *cannedBackend) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	b.calls++
	if b.err != nil {
		return llm.Response{}, b.err
	}
	return llm.Response{Text: b.answer, Backend: b.name}, nil
}

func (b *cannedBackend) Name() string                       { return b.name }
func (b *cannedBackend) Available(ctx context.Context) bool { return true }
func (b *cannedBackend) Close() error                       { return nil }

func TestDualPath_AgreementKeepsPrimaryAnswer(t *testing.T) {
	primary := &cannedBackend{name: "remote", answer: "The relief valve opens at 12 bar."}
	secondary := &cannedBackend{name: "local", answer: "At 12 bar the relief valve opens."}

	d := NewDualPathChecker(primary, secondary)
	resp, agreed, err := d.Ask(context.Background(), llm.Request{Prompt: "q"})
	require.NoError(t, err)
	assert.True(t, agreed)
	assert.Equal(t, primary.answer, resp.Text)
}

func TestDualPath_DisagreementSubstitutesRefusal(t *testing.T) {
	primary := &cannedBackend{name: "remote", answer: "The relief valve opens at 12 bar."}
	secondary := &cannedBackend{name: "local", answer: "Lubricate the bearing housing monthly."}

	d := NewDualPathChecker(primary, secondary)
	resp, agreed, err := d.Ask(context.Background(), llm.Request{Prompt: "q"})
	require.NoError(t, err)
	assert.False(t, agreed)
	assert.Equal(t, RefusalPhrase, resp.Text)
}

func TestDualPath_SecondaryFailureKeepsPrimary(t *testing.T) {
	primary := &cannedBackend{name: "remote", answer: "The relief valve opens at 12 bar."}
	secondary := &cannedBackend{
		name: "local",
		err:  rgerrors.New(rgerrors.ErrCodeBackendUnavailable, "down", nil),
	}

	d := NewDualPathChecker(primary, secondary)
	resp, agreed, err := d.Ask(context.Background(), llm.Request{Prompt: "q"})
	require.NoError(t, err)
	assert.False(t, agreed, "no cross-check happened")
	assert.Equal(t, primary.answer, resp.Text)
}

func TestDualPath_PrimaryFailurePropagates(t *testing.T) {
	primary := &cannedBackend{
		name: "remote",
		err:  rgerrors.New(rgerrors.ErrCodeTimeout, "timed out", nil),
	}
	secondary := &cannedBackend{name: "local", answer: "anything"}

	d := NewDualPathChecker(primary, secondary)
	_, _, err := d.Ask(context.Background(), llm.Request{Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, rgerrors.ErrCodeTimeout, rgerrors.GetCode(err))
	assert.Equal(t, 0, secondary.calls, "the secondary is not consulted without a primary answer")
}

func TestHTTPNLI_ParsesJSONVerdict(t *testing.T) {
	backend := &cannedBackend{
		name:   "local",
		answer: `Here is my verdict: {"entailment": 0.8, "neutral": 0.15, "contradiction": 0.05}`,
	}

	m := NewHTTPNLI(backend)
	probs, err := m.Classify(context.Background(), "the pump runs at 1450 rpm", "the pump runs at 1450 rpm")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, probs.Entailment, 1e-9)
	assert.InDelta(t, 0.05, probs.Contradiction, 1e-9)
}

func TestHTTPNLI_NonJSONVerdictIsInvalidResponse(t *testing.T) {
	backend := &cannedBackend{name: "local", answer: "I think the premise supports it."}

	m := NewHTTPNLI(backend)
	_, err := m.Classify(context.Background(), "premise", "hypothesis")
	require.Error(t, err)
	assert.Equal(t, rgerrors.ErrCodeInvalidResponse, rgerrors.GetCode(err))
}

func TestHTTPNLI_BackendFailureIsNLIUnavailable(t *testing.T) {
	backend := &cannedBackend{
		name: "local",
		err:  rgerrors.New(rgerrors.ErrCodeBackendUnavailable, "down", nil),
	}

	m := NewHTTPNLI(backend)
	_, err := m.Classify(context.Background(), "premise", "hypothesis")
	require.Error(t, err)
	assert.Equal(t, rgerrors.ErrCodeNLIUnavailable, rgerrors.GetCode(err))
}
