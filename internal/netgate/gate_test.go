package netgate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridrag/hybridrag/internal/config"
	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
)

func TestGate_OfflineAllowsLoopbackOnly(t *testing.T) {
	sink := NewMemorySink()
	g := New(sink, nil)
	g.Configure(config.ModeOffline, nil)

	tests := []struct {
		url     string
		allowed bool
	}{
		{"http://127.0.0.1:11434/api/generate", true},
		{"http://localhost:11434/api/embed", true},
		{"http://[::1]:8080/", true},
		{"https://api.example.com/v1/chat", false},
		{"https://huggingface.co/models", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.allowed, g.IsAllowed(tt.url), "url %s", tt.url)
	}
}

func TestGate_OnlineAllowsConfiguredEndpoint(t *testing.T) {
	g := New(NewMemorySink(), nil)
	g.Configure(config.ModeOnline, []string{"https://api.example.com"})

	assert.True(t, g.IsAllowed("https://api.example.com/v1/chat/completions"))
	assert.True(t, g.IsAllowed("https://API.EXAMPLE.COM/v1/chat")) // case-insensitive host
	assert.True(t, g.IsAllowed("http://127.0.0.1:11434/api/generate"))
	assert.False(t, g.IsAllowed("https://other.example.com/v1"))
}

func TestGate_PortMustMatchWhenSpecified(t *testing.T) {
	g := New(NewMemorySink(), nil)
	g.Configure(config.ModeOnline, []string{"https://api.example.com:8443"})

	assert.True(t, g.IsAllowed("https://api.example.com:8443/v1"))
	assert.False(t, g.IsAllowed("https://api.example.com:9000/v1"))
}

func TestGate_AdminAllowsEverythingButAudits(t *testing.T) {
	sink := NewMemorySink()
	g := New(sink, nil)
	g.Configure(config.ModeAdmin, nil)

	require.NoError(t, g.CheckAllowed("https://pypi.org/simple", "package install", "admin-cli"))

	recs := sink.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, DecisionAllow, recs[0].Decision)
	assert.Equal(t, "admin", recs[0].Mode)
	assert.Equal(t, "package install", recs[0].Purpose)
}

func TestGate_MalformedURLDenied(t *testing.T) {
	g := New(NewMemorySink(), nil)
	g.Configure(config.ModeAdmin, nil)

	// Even admin mode rejects URLs the policy cannot parse.
	assert.False(t, g.IsAllowed("not a url"))
	assert.False(t, g.IsAllowed("ftp://files.example.com/x"))
	assert.False(t, g.IsAllowed(""))
}

func TestGate_CheckAllowedDenialIsNetworkBlocked(t *testing.T) {
	sink := NewMemorySink()
	g := New(sink, nil)
	g.Configure(config.ModeOffline, nil)

	err := g.CheckAllowed("https://api.example.com/v1/chat", "llm call", "router")
	require.Error(t, err)
	assert.Equal(t, rgerrors.ErrCodeNetworkBlocked, rgerrors.GetCode(err))

	recs := sink.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, DecisionDeny, recs[0].Decision)
	assert.Equal(t, "llm call", recs[0].Purpose)
	assert.Equal(t, "router", recs[0].Caller)
}

func TestGate_EveryCallAudited(t *testing.T) {
	sink := NewMemorySink()
	g := New(sink, nil)
	g.Configure(config.ModeOnline, []string{"https://api.example.com"})

	_ = g.CheckAllowed("https://api.example.com/v1", "a", "x")
	_ = g.CheckAllowed("https://evil.example.com/v1", "b", "y")
	_ = g.IsAllowed("http://localhost:11434/")

	recs := sink.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, DecisionAllow, recs[0].Decision)
	assert.Equal(t, DecisionDeny, recs[1].Decision)
	assert.Equal(t, DecisionAllow, recs[2].Decision)
}

func TestGate_ConfigureDropsBadEndpoints(t *testing.T) {
	g := New(NewMemorySink(), nil)
	g.Configure(config.ModeOnline, []string{"", "https://api.example.com"})

	assert.True(t, g.IsAllowed("https://api.example.com/v1"))
}

func TestGate_BareHostEndpoint(t *testing.T) {
	g := New(NewMemorySink(), nil)
	g.Configure(config.ModeOnline, []string{"api.example.com"})

	assert.True(t, g.IsAllowed("https://api.example.com/v1/chat"))
}

func TestJSONLSink_AppendsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewJSONLSink(path)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	g := New(sink, nil)
	g.Configure(config.ModeOffline, nil)
	_ = g.IsAllowed("https://api.example.com/")
	_ = g.IsAllowed("http://127.0.0.1/")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"decision":"deny"`)
	assert.Contains(t, string(data), `"decision":"allow"`)
}
