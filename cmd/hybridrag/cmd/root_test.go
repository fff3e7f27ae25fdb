package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridrag/hybridrag/internal/config"
	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
)

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

// cliEnv writes a config file pointing at temp directories and returns the
// common flags for invoking commands against it.
func cliEnv(t *testing.T) (flags []string, srcDir string) {
	t.Helper()
	dataDir := t.TempDir()
	srcDir = t.TempDir()

	cfgPath := filepath.Join(dataDir, "config.yaml")
	cfgYAML := fmt.Sprintf("paths:\n  source_folder: %s\nlocal_backend:\n  base_url: http://127.0.0.1:1\n", srcDir)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o644))

	return []string{"--config", cfgPath, "--data-dir", dataDir, "--offline"}, srcDir
}

func TestExitCode_Mapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"config", rgerrors.New(rgerrors.ErrCodeConfigInvalid, "bad config", nil), ExitConfig},
		{"config missing", rgerrors.New(rgerrors.ErrCodeConfigNotFound, "no file", nil), ExitConfig},
		{"credential", rgerrors.CredentialError("no key", nil), ExitCredential},
		{"keystore", rgerrors.New(rgerrors.ErrCodeKeystoreUnavailable, "locked", nil), ExitCredential},
		{"gate denial", rgerrors.NetworkBlocked("https://x", "offline"), ExitNetGate},
		{"backend down", rgerrors.New(rgerrors.ErrCodeBackendUnavailable, "down", nil), ExitBackend},
		{"store corrupt", rgerrors.StoreCorruption("broken", nil), ExitGeneric},
		{"plain error", errors.New("anything"), ExitGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestIndexThenStatus(t *testing.T) {
	flags, srcDir := cliEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "doc.txt"),
		[]byte("The service valve opens at 3 bar."), 0o644))

	out, _, err := runCLI(t, append([]string{"index"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "doc.txt")
	assert.Contains(t, out, "files indexed: 1")

	out, _, err = runCLI(t, append([]string{"status"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "mode: offline")
	assert.Contains(t, out, "sources: 1")
}

func TestQuery_EmptyStoreReturnsNoDocuments(t *testing.T) {
	flags, _ := cliEnv(t)

	out, _, err := runCLI(t, append([]string{"query", "what", "is", "this"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "No relevant documents")
}

func TestQuery_JSONOutput(t *testing.T) {
	flags, _ := cliEnv(t)

	out, _, err := runCLI(t, append([]string{"query", "--json", "anything"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, `"answer_text"`)
	assert.Contains(t, out, `"is_safe": true`)
}

func TestDiag_RunsSelfTest(t *testing.T) {
	flags, _ := cliEnv(t)

	out, _, err := runCLI(t, append([]string{"diag"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "guard self-test: ok")
	assert.Contains(t, out, "credential sources:")
}

func TestProfileSwitch_PersistsMode(t *testing.T) {
	t.Setenv("HYBRIDRAG_API_KEY", "")
	t.Setenv("HYBRIDRAG_API_ENDPOINT", "")
	flags, _ := cliEnv(t)
	cfgPath := flags[1]

	out, errOut, err := runCLI(t, append([]string{"profile-switch", "online"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "mode set to online")
	assert.Contains(t, errOut, "credentials are incomplete")

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, config.ModeOnline, cfg.Security.Mode)

	out, errOut, err = runCLI(t, append([]string{"profile-switch", "offline"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "mode set to offline")
	assert.NotContains(t, errOut, "credentials")

	cfg, err = config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, config.ModeOffline, cfg.Security.Mode)
}

func TestProfileSwitch_RejectsUnknownMode(t *testing.T) {
	flags, _ := cliEnv(t)

	_, _, err := runCLI(t, append([]string{"profile-switch", "turbo"}, flags...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "turbo")
}

func TestProfileSwitch_RequiresConfigFile(t *testing.T) {
	_, _, err := runCLI(t, "profile-switch", "offline")
	require.Error(t, err)
	assert.Equal(t, ExitConfig, ExitCode(err))
}

func TestVersionFlag(t *testing.T) {
	out, _, err := runCLI(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "hybridrag version")
}
