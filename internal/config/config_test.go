package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
)

func TestNewConfig_DefaultsValidate(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1200, cfg.Chunking.ChunkSize)
	assert.Equal(t, 200, cfg.Chunking.Overlap)
	assert.Equal(t, 60, cfg.Retrieval.RRFK)
	assert.Equal(t, ModeOffline, cfg.Security.Mode)
	assert.False(t, cfg.Retrieval.RerankerEnabled)
}

func TestParse_OverridesDefaults(t *testing.T) {
	data := []byte(`
chunking:
  chunk_size: 800
  overlap: 100
retrieval:
  top_k: 10
security:
  mode: online
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, 800, cfg.Chunking.ChunkSize)
	assert.Equal(t, 100, cfg.Chunking.Overlap)
	assert.Equal(t, 10, cfg.Retrieval.TopK)
	assert.Equal(t, ModeOnline, cfg.Security.Mode)
	// Untouched sections keep defaults
	assert.Equal(t, 60, cfg.Retrieval.RRFK)
}

func TestParse_RejectsUnknownTopLevelKey(t *testing.T) {
	data := []byte(`
chunking:
  chunk_size: 800
telemetry:
  enabled: true
`)
	_, err := Parse(data)
	require.Error(t, err)
	assert.Equal(t, rgerrors.ErrCodeConfigUnknownKey, rgerrors.GetCode(err))
	assert.Contains(t, err.Error(), "telemetry")
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse([]byte("chunking: [unclosed"))
	require.Error(t, err)
	assert.Equal(t, rgerrors.ErrCodeConfigInvalid, rgerrors.GetCode(err))
}

func TestValidate_GuardThreshold(t *testing.T) {
	tests := []struct {
		name      string
		threshold float64
		wantErr   bool
	}{
		{"zero", 0, false},
		{"one", 1, false},
		{"mid", 0.7, false},
		{"negative", -0.1, true},
		{"above one", 1.1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.Guard.FaithfulnessThreshold = tt.threshold
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, rgerrors.ErrCodeConfigInvalid, rgerrors.GetCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_GuardThresholdNaN(t *testing.T) {
	data := []byte(`
guard:
  faithfulness_threshold: .nan
`)
	_, err := Parse(data)
	require.Error(t, err)
}

func TestValidate_ChunkingBounds(t *testing.T) {
	cfg := NewConfig()
	cfg.Chunking.Overlap = cfg.Chunking.ChunkSize
	require.Error(t, cfg.Validate())

	cfg = NewConfig()
	cfg.Chunking.ChunkSize = 0
	require.Error(t, cfg.Validate())
}

func TestValidate_SecurityMode(t *testing.T) {
	cfg := NewConfig()
	cfg.Security.Mode = "unrestricted"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "security.mode")
}

func TestValidate_FailureAction(t *testing.T) {
	cfg := NewConfig()
	cfg.Guard.FailureAction = "panic"
	require.Error(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, rgerrors.ErrCodeConfigNotFound, rgerrors.GetCode(err))
}

func TestLoadOrDefault_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1200, cfg.Chunking.ChunkSize)
}

func TestLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
paths:
  database_file: chunks.db
  vector_matrix_file: vectors.bin
  vector_meta_file: vectors_meta.json
  source_folder: ./docs
remote_api:
  endpoint: https://api.example.com
  deployment: gpt-4o
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "./docs", cfg.Paths.SourceFolder)
	assert.Equal(t, "gpt-4o", cfg.Remote.Deployment)
}

func TestResolveDataPaths(t *testing.T) {
	cfg := NewConfig()
	cfg.ResolveDataPaths("/data/rag")
	assert.Equal(t, filepath.Join("/data/rag", "chunks.db"), cfg.Paths.DatabaseFile)
	assert.Equal(t, filepath.Join("/data/rag", "vectors.bin"), cfg.Paths.VectorMatrixFile)
	assert.Equal(t, filepath.Join("/data/rag", "vectors_meta.json"), cfg.Paths.VectorMetaFile)
}
