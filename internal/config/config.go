// Package config provides the HybridRAG configuration model: a nested YAML
// file with sections for paths, embedding, chunking, retrieval, backends,
// security, hallucination guard, and cost tracking. Validation happens at
// boot, section by section; unknown top-level keys are rejected.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
)

// Mode is the security mode of the engine.
type Mode string

const (
	// ModeOffline allows only loopback traffic.
	ModeOffline Mode = "offline"
	// ModeOnline allows loopback plus the configured API endpoint.
	ModeOnline Mode = "online"
	// ModeAdmin is unrestricted. Never the default; reserved for explicit
	// maintenance operations.
	ModeAdmin Mode = "admin"
)

// FailureAction is what the guard does when a response fails verification.
type FailureAction string

const (
	// FailureWarn surfaces the flagged claims but keeps the original answer.
	FailureWarn FailureAction = "warn"
	// FailureBlock replaces the answer with the safe rewrite.
	FailureBlock FailureAction = "block"
)

// Config represents the complete HybridRAG configuration.
type Config struct {
	Paths     PathsConfig     `yaml:"paths"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Local     LocalConfig     `yaml:"local_backend"`
	Remote    RemoteConfig    `yaml:"remote_api"`
	Security  SecurityConfig  `yaml:"security"`
	Guard     GuardConfig     `yaml:"guard"`
	Cost      CostConfig      `yaml:"cost"`
}

// PathsConfig locates the persistent store and the source folder.
type PathsConfig struct {
	DatabaseFile     string `yaml:"database_file"`
	VectorMatrixFile string `yaml:"vector_matrix_file"`
	VectorMetaFile   string `yaml:"vector_meta_file"`
	SourceFolder     string `yaml:"source_folder"`
}

// EmbeddingConfig configures the embedding model.
// Dimension is auto-detected from the embedder at load time and validated
// against the stored matrix; it is never hard-coded.
type EmbeddingConfig struct {
	ModelName string `yaml:"model_name"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
	Device    string `yaml:"device"`
}

// ChunkingConfig configures the overlapping chunker.
type ChunkingConfig struct {
	ChunkSize     int `yaml:"chunk_size"`
	Overlap       int `yaml:"overlap"`
	MaxHeadingLen int `yaml:"max_heading_len"`
}

// RetrievalConfig configures hybrid search.
type RetrievalConfig struct {
	TopK            int     `yaml:"top_k"`
	MinScore        float64 `yaml:"min_score"`
	HybridSearch    bool    `yaml:"hybrid_search"`
	RRFK            int     `yaml:"rrf_k"`
	RerankerEnabled bool    `yaml:"reranker_enabled"`
	RerankerTopN    int     `yaml:"reranker_top_n"`
	// ANNEnabled builds an in-memory HNSW graph over the matrix at open.
	// Opt-in; brute-force block scan remains the default.
	ANNEnabled bool `yaml:"ann_enabled"`
	// BlockSize is the number of matrix rows scanned per block.
	BlockSize int `yaml:"block_size"`
}

// LocalConfig configures the local inference backend.
type LocalConfig struct {
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
	ContextWindow  int     `yaml:"context_window"`
}

// RemoteConfig configures the remote API backend.
type RemoteConfig struct {
	Endpoint       string  `yaml:"endpoint"`
	Model          string  `yaml:"model"`
	Deployment     string  `yaml:"deployment"`
	APIVersion     string  `yaml:"api_version"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
	// APIKey may be set in the config file as a last-resort source.
	// The resolver logs a warning when it is used.
	APIKey string `yaml:"api_key"`
}

// SecurityConfig configures the network gate and audit logging.
type SecurityConfig struct {
	Mode            Mode `yaml:"mode"`
	AuditLogging    bool `yaml:"audit_logging"`
	PIISanitization bool `yaml:"pii_sanitization"`
}

// GuardConfig configures the hallucination guard.
type GuardConfig struct {
	Enabled               bool          `yaml:"enabled"`
	FaithfulnessThreshold float64       `yaml:"faithfulness_threshold"`
	FailureAction         FailureAction `yaml:"failure_action"`
	ChunkPruneK           int           `yaml:"chunk_prune_k"`
	ShortCircuitPassCount int           `yaml:"short_circuit_pass_count"`
	ShortCircuitFailCount int           `yaml:"short_circuit_fail_count"`

	// DualPathEnabled cross-checks every answer between the local and
	// remote backends when both are available. Off by default: it doubles
	// generation cost.
	DualPathEnabled bool `yaml:"dual_path_enabled"`
}

// CostConfig configures token cost estimation.
type CostConfig struct {
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
	LogFile     string  `yaml:"log_file"`
}

// knownTopLevelKeys are the recognized top-level sections.
var knownTopLevelKeys = map[string]bool{
	"paths":         true,
	"embedding":     true,
	"chunking":      true,
	"retrieval":     true,
	"local_backend": true,
	"remote_api":    true,
	"security":      true,
	"guard":         true,
	"cost":          true,
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			DatabaseFile:     "chunks.db",
			VectorMatrixFile: "vectors.bin",
			VectorMetaFile:   "vectors_meta.json",
			SourceFolder:     ".",
		},
		Embedding: EmbeddingConfig{
			ModelName: "nomic-embed-text",
			Dimension: 0, // auto-detect from embedder
			BatchSize: 32,
			Device:    "cpu",
		},
		Chunking: ChunkingConfig{
			ChunkSize:     1200,
			Overlap:       200,
			MaxHeadingLen: 120,
		},
		Retrieval: RetrievalConfig{
			TopK:            5,
			MinScore:        0.25,
			HybridSearch:    true,
			RRFK:            60,
			RerankerEnabled: false, // degrades refusal/injection/ambiguity categories
			RerankerTopN:    20,
			ANNEnabled:      false,
			BlockSize:       1024,
		},
		Local: LocalConfig{
			BaseURL:        "http://127.0.0.1:11434",
			Model:          "llama3.1:8b",
			TimeoutSeconds: 300, // local inference is slow on CPU
			ContextWindow:  8192,
		},
		Remote: RemoteConfig{
			MaxTokens:      1024,
			Temperature:    0.1,
			TimeoutSeconds: 30,
			APIVersion:     "2024-06-01",
		},
		Security: SecurityConfig{
			Mode:            ModeOffline,
			AuditLogging:    true,
			PIISanitization: false,
		},
		Guard: GuardConfig{
			Enabled:               true,
			FaithfulnessThreshold: 0.7,
			FailureAction:         FailureBlock,
			ChunkPruneK:           5,
			ShortCircuitPassCount: 10,
			ShortCircuitFailCount: 2,
			DualPathEnabled:       false,
		},
		Cost: CostConfig{
			InputPer1K:  0.0,
			OutputPer1K: 0.0,
			LogFile:     "costs.jsonl",
		},
	}
}

// Load reads, parses, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, rgerrors.New(rgerrors.ErrCodeConfigNotFound,
				fmt.Sprintf("config file not found: %s", path), err).
				WithRemedy("create a config file or pass --config with the correct path")
		}
		return nil, rgerrors.Wrap(rgerrors.ErrCodeConfigInvalid, err)
	}
	return Parse(data)
}

// Save writes the configuration to a YAML file, validating first so a bad
// in-memory state never reaches disk.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return rgerrors.New(rgerrors.ErrCodeConfigInvalid,
			"config could not be serialized", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return rgerrors.New(rgerrors.ErrCodeFilePermission,
			fmt.Sprintf("config file %s not writable", path), err)
	}
	return nil
}

// LoadOrDefault loads the config file if it exists, otherwise returns
// validated defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		cfg := NewConfig()
		return cfg, cfg.Validate()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := NewConfig()
		return cfg, cfg.Validate()
	}
	return Load(path)
}

// Parse parses configuration from raw YAML, applying defaults for absent
// fields and rejecting unknown top-level keys.
func Parse(data []byte) (*Config, error) {
	if err := checkUnknownKeys(data); err != nil {
		return nil, err
	}

	cfg := NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, rgerrors.New(rgerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("malformed config: %v", err), err).
			WithRemedy("check the YAML syntax of the config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// checkUnknownKeys rejects unrecognized top-level sections with a specific
// error naming the offending key.
func checkUnknownKeys(data []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return rgerrors.New(rgerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("malformed config: %v", err), err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil
	}
	root := doc.Content[0]
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		if !knownTopLevelKeys[key] {
			return rgerrors.New(rgerrors.ErrCodeConfigUnknownKey,
				fmt.Sprintf("unknown config section %q", key), nil).
				WithDetail("key", key).
				WithRemedy("remove the unknown section or check its spelling")
		}
	}
	return nil
}

// Validate checks the configuration section by section.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateChunking(); err != nil {
		return err
	}
	if err := c.validateRetrieval(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	if err := c.validateGuard(); err != nil {
		return err
	}
	if c.Embedding.BatchSize <= 0 {
		return configErr("embedding.batch_size must be positive")
	}
	if c.Local.TimeoutSeconds <= 0 {
		return configErr("local_backend.timeout_seconds must be positive")
	}
	if c.Remote.TimeoutSeconds <= 0 {
		return configErr("remote_api.timeout_seconds must be positive")
	}
	if c.Remote.Temperature < 0 || c.Remote.Temperature > 2 {
		return configErr("remote_api.temperature must be in [0, 2]")
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.DatabaseFile == "" {
		return configErr("paths.database_file is required")
	}
	if c.Paths.VectorMatrixFile == "" {
		return configErr("paths.vector_matrix_file is required")
	}
	if c.Paths.VectorMetaFile == "" {
		return configErr("paths.vector_meta_file is required")
	}
	return nil
}

func (c *Config) validateChunking() error {
	if c.Chunking.ChunkSize <= 0 {
		return configErr("chunking.chunk_size must be positive")
	}
	if c.Chunking.Overlap < 0 {
		return configErr("chunking.overlap must not be negative")
	}
	if c.Chunking.Overlap >= c.Chunking.ChunkSize {
		return configErr("chunking.overlap must be smaller than chunk_size")
	}
	return nil
}

func (c *Config) validateRetrieval() error {
	if c.Retrieval.TopK <= 0 {
		return configErr("retrieval.top_k must be positive")
	}
	if c.Retrieval.MinScore < 0 || c.Retrieval.MinScore > 1 {
		return configErr("retrieval.min_score must be in [0, 1]")
	}
	if c.Retrieval.RRFK <= 0 {
		return configErr("retrieval.rrf_k must be positive")
	}
	if c.Retrieval.RerankerTopN <= 0 {
		return configErr("retrieval.reranker_top_n must be positive")
	}
	if c.Retrieval.BlockSize <= 0 {
		return configErr("retrieval.block_size must be positive")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	switch c.Security.Mode {
	case ModeOffline, ModeOnline, ModeAdmin:
		return nil
	default:
		return configErr(fmt.Sprintf("security.mode must be offline, online, or admin (got %q)", c.Security.Mode))
	}
}

func (c *Config) validateGuard() error {
	t := c.Guard.FaithfulnessThreshold
	if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 || t > 1 {
		return configErr("guard.faithfulness_threshold must be a finite value in [0, 1]")
	}
	switch c.Guard.FailureAction {
	case FailureWarn, FailureBlock:
	default:
		return configErr(fmt.Sprintf("guard.failure_action must be warn or block (got %q)", c.Guard.FailureAction))
	}
	if c.Guard.ShortCircuitFailCount <= 0 {
		return configErr("guard.short_circuit_fail_count must be positive")
	}
	return nil
}

// DataDir returns the directory holding the persistent store, derived from
// the database file path.
func (c *Config) DataDir() string {
	return filepath.Dir(c.Paths.DatabaseFile)
}

// ResolveDataPaths anchors relative store paths under the given directory.
func (c *Config) ResolveDataPaths(dir string) {
	if dir == "" {
		return
	}
	if !filepath.IsAbs(c.Paths.DatabaseFile) {
		c.Paths.DatabaseFile = filepath.Join(dir, c.Paths.DatabaseFile)
	}
	if !filepath.IsAbs(c.Paths.VectorMatrixFile) {
		c.Paths.VectorMatrixFile = filepath.Join(dir, c.Paths.VectorMatrixFile)
	}
	if !filepath.IsAbs(c.Paths.VectorMetaFile) {
		c.Paths.VectorMetaFile = filepath.Join(dir, c.Paths.VectorMetaFile)
	}
	if c.Cost.LogFile != "" && !filepath.IsAbs(c.Cost.LogFile) {
		c.Cost.LogFile = filepath.Join(dir, c.Cost.LogFile)
	}
}

func configErr(msg string) error {
	return rgerrors.ConfigError(msg, nil).
		WithRemedy("fix the value in the config file and rerun")
}
