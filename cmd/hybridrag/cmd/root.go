// Package cmd provides the CLI commands for HybridRAG.
package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hybridrag/hybridrag/internal/boot"
	"github.com/hybridrag/hybridrag/internal/config"
	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
	"github.com/hybridrag/hybridrag/internal/logging"
	"github.com/hybridrag/hybridrag/pkg/version"
)

// Exit codes, mapped from error codes by ExitCode.
const (
	ExitOK         = 0
	ExitGeneric    = 1
	ExitConfig     = 2
	ExitCredential = 3
	ExitNetGate    = 4
	ExitBackend    = 5
)

// Persistent flags shared by every command.
var (
	configPath string
	dataDir    string
	offline    bool
	debugMode  bool

	logger         *slog.Logger
	loggingCleanup func()
)

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd creates the root command for the hybridrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hybridrag",
		Short: "Local-first retrieval-augmented generation engine",
		Long: `HybridRAG answers questions over a local document corpus using hybrid
retrieval (full-text + vector search), a local or remote language model, and
a hallucination guard that verifies every answer against its sources.

All data stays on disk; outbound traffic passes a network gate.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("hybridrag version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory for the persistent store")
	cmd.PersistentFlags().BoolVar(&offline, "offline", false, "Use static embeddings, skip the inference server")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newCredStoreCmd())
	cmd.AddCommand(newCredStatusCmd())
	cmd.AddCommand(newCredClearCmd())
	cmd.AddCommand(newDiagCmd())
	cmd.AddCommand(newEvalCmd())
	cmd.AddCommand(newProfileSwitchCmd())

	return cmd
}

func setupLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	cfg.WriteToStderr = false
	if debugMode {
		cfg.Level = "debug"
		cfg.WriteToStderr = true
	}

	l, cleanup, err := logging.Setup(cfg)
	if err != nil {
		// Logging is never worth failing the command for.
		logger = slog.Default()
		return nil
	}
	logger = l
	loggingCleanup = cleanup
	slog.SetDefault(l)
	return nil
}

// loadConfig loads the effective configuration for a command, applying the
// persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.ResolveDataPaths(dataDir)
	}
	return cfg, nil
}

// bootUp runs the boot pipeline with the effective configuration.
func bootUp(cmd *cobra.Command) (*boot.Result, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	res, err := boot.NewPipeline(boot.Options{
		Config:         cfg,
		StaticEmbedder: offline,
		Logger:         logger,
	}).Run(cmd.Context())
	if err != nil {
		return nil, err
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}
	return res, nil
}

// ExitCode maps an error to the CLI exit code contract: 0 success,
// 2 configuration, 3 credential, 4 network-gate denial, 5 backend
// unavailable, 1 anything else.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	code := rgerrors.GetCode(err)
	switch {
	case code == rgerrors.ErrCodeNetworkBlocked:
		return ExitNetGate
	case code == rgerrors.ErrCodeBackendUnavailable:
		return ExitBackend
	case strings.HasPrefix(code, "ERR_1"):
		return ExitConfig
	case strings.HasPrefix(code, "ERR_7"):
		return ExitCredential
	default:
		return ExitGeneric
	}
}
