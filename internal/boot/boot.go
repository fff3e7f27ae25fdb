// Package boot composes configuration, credentials, the network gate, and
// every backend handle into a single initialization result. Boot is
// offline-first: missing optional credentials or an unreachable remote API
// downgrade the mode with a warning instead of failing.
package boot

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/hybridrag/hybridrag/internal/chunk"
	"github.com/hybridrag/hybridrag/internal/config"
	"github.com/hybridrag/hybridrag/internal/creds"
	"github.com/hybridrag/hybridrag/internal/embed"
	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
	"github.com/hybridrag/hybridrag/internal/guard"
	"github.com/hybridrag/hybridrag/internal/index"
	"github.com/hybridrag/hybridrag/internal/llm"
	"github.com/hybridrag/hybridrag/internal/netgate"
	"github.com/hybridrag/hybridrag/internal/parser"
	"github.com/hybridrag/hybridrag/internal/query"
	"github.com/hybridrag/hybridrag/internal/search"
	"github.com/hybridrag/hybridrag/internal/store"
)

// embedCacheSize is the LRU entry count for the embedding cache.
const embedCacheSize = 4096

// Options configures a boot pipeline.
type Options struct {
	// ConfigPath is the YAML config file; missing file means defaults.
	// Ignored when Config is set.
	ConfigPath string

	// Config short-circuits loading, for callers that already have one.
	Config *config.Config

	// StaticEmbedder forces the deterministic offline embedder instead of
	// the local inference server.
	StaticEmbedder bool

	// Logger receives structured events. Nil means slog.Default().
	Logger *slog.Logger
}

// Pipeline runs the boot sequence.
type Pipeline struct {
	opts   Options
	logger *slog.Logger
}

// Result is the outcome of one boot: all live handles plus the availability
// flags and accumulated warnings. It is a resource scope; Close releases
// everything it opened.
type Result struct {
	Config     *config.Config
	Store      *store.Store
	Embedder   embed.Embedder
	Retriever  *search.Retriever
	Router     *llm.Router
	Guard      *guard.Guard
	Gate       *netgate.Gate
	Engine     *query.Engine
	Indexer    *index.Runner
	Creds      creds.Bundle
	Provenance creds.Provenance

	// Success is true exactly when at least one language model backend
	// is available.
	Success          bool
	OnlineAvailable  bool
	OfflineAvailable bool

	// CrossChecked is true when answers are generated through the
	// dual-path checker instead of the plain router.
	CrossChecked bool

	Warnings []string
	BootedAt time.Time

	nliBackend string
	closers    []func() error
}

// NewPipeline creates a boot pipeline.
func NewPipeline(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{opts: opts, logger: logger}
}

// Run executes the boot sequence. Only genuinely fatal conditions return an
// error (invalid config, corrupt store); everything else is a warning on the
// result. On error the partial result is already released.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	res := &Result{BootedAt: time.Now().UTC()}

	cfg, err := p.loadConfig(res)
	if err != nil {
		return nil, err
	}
	res.Config = cfg

	bundle, prov := creds.NewResolver(&cfg.Remote, p.logger).Resolve()
	res.Creds = bundle
	res.Provenance = prov

	mode := p.effectiveMode(cfg, bundle, res)
	if err := p.setupGate(cfg, bundle, mode, res); err != nil {
		res.close()
		return nil, err
	}

	if err := p.setupEmbedder(ctx, cfg, res); err != nil {
		res.close()
		return nil, err
	}
	if err := p.setupStore(ctx, cfg, res); err != nil {
		res.close()
		return nil, err
	}
	if err := p.setupRetriever(ctx, cfg, res); err != nil {
		res.close()
		return nil, err
	}
	local, remote := p.setupLLM(ctx, cfg, bundle, mode, res)
	p.setupGuard(cfg, local, res)

	engineRouter := query.Router(res.Router)
	if cfg.Guard.DualPathEnabled && res.OnlineAvailable && res.OfflineAvailable {
		primary, secondary := remote, local
		if mode == config.ModeOffline {
			primary, secondary = local, remote
		}
		engineRouter = &crossCheckRouter{dual: guard.NewDualPathChecker(primary, secondary)}
		res.CrossChecked = true
	}

	res.Engine = query.New(res.Embedder, res.Retriever, engineRouter, verifier(res.Guard),
		query.NewCostLog(cfg.Cost.LogFile, p.logger), cfg, p.logger)
	res.Indexer = index.NewRunner(res.Store, res.Embedder,
		chunk.New(cfg.Chunking.ChunkSize, cfg.Chunking.Overlap, cfg.Chunking.MaxHeadingLen),
		parser.NewRegistry(), cfg, p.logger)

	// A boot with no reachable language model hands back live handles but
	// is degraded, not successful.
	res.Success = res.OnlineAvailable || res.OfflineAvailable
	if !res.Success {
		res.warn("no language model backend is available; queries will fail until one is reachable")
	}
	p.logger.Info("boot_completed",
		slog.Bool("success", res.Success),
		slog.String("mode", string(mode)),
		slog.Bool("online_available", res.OnlineAvailable),
		slog.Bool("offline_available", res.OfflineAvailable),
		slog.Int("warnings", len(res.Warnings)))
	return res, nil
}

// loadConfig loads and validates the configuration, clearing a malformed
// remote endpoint with a warning rather than failing boot.
func (p *Pipeline) loadConfig(res *Result) (*config.Config, error) {
	cfg := p.opts.Config
	if cfg == nil {
		var err error
		cfg, err = config.LoadOrDefault(p.opts.ConfigPath)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Remote.Endpoint != "" {
		if _, perr := url.ParseRequestURI(cfg.Remote.Endpoint); perr != nil {
			res.warn(fmt.Sprintf("remote endpoint %q is not a valid URL; cleared", cfg.Remote.Endpoint))
			cfg.Remote.Endpoint = ""
		} else if cerr := llm.CheckEndpointComposition(cfg.Remote.Endpoint); cerr != nil {
			res.warn(fmt.Sprintf("remote endpoint rejected: %v; cleared", cerr))
			cfg.Remote.Endpoint = ""
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// effectiveMode derives the running mode from config and credential
// availability. Online without a complete credential set downgrades.
func (p *Pipeline) effectiveMode(cfg *config.Config, bundle creds.Bundle, res *Result) config.Mode {
	mode := cfg.Security.Mode
	if (mode == config.ModeOnline || mode == config.ModeAdmin) && !bundle.Complete() {
		res.warn("online mode requested but credentials are incomplete; running offline")
		mode = config.ModeOffline
	}
	return mode
}

func (p *Pipeline) setupGate(cfg *config.Config, bundle creds.Bundle, mode config.Mode, res *Result) error {
	var sink netgate.AuditSink
	if cfg.Security.AuditLogging {
		path := filepath.Join(cfg.DataDir(), "audit.jsonl")
		jsonl, err := netgate.NewJSONLSink(path)
		if err != nil {
			res.warn(fmt.Sprintf("audit log unavailable (%v); auditing in memory", err))
			sink = netgate.NewMemorySink()
		} else {
			sink = jsonl
			res.closers = append(res.closers, jsonl.Close)
		}
	} else {
		sink = netgate.NewMemorySink()
	}

	gate := netgate.New(sink, p.logger)
	var allowed []string
	if bundle.Endpoint != "" {
		allowed = append(allowed, bundle.Endpoint)
	}
	gate.Configure(mode, allowed)
	res.Gate = gate
	return nil
}

// setupEmbedder builds the embedding stack: the local inference server
// wrapped in retry and an LRU cache, or the deterministic static embedder
// when forced or when the server cannot be probed.
func (p *Pipeline) setupEmbedder(ctx context.Context, cfg *config.Config, res *Result) error {
	if !p.opts.StaticEmbedder {
		httpEmb, err := embed.NewHTTPEmbedder(ctx, embed.HTTPConfig{
			Host:       cfg.Local.BaseURL,
			Model:      cfg.Embedding.ModelName,
			BatchSize:  cfg.Embedding.BatchSize,
			Dimensions: cfg.Embedding.Dimension,
		}, res.Gate)
		if err == nil {
			res.Embedder = embed.NewCachedEmbedder(embed.NewRetryEmbedder(httpEmb), embedCacheSize)
			res.closers = append(res.closers, res.Embedder.Close)
			return nil
		}
		res.warn(fmt.Sprintf("embedding backend unreachable (%s); using static embeddings",
			rgerrors.GetCode(err)))
	}

	res.Embedder = embed.NewStaticEmbedder()
	res.closers = append(res.closers, res.Embedder.Close)
	return nil
}

func (p *Pipeline) setupStore(ctx context.Context, cfg *config.Config, res *Result) error {
	st, err := store.Open(ctx, store.Options{
		DatabaseFile: cfg.Paths.DatabaseFile,
		MatrixFile:   cfg.Paths.VectorMatrixFile,
		MetaFile:     cfg.Paths.VectorMetaFile,
		Dimensions:   res.Embedder.Dimensions(),
		Logger:       p.logger,
	})
	if err != nil {
		return err
	}
	res.Store = st
	res.closers = append(res.closers, st.Close)
	return nil
}

func (p *Pipeline) setupRetriever(ctx context.Context, cfg *config.Config, res *Result) error {
	retriever := search.New(res.Store, search.Options{
		TopK:            cfg.Retrieval.TopK,
		MinScore:        cfg.Retrieval.MinScore,
		Hybrid:          cfg.Retrieval.HybridSearch,
		RRFK:            cfg.Retrieval.RRFK,
		RerankerEnabled: cfg.Retrieval.RerankerEnabled,
		RerankerTopN:    cfg.Retrieval.RerankerTopN,
		BlockRows:       cfg.Retrieval.BlockSize,
	}, search.NewLexicalReranker(), p.logger)

	if cfg.Retrieval.ANNEnabled {
		ann := search.NewANNIndex()
		if err := ann.BuildFromStore(ctx, res.Store, cfg.Retrieval.BlockSize); err != nil {
			res.warn(fmt.Sprintf("ANN index build failed (%s); using block scan",
				rgerrors.GetCode(err)))
		} else {
			retriever.SetANN(ann)
		}
	}

	res.Retriever = retriever
	return nil
}

// setupLLM builds the local client, the remote client when credentials
// allow, and the router. Availability flags come from a shallow local probe
// and from remote client construction; no remote traffic happens at boot.
// Both backends are returned for callers that wire them beyond the router.
func (p *Pipeline) setupLLM(ctx context.Context, cfg *config.Config, bundle creds.Bundle, mode config.Mode, res *Result) (llm.Backend, llm.Backend) {
	local := llm.NewLocalClient(cfg.Local, res.Gate)
	res.OfflineAvailable = local.Available(ctx)
	if !res.OfflineAvailable {
		res.warn("local inference server is not reachable")
	}

	var remote llm.Backend
	if bundle.Complete() {
		rc, err := llm.NewRemoteClient(cfg.Remote, bundle, res.Gate)
		if err != nil {
			res.warn(fmt.Sprintf("remote backend rejected (%s)", rgerrors.GetCode(err)))
		} else {
			remote = rc
			res.OnlineAvailable = true
		}
	}

	res.Router = llm.NewRouter(mode, local, remote, p.logger)
	res.closers = append(res.closers, res.Router.Close)
	return local, remote
}

// setupGuard wires the hallucination guard. NLI runs through the local
// inference server when its probe succeeded; otherwise the deterministic
// lexical model keeps verification fully offline.
func (p *Pipeline) setupGuard(cfg *config.Config, local llm.Backend, res *Result) {
	if !cfg.Guard.Enabled {
		return
	}
	loader := func() (guard.NLIModel, error) {
		return guard.NewLexicalNLI(), nil
	}
	res.nliBackend = "lexical"
	if res.OfflineAvailable && local != nil {
		loader = func() (guard.NLIModel, error) {
			return guard.NewHTTPNLI(local), nil
		}
		res.nliBackend = "model"
	}
	res.Guard = guard.New(cfg.Guard, guard.NewLazyModel(loader), p.logger)
}

// crossCheckRouter generates through the dual-path checker, which compares
// both backends' answers and substitutes a refusal on strong disagreement.
type crossCheckRouter struct {
	dual *guard.DualPathChecker
}

// Verify interface implementation at compile time.
var _ query.Router = (*crossCheckRouter)(nil)

func (c *crossCheckRouter) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	resp, _, err := c.dual.Ask(ctx, req)
	return resp, err
}

// verifier adapts a possibly-nil guard to the query engine's interface
// without producing a typed-nil interface value.
func verifier(g *guard.Guard) query.Verifier {
	if g == nil {
		return nil
	}
	return g
}

// Close releases every resource the boot opened, in reverse order. Safe to
// call more than once.
func (r *Result) Close() error {
	return r.close()
}

func (r *Result) close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	return first
}

func (r *Result) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Summary renders a human-readable boot report.
func (r *Result) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "booted at %s\n", r.BootedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "mode: %s\n", r.Gate.Mode())
	fmt.Fprintf(&sb, "online backend:  %s\n", available(r.OnlineAvailable))
	fmt.Fprintf(&sb, "offline backend: %s\n", available(r.OfflineAvailable))
	fmt.Fprintf(&sb, "embedder: %s (%d dims)\n", r.Embedder.ModelName(), r.Embedder.Dimensions())
	fmt.Fprintf(&sb, "vectors: %d\n", r.Store.Count())
	if r.Guard != nil {
		fmt.Fprintf(&sb, "hallucination guard: enabled (%s NLI)\n", r.nliBackend)
	} else {
		sb.WriteString("hallucination guard: disabled\n")
	}
	if r.CrossChecked {
		sb.WriteString("dual-path cross-check: enabled\n")
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&sb, "warning: %s\n", w)
	}
	return sb.String()
}

func available(ok bool) string {
	if ok {
		return "available"
	}
	return "unavailable"
}
