// Package netgate implements the process-wide allowlist for outbound
// connections. Every component that opens a network connection asks the gate
// first; the gate is the single point of network policy enforcement.
package netgate

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hybridrag/hybridrag/internal/config"
	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
)

// Decision is the outcome of a gate check.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// AuditRecord is one append-only entry per gated call.
type AuditRecord struct {
	Timestamp time.Time `json:"timestamp"`
	URL       string    `json:"url"`
	Purpose   string    `json:"purpose"`
	Caller    string    `json:"caller"`
	Mode      string    `json:"mode"`
	Decision  Decision  `json:"decision"`
	Reason    string    `json:"reason,omitempty"`
}

// AuditSink receives audit records. Implementations must be safe for
// concurrent use. Sink failures never block the gate decision.
type AuditSink interface {
	Record(rec AuditRecord) error
}

// endpoint is a parsed allowlist entry.
type endpoint struct {
	host string // lowercase
	port string // empty means any port
}

// Gate mediates outbound connections by mode and allowlist.
// Mutation happens through Configure; it must not run concurrently with
// gated traffic.
type Gate struct {
	mu        sync.RWMutex
	mode      config.Mode
	endpoints []endpoint
	sink      AuditSink
	logger    *slog.Logger
}

// New creates a gate in offline mode with the given audit sink.
// A nil sink disables auditing; a nil logger uses the default.
func New(sink AuditSink, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		mode:   config.ModeOffline,
		sink:   sink,
		logger: logger,
	}
}

// Configure transitions the gate to the given mode with the given allowed
// endpoints. Endpoints that cannot be parsed are dropped with a warning.
func (g *Gate) Configure(mode config.Mode, allowedEndpoints []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.mode = mode
	g.endpoints = g.endpoints[:0]
	for _, raw := range allowedEndpoints {
		ep, err := parseEndpoint(raw)
		if err != nil {
			g.logger.Warn("network_gate_endpoint_dropped",
				slog.String("endpoint", raw),
				slog.String("error", err.Error()))
			continue
		}
		g.endpoints = append(g.endpoints, ep)
	}

	g.logger.Info("network_gate_configured",
		slog.String("mode", string(mode)),
		slog.Int("endpoints", len(g.endpoints)))
}

// Mode returns the active gate mode.
func (g *Gate) Mode() config.Mode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mode
}

// CheckAllowed returns nil if the URL satisfies the active policy, or a
// NetworkBlocked error otherwise. Every call produces an audit record
// regardless of outcome. Denial is fatal to the caller: no retry, no
// fallback.
func (g *Gate) CheckAllowed(rawURL, purpose, caller string) error {
	g.mu.RLock()
	mode := g.mode
	g.mu.RUnlock()

	decision, reason := g.decide(rawURL)
	g.audit(AuditRecord{
		Timestamp: time.Now().UTC(),
		URL:       rawURL,
		Purpose:   purpose,
		Caller:    caller,
		Mode:      string(mode),
		Decision:  decision,
		Reason:    reason,
	})

	if decision == DecisionAllow {
		return nil
	}

	g.logger.Warn("network_gate_denied",
		slog.String("url", rawURL),
		slog.String("purpose", purpose),
		slog.String("caller", caller),
		slog.String("mode", string(mode)),
		slog.String("reason", reason))

	return rgerrors.NetworkBlocked(rawURL, string(mode))
}

// IsAllowed is the non-raising form of CheckAllowed. It still audits.
func (g *Gate) IsAllowed(rawURL string) bool {
	g.mu.RLock()
	mode := g.mode
	g.mu.RUnlock()

	decision, reason := g.decide(rawURL)
	g.audit(AuditRecord{
		Timestamp: time.Now().UTC(),
		URL:       rawURL,
		Mode:      string(mode),
		Decision:  decision,
		Reason:    reason,
	})
	return decision == DecisionAllow
}

// decide applies the policy algorithm:
//  1. malformed URLs are denied
//  2. admin mode allows everything
//  3. loopback hosts are always allowed
//  4. online mode allows configured endpoints (host case-insensitive,
//     port must match when the allowlist entry specifies one)
//  5. everything else is denied
func (g *Gate) decide(rawURL string) (Decision, string) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return DecisionDeny, "malformed url"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return DecisionDeny, fmt.Sprintf("scheme %q not allowed", u.Scheme)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.mode == config.ModeAdmin {
		return DecisionAllow, "admin mode"
	}

	host := strings.ToLower(u.Hostname())
	if isLoopback(host) {
		return DecisionAllow, "loopback"
	}

	if g.mode == config.ModeOnline {
		port := u.Port()
		for _, ep := range g.endpoints {
			if ep.host != host {
				continue
			}
			if ep.port == "" || ep.port == port {
				return DecisionAllow, "allowlisted endpoint"
			}
		}
	}

	return DecisionDeny, "host not in allowlist"
}

func (g *Gate) audit(rec AuditRecord) {
	if g.sink == nil {
		return
	}
	if err := g.sink.Record(rec); err != nil {
		g.logger.Error("network_audit_write_failed",
			slog.String("error", err.Error()))
	}
}

// isLoopback reports whether host is a loopback literal
// (127.0.0.0/8, ::1, or the name "localhost").
func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// parseEndpoint normalizes an allowlist entry to (host, optional port).
// Accepts full URLs or bare host[:port] forms.
func parseEndpoint(raw string) (endpoint, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return endpoint{}, fmt.Errorf("empty endpoint")
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return endpoint{}, err
	}
	if u.Hostname() == "" {
		return endpoint{}, fmt.Errorf("no host in %q", raw)
	}
	return endpoint{
		host: strings.ToLower(u.Hostname()),
		port: u.Port(),
	}, nil
}
