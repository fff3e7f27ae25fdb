// Package creds resolves the remote API credential bundle from the OS
// keystore, the process environment, and the config file, in that priority
// order. Keys are never logged in full; Mask produces the diagnostic form.
package creds

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/hybridrag/hybridrag/internal/config"
	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
)

// Source identifies where a credential field came from.
type Source string

const (
	SourceKeystore Source = "keystore"
	SourceEnv      Source = "env"
	SourceConfig   Source = "config"
	SourceNone     Source = "none"
)

// keyringService is the service name under which fields are stored in the
// OS keystore.
const keyringService = "hybridrag"

// Well-known environment variable names.
const (
	EnvAPIKey     = "HYBRIDRAG_API_KEY"
	EnvEndpoint   = "HYBRIDRAG_API_ENDPOINT"
	EnvDeployment = "HYBRIDRAG_API_DEPLOYMENT"
	EnvAPIVersion = "HYBRIDRAG_API_VERSION"
)

// Field names within the bundle.
const (
	FieldAPIKey     = "api_key"
	FieldEndpoint   = "endpoint"
	FieldDeployment = "deployment"
	FieldAPIVersion = "api_version"
)

// Bundle is the resolved remote API credential set.
type Bundle struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
}

// Complete reports whether the bundle has the fields required for online
// mode: a key and an endpoint.
func (b Bundle) Complete() bool {
	return b.APIKey != "" && b.Endpoint != ""
}

// Provenance records the source of each resolved field.
type Provenance map[string]Source

// keystore abstracts the OS keystore for testability.
type keystore interface {
	Get(service, user string) (string, error)
	Set(service, user, password string) error
	Delete(service, user string) error
}

// osKeystore is the real keystore backed by zalando/go-keyring.
type osKeystore struct{}

func (osKeystore) Get(service, user string) (string, error) {
	return keyring.Get(service, user)
}
func (osKeystore) Set(service, user, password string) error {
	return keyring.Set(service, user, password)
}
func (osKeystore) Delete(service, user string) error {
	return keyring.Delete(service, user)
}

// Resolver resolves credentials once per process. The resolved bundle is
// immutable after the first call.
type Resolver struct {
	cfg    *config.RemoteConfig
	store  keystore
	logger *slog.Logger

	once   sync.Once
	bundle Bundle
	prov   Provenance
}

// NewResolver creates a resolver over the config's remote_api section.
// A nil logger uses the default.
func NewResolver(cfg *config.RemoteConfig, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cfg: cfg, store: osKeystore{}, logger: logger}
}

// newResolverWithKeystore is the test constructor.
func newResolverWithKeystore(cfg *config.RemoteConfig, ks keystore, logger *slog.Logger) *Resolver {
	r := NewResolver(cfg, logger)
	r.store = ks
	return r
}

// Resolve produces the credential bundle and the provenance map recording
// which source each field came from. Missing fields are not an error here;
// callers decide whether the bundle is sufficient for their mode.
func (r *Resolver) Resolve() (Bundle, Provenance) {
	r.once.Do(func() {
		r.prov = make(Provenance, 4)
		r.bundle.APIKey = r.resolveField(FieldAPIKey, EnvAPIKey, r.cfg.APIKey)
		r.bundle.Endpoint = r.resolveField(FieldEndpoint, EnvEndpoint, r.cfg.Endpoint)
		r.bundle.Deployment = r.resolveField(FieldDeployment, EnvDeployment, r.cfg.Deployment)
		r.bundle.APIVersion = r.resolveField(FieldAPIVersion, EnvAPIVersion, r.cfg.APIVersion)

		r.logger.Info("credentials_resolved",
			slog.String("api_key", Mask(r.bundle.APIKey)),
			slog.String("endpoint", Mask(r.bundle.Endpoint)),
			slog.String("api_key_source", string(r.prov[FieldAPIKey])),
			slog.String("endpoint_source", string(r.prov[FieldEndpoint])))
	})
	return r.bundle, r.prov
}

// resolveField tries keystore, env, then config for one field.
func (r *Resolver) resolveField(field, envName, configValue string) string {
	if v, err := r.store.Get(keyringService, field); err == nil && v != "" {
		r.prov[field] = SourceKeystore
		return v
	} else if err != nil && err != keyring.ErrNotFound {
		// Keystore unavailable (headless session, locked keychain).
		// Fall through to the next source.
		r.logger.Debug("keystore_unavailable",
			slog.String("field", field),
			slog.String("error", err.Error()))
	}

	if v := os.Getenv(envName); v != "" {
		r.prov[field] = SourceEnv
		return v
	}

	if configValue != "" {
		if field == FieldAPIKey {
			r.logger.Warn("credential_from_config_file",
				slog.String("field", field),
				slog.String("value", Mask(configValue)))
		}
		r.prov[field] = SourceConfig
		return configValue
	}

	r.prov[field] = SourceNone
	return ""
}

// Store writes a field to the OS keystore. Administrative operation.
func (r *Resolver) Store(field, value string) error {
	if !validField(field) {
		return rgerrors.ValidationError("unknown credential field: "+field, nil)
	}
	if err := r.store.Set(keyringService, field, value); err != nil {
		return rgerrors.New(rgerrors.ErrCodeKeystoreUnavailable,
			"failed to write to OS keystore", err).
			WithRemedy("unlock the OS keystore or use environment variables instead")
	}
	r.logger.Info("credential_stored",
		slog.String("field", field),
		slog.String("value", Mask(value)))
	return nil
}

// Status reports, for each field, which source currently provides it,
// without exposing values.
func (r *Resolver) Status() Provenance {
	_, prov := r.Resolve()
	out := make(Provenance, len(prov))
	for k, v := range prov {
		out[k] = v
	}
	return out
}

// Clear removes all fields from the OS keystore. Administrative operation.
func (r *Resolver) Clear() error {
	var lastErr error
	for _, field := range []string{FieldAPIKey, FieldEndpoint, FieldDeployment, FieldAPIVersion} {
		if err := r.store.Delete(keyringService, field); err != nil && err != keyring.ErrNotFound {
			lastErr = err
		}
	}
	if lastErr != nil {
		return rgerrors.New(rgerrors.ErrCodeKeystoreUnavailable,
			"failed to clear OS keystore", lastErr)
	}
	r.logger.Info("credentials_cleared")
	return nil
}

func validField(field string) bool {
	switch field {
	case FieldAPIKey, FieldEndpoint, FieldDeployment, FieldAPIVersion:
		return true
	}
	return false
}

// Mask returns a diagnostic form of a secret: first 4 characters, an
// ellipsis, and the last 4. Short values are fully masked.
func Mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + "…" + s[len(s)-4:]
}
