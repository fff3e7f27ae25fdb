package creds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/hybridrag/hybridrag/internal/config"
)

// fakeKeystore is an in-memory keystore for tests.
type fakeKeystore struct {
	values map[string]string
	err    error
}

func newFakeKeystore() *fakeKeystore {
	return &fakeKeystore{values: make(map[string]string)}
}

func (f *fakeKeystore) Get(service, user string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.values[user]
	if !ok {
		return "", keyring.ErrNotFound
	}
	return v, nil
}

func (f *fakeKeystore) Set(service, user, password string) error {
	if f.err != nil {
		return f.err
	}
	f.values[user] = password
	return nil
}

func (f *fakeKeystore) Delete(service, user string) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.values[user]; !ok {
		return keyring.ErrNotFound
	}
	delete(f.values, user)
	return nil
}

func TestResolve_KeystoreWinsOverEnvAndConfig(t *testing.T) {
	ks := newFakeKeystore()
	ks.values[FieldAPIKey] = "keystore-key-123456"
	t.Setenv(EnvAPIKey, "env-key-123456")

	cfg := &config.RemoteConfig{APIKey: "config-key-123456"}
	r := newResolverWithKeystore(cfg, ks, nil)

	bundle, prov := r.Resolve()
	assert.Equal(t, "keystore-key-123456", bundle.APIKey)
	assert.Equal(t, SourceKeystore, prov[FieldAPIKey])
}

func TestResolve_EnvWinsOverConfig(t *testing.T) {
	t.Setenv(EnvEndpoint, "https://env.example.com")

	cfg := &config.RemoteConfig{Endpoint: "https://config.example.com"}
	r := newResolverWithKeystore(cfg, newFakeKeystore(), nil)

	bundle, prov := r.Resolve()
	assert.Equal(t, "https://env.example.com", bundle.Endpoint)
	assert.Equal(t, SourceEnv, prov[FieldEndpoint])
}

func TestResolve_ConfigIsLastResort(t *testing.T) {
	cfg := &config.RemoteConfig{
		Deployment: "gpt-4o",
		APIVersion: "2024-06-01",
	}
	r := newResolverWithKeystore(cfg, newFakeKeystore(), nil)

	bundle, prov := r.Resolve()
	assert.Equal(t, "gpt-4o", bundle.Deployment)
	assert.Equal(t, SourceConfig, prov[FieldDeployment])
	assert.Equal(t, SourceConfig, prov[FieldAPIVersion])
}

func TestResolve_MissingFieldsAreNone(t *testing.T) {
	r := newResolverWithKeystore(&config.RemoteConfig{}, newFakeKeystore(), nil)

	bundle, prov := r.Resolve()
	assert.False(t, bundle.Complete())
	assert.Equal(t, SourceNone, prov[FieldAPIKey])
	assert.Equal(t, SourceNone, prov[FieldEndpoint])
}

func TestResolve_KeystoreFailureFallsThrough(t *testing.T) {
	ks := newFakeKeystore()
	ks.err = assert.AnError
	t.Setenv(EnvAPIKey, "env-key-abcdef")

	r := newResolverWithKeystore(&config.RemoteConfig{}, ks, nil)

	bundle, prov := r.Resolve()
	assert.Equal(t, "env-key-abcdef", bundle.APIKey)
	assert.Equal(t, SourceEnv, prov[FieldAPIKey])
}

func TestResolve_CachedAfterFirstCall(t *testing.T) {
	ks := newFakeKeystore()
	ks.values[FieldAPIKey] = "first-key-123456"

	r := newResolverWithKeystore(&config.RemoteConfig{}, ks, nil)
	first, _ := r.Resolve()

	// Mutating the keystore afterwards must not change the resolved bundle.
	ks.values[FieldAPIKey] = "second-key-123456"
	second, _ := r.Resolve()

	assert.Equal(t, first.APIKey, second.APIKey)
}

func TestStoreAndClear(t *testing.T) {
	ks := newFakeKeystore()
	r := newResolverWithKeystore(&config.RemoteConfig{}, ks, nil)

	require.NoError(t, r.Store(FieldAPIKey, "sk-test-1234567890"))
	assert.Equal(t, "sk-test-1234567890", ks.values[FieldAPIKey])

	require.NoError(t, r.Clear())
	assert.Empty(t, ks.values)
}

func TestStore_RejectsUnknownField(t *testing.T) {
	r := newResolverWithKeystore(&config.RemoteConfig{}, newFakeKeystore(), nil)
	require.Error(t, r.Store("password", "x"))
}

func TestMask(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"short", "*****"},
		{"12345678", "********"},
		{"sk-abcdef1234567890", "sk-a…7890"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Mask(tt.input))
	}
}

func TestBundle_Complete(t *testing.T) {
	assert.False(t, Bundle{}.Complete())
	assert.False(t, Bundle{APIKey: "k"}.Complete())
	assert.True(t, Bundle{APIKey: "k", Endpoint: "https://e"}.Complete())
}
