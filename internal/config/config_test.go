package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	ep, err := cfg.ResolveEndpoint()
	require.NoError(t, err)
	assert.NotEmpty(t, ep)
}

func TestLoadMissingDefaultFileIsFine(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, Default().Network, cfg.Network)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), true)
	assert.Error(t, err)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
network: local
wallet_name: miner
cache_ttl: 30s
no_cache: true
log_level: debug
`), 0o600))

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Network)
	assert.Equal(t, "miner", cfg.WalletName)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.True(t, cfg.NoCache)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Untouched fields keep defaults.
	assert.Equal(t, Default().WalletHotkey, cfg.WalletHotkey)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("network: [unclosed"), 0o600))
	_, err := Load(path, true)
	assert.Error(t, err)
}

func TestResolveEndpoint(t *testing.T) {
	cfg := Default()
	cfg.Network = "local"
	ep, err := cfg.ResolveEndpoint()
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9944", ep)

	cfg.Endpoint = "ws://example:1234"
	ep, err = cfg.ResolveEndpoint()
	require.NoError(t, err)
	assert.Equal(t, "ws://example:1234", ep)

	cfg = Default()
	cfg.Network = "bogus"
	_, err = cfg.ResolveEndpoint()
	assert.ErrorContains(t, err, "unknown network")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.WalletPath = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.CacheTTL = -time.Second
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Network = "bogus"
	assert.Error(t, cfg.Validate())
}
