// Package config loads CLI configuration. Values come from a YAML
// file overridden by command-line flags; the resolved Config is
// immutable for the rest of the invocation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Known networks and their default endpoints.
var networkEndpoints = map[string]string{
	"finney": "wss://entrypoint-finney.opentensor.ai:443",
	"test":   "wss://test.finney.opentensor.ai:443",
	"local":  "ws://127.0.0.1:9944",
}

// Config holds one invocation's settings.
type Config struct {
	// Network is a named preset (finney, test, local). Endpoint, when
	// set, overrides the preset's URL.
	Network  string `yaml:"network"`
	Endpoint string `yaml:"endpoint"`

	WalletPath   string `yaml:"wallet_path"`
	WalletName   string `yaml:"wallet_name"`
	WalletHotkey string `yaml:"wallet_hotkey"`

	NoCache     bool          `yaml:"no_cache"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	ArchivePath string        `yaml:"archive_path"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Network:      "finney",
		WalletPath:   filepath.Join(home, ".subnetctl", "wallets"),
		WalletName:   "default",
		WalletHotkey: "default",
		CacheTTL:     60 * time.Second,
		ArchivePath:  filepath.Join(home, ".subnetctl", "archive"),
		LogLevel:     "info",
	}
}

// DefaultPath is where Load looks when no explicit path is given.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".subnetctl", "config.yaml")
}

// Load reads the YAML file at path over the defaults. A missing file
// at the default path is fine; an explicitly named missing file is an
// error.
func Load(path string, explicit bool) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) && !explicit {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ResolveEndpoint returns the chain endpoint URL, preferring an
// explicit endpoint over the network preset.
func (c Config) ResolveEndpoint() (string, error) {
	if c.Endpoint != "" {
		return c.Endpoint, nil
	}
	ep, ok := networkEndpoints[c.Network]
	if !ok {
		return "", fmt.Errorf("unknown network %q (known: finney, test, local)", c.Network)
	}
	return ep, nil
}

// Validate checks the settings that every command needs.
func (c Config) Validate() error {
	if _, err := c.ResolveEndpoint(); err != nil {
		return err
	}
	if c.WalletPath == "" {
		return fmt.Errorf("wallet_path must not be empty")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl must not be negative")
	}
	return nil
}
