package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Server contains HTTP API bind configuration.
type Server struct {
	Bind     string `toml:"bind"`
	APIToken string `toml:"api_token"`
}

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Provider describes one clip rendering backend reached through the
// workflow relay.
type Provider struct {
	Endpoint       string `toml:"endpoint"`
	Token          string `toml:"token"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Providers groups the primary and fallback rendering backends.
type Providers struct {
	Flashcut  Provider `toml:"flashcut"`
	Studiocut Provider `toml:"studiocut"`
}

// RateLimit contains fixed-window limits for outbound calls.
type RateLimit struct {
	ProviderLimit         int `toml:"provider_limit"`
	ProviderWindowSeconds int `toml:"provider_window_seconds"`
	PublishLimit          int `toml:"publish_limit"`
	PublishWindowSeconds  int `toml:"publish_window_seconds"`
}

// Pipeline contains scheduler timing and retry configuration.
type Pipeline struct {
	PollInterval        int `toml:"poll_interval"`
	ErrorRetryInterval  int `toml:"error_retry_interval"`
	PublishBaseDelay    int `toml:"publish_base_delay"`
	PublishMaxDelay     int `toml:"publish_max_delay"`
	PublishRetryBudget  int `toml:"publish_retry_budget"`
	ProcessingTimeout   int `toml:"processing_timeout"`
	PublishingTimeout   int `toml:"publishing_timeout"`
	SweepInterval       int `toml:"sweep_interval"`
}

// Publish contains the hosting platform handoff configuration.
type Publish struct {
	Endpoint          string `toml:"endpoint"`
	Token             string `toml:"token"`
	DefaultVisibility string `toml:"default_visibility"`
	RequestTimeout    int    `toml:"request_timeout"`
}

// Fanout contains the downstream distribution relay configuration.
type Fanout struct {
	RelayURL       string `toml:"relay_url"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Ledger contains the spreadsheet-style bookkeeping relay configuration.
type Ledger struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Token          string `toml:"token"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Config is the root clipforge configuration.
type Config struct {
	Server    Server    `toml:"server"`
	Paths     Paths     `toml:"paths"`
	Providers Providers `toml:"providers"`
	RateLimit RateLimit `toml:"ratelimit"`
	Pipeline  Pipeline  `toml:"pipeline"`
	Publish   Publish   `toml:"publish"`
	Fanout    Fanout    `toml:"fanout"`
	Ledger    Ledger    `toml:"ledger"`
	LogLevel  string    `toml:"log_level"`
	LogFormat string    `toml:"log_format"`
}

// DefaultConfigPath returns the location checked when no explicit path is given.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "clipforge", "config.toml"), nil
}

// Load reads configuration from path (or the default location when path is
// empty), applies defaults and environment overrides, and validates the
// result. The second return value reports whether a config file was found.
func Load(path string) (*Config, bool, error) {
	cfg := Default()

	resolved := strings.TrimSpace(path)
	if resolved == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, false, err
		}
		resolved = defaultPath
	}

	found := false
	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, false, fmt.Errorf("parse config %s: %w", resolved, err)
		}
		found = true
	case errors.Is(err, fs.ErrNotExist):
		// Defaults plus env overrides still produce a usable config.
	default:
		return nil, false, fmt.Errorf("read config %s: %w", resolved, err)
	}

	cfg.applyEnvOverrides()
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, found, err
	}
	return &cfg, found, nil
}

// WriteSample writes the embedded sample configuration to path.
func WriteSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// EnsureDirectories creates the data and log directories when missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("CLIPFORGE_API_TOKEN")); v != "" {
		c.Server.APIToken = v
	}
	if v := strings.TrimSpace(os.Getenv("CLIPFORGE_PUBLISH_TOKEN")); v != "" {
		c.Publish.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("CLIPFORGE_LEDGER_TOKEN")); v != "" {
		c.Ledger.Token = v
	}
}

func (c *Config) expandPaths() {
	c.Paths.DataDir = expandHome(c.Paths.DataDir)
	c.Paths.LogDir = expandHome(c.Paths.LogDir)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
