package testsupport

import (
	"path/filepath"
	"testing"

	"clipforge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test
// and placeholder collaborator endpoints. Options run last so tests can
// point endpoints at httptest servers.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Server.Bind = "127.0.0.1:0"
	cfg.Providers.Flashcut.Endpoint = "https://relay.test/hooks/flashcut"
	cfg.Providers.Studiocut.Endpoint = "https://relay.test/hooks/studiocut"
	cfg.Publish.Endpoint = "https://clips.test/api/upload"
	cfg.Fanout.RelayURL = "https://relay.test/hooks/distribute"

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return &cfg
}

// WithProviderEndpoints points both rendering providers at the given URLs.
func WithProviderEndpoints(flashcut, studiocut string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Providers.Flashcut.Endpoint = flashcut
		cfg.Providers.Studiocut.Endpoint = studiocut
	}
}

// WithPublishEndpoint points the hosting platform handoff at the given URL.
func WithPublishEndpoint(url string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Publish.Endpoint = url
	}
}

// WithFanoutRelay points the fan-out relay at the given URL.
func WithFanoutRelay(url string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Fanout.RelayURL = url
	}
}
