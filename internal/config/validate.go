package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	if err := c.validateRateLimit(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validatePublish(); err != nil {
		return err
	}
	if err := c.validateLedger(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateProviders() error {
	if err := validateEndpoint("providers.flashcut.endpoint", c.Providers.Flashcut.Endpoint); err != nil {
		return err
	}
	if err := validateEndpoint("providers.studiocut.endpoint", c.Providers.Studiocut.Endpoint); err != nil {
		return err
	}
	if c.Providers.Flashcut.RequestTimeout <= 0 {
		return errors.New("providers.flashcut.request_timeout must be positive")
	}
	if c.Providers.Studiocut.RequestTimeout <= 0 {
		return errors.New("providers.studiocut.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if c.RateLimit.ProviderLimit <= 0 {
		return errors.New("ratelimit.provider_limit must be positive")
	}
	if c.RateLimit.ProviderWindowSeconds <= 0 {
		return errors.New("ratelimit.provider_window_seconds must be positive")
	}
	if c.RateLimit.PublishLimit <= 0 {
		return errors.New("ratelimit.publish_limit must be positive")
	}
	if c.RateLimit.PublishWindowSeconds <= 0 {
		return errors.New("ratelimit.publish_window_seconds must be positive")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.PollInterval <= 0 {
		return errors.New("pipeline.poll_interval must be positive")
	}
	if c.Pipeline.PublishBaseDelay <= 0 {
		return errors.New("pipeline.publish_base_delay must be positive")
	}
	if c.Pipeline.PublishMaxDelay < c.Pipeline.PublishBaseDelay {
		return errors.New("pipeline.publish_max_delay must be at least publish_base_delay")
	}
	if c.Pipeline.PublishRetryBudget < 0 {
		return errors.New("pipeline.publish_retry_budget must not be negative")
	}
	if c.Pipeline.ProcessingTimeout <= 0 {
		return errors.New("pipeline.processing_timeout must be positive")
	}
	if c.Pipeline.PublishingTimeout <= 0 {
		return errors.New("pipeline.publishing_timeout must be positive")
	}
	if c.Pipeline.SweepInterval <= 0 {
		return errors.New("pipeline.sweep_interval must be positive")
	}
	return nil
}

func (c *Config) validatePublish() error {
	if err := validateEndpoint("publish.endpoint", c.Publish.Endpoint); err != nil {
		return err
	}
	switch c.Publish.DefaultVisibility {
	case "public", "unlisted", "private":
		return nil
	default:
		return fmt.Errorf("publish.default_visibility must be public, unlisted, or private (got %q)", c.Publish.DefaultVisibility)
	}
}

func (c *Config) validateLedger() error {
	if !c.Ledger.Enabled {
		return nil
	}
	return validateEndpoint("ledger.endpoint", c.Ledger.Endpoint)
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json (got %q)", c.LogFormat)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error (got %q)", c.LogLevel)
	}
	return nil
}

func validateEndpoint(field, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%s is required (create a config with 'clipforge config init')", field)
	}
	parsed, err := url.Parse(value)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", field)
	}
	return nil
}
