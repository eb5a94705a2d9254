// Package config loads, defaults, and validates clipforge configuration.
//
// Configuration comes from a TOML file (default
// ~/.config/clipforge/config.toml), with environment variable overrides for
// secrets. Defaults live in defaults.go and validation in validate.go so the
// three concerns stay separable.
package config
