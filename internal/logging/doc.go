// Package logging builds slog loggers with clipforge's console and JSON
// handlers, plus the attribute helpers and standardized field names shared
// across components.
package logging
