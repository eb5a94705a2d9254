// Package services defines shared utilities consumed by the pipeline and the
// external collaborator clients.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that keep failure
//     classification (fallback vs retry vs drop) uniform across the pipeline.
package services
