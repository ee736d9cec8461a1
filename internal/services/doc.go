// Package services defines shared utilities consumed by the orchestrator and
// the external collaborator adapters.
//
// Key responsibilities:
//   - Context helpers that stamp session IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that let the orchestrator
//     classify collaborator failures into stable reason codes.
//
// Use these helpers when wiring new adapters so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
