// Package services defines shared utilities consumed by the stage routines
// and the external system clients.
//
// Key responsibilities:
//   - Context helpers that stamp package identifiers, stage names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the pipeline's error taxonomy (fatal collaborator errors,
//     ambiguous lookups, identifier conflicts).
//
// Use these helpers when wiring new stage logic so operational behaviour
// stays uniform across the pipeline.
package services
