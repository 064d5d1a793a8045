// Package logging constructs the shared slog logger and provides the
// standardized attribute and context helpers used across the pipeline.
package logging
