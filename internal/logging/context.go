package logging

import (
	"context"
	"log/slog"

	"tributary/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldPackageID is the standardized structured logging key for package record identifiers.
	FieldPackageID = "package_id"
	// FieldBagID is the standardized structured logging key for bag identifiers.
	FieldBagID = "bag_identifier"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldCorrelationID is the standardized structured logging key for run correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType tags lifecycle events (stage_start, stage_complete, stage_failure).
	FieldEventType = "event_type"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.PackageIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldPackageID, id))
	}
	if bagID, ok := services.BagIdentifierFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldBagID, bagID))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
