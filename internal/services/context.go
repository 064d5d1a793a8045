package services

import "context"

type contextKey string

const (
	packageIDKey contextKey = "package_id"
	bagIDKey     contextKey = "bag_identifier"
	stageKey     contextKey = "stage"
	requestIDKey contextKey = "request_id"
)

// WithPackageID annotates context with the package record identifier.
func WithPackageID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, packageIDKey, id)
}

// PackageIDFromContext extracts the package record identifier if present.
func PackageIDFromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(packageIDKey)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

// WithBagIdentifier annotates context with the package bag identifier.
func WithBagIdentifier(ctx context.Context, bagID string) context.Context {
	if bagID == "" {
		return ctx
	}
	return context.WithValue(ctx, bagIDKey, bagID)
}

// BagIdentifierFromContext returns the bag identifier if present.
func BagIdentifierFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(bagIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(stageKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier for one run.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
