package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCollaborator marks fatal failures from an external system: auth
	// failures, unexpected response shapes, unhandled non-2xx statuses.
	ErrCollaborator = errors.New("collaborator error")
	// ErrAmbiguous marks lookups that expected exactly one match and found
	// zero or several. Indicates upstream data inconsistency, not a
	// transient condition.
	ErrAmbiguous = errors.New("ambiguous correlation")
	// ErrConflict marks a create rejected because an identifier already
	// exists. The one condition callers may retry.
	ErrConflict = errors.New("identifier conflict")
	// ErrNotFound marks a record that could not be located.
	ErrNotFound = errors.New("not found")
	// ErrConfiguration marks unusable client or pipeline configuration.
	ErrConfiguration = errors.New("configuration error")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrCollaborator
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether an error is the optimistic allocation conflict
// that callers are allowed to retry. Everything else is fatal for the run.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
