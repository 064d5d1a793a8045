package services

import (
	"errors"
	"strings"
	"testing"
)

func TestWrapTagsMarker(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(ErrCollaborator, "accession", "create", "catalog rejected payload", base)
	if !errors.Is(err, ErrCollaborator) {
		t.Fatalf("expected collaborator marker, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped cause to be preserved")
	}
	for _, fragment := range []string{"accession", "create", "catalog rejected payload"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected %q in error, got %q", fragment, err.Error())
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := Wrap(nil, "", "", "", nil)
	if !errors.Is(err, ErrCollaborator) {
		t.Fatalf("expected default collaborator marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected default detail, got %q", err.Error())
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(Wrap(ErrConflict, "accession", "create", "duplicate identifier", nil)) {
		t.Fatal("expected conflict to be retryable")
	}
	if Retryable(Wrap(ErrAmbiguous, "accession", "lookup", "", nil)) {
		t.Fatal("expected ambiguous correlation to be fatal")
	}
	if Retryable(nil) {
		t.Fatal("nil error must not be retryable")
	}
}
