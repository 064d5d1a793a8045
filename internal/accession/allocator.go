// Package accession allocates accession identifiers and creates accession
// records in the catalog.
//
// Identifiers take the form YEAR:NNN, where NNN is a zero-padded counter
// that restarts each calendar year. Allocation is optimistic: the allocator
// picks the next free suffix from a catalog search, and if the create is
// rejected because the identifier is already taken it bumps the suffix and
// tries again, up to a configured bound.
package accession

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"tributary/internal/services"
	"tributary/internal/services/catalog"
)

// Catalog is the subset of the catalog client the allocator needs.
type Catalog interface {
	Create(ctx context.Context, kind catalog.Kind, payload map[string]any) (string, error)
	HighestAccessionSuffix(ctx context.Context, year string) (int, error)
}

// Allocator creates accession records with collision-safe identifiers.
type Allocator struct {
	catalog     Catalog
	maxAttempts int
	now         func() time.Time
}

// NewAllocator constructs an allocator. maxAttempts bounds the number of
// create attempts per accession; values below 1 are coerced to 1.
func NewAllocator(cat Catalog, maxAttempts int) *Allocator {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Allocator{
		catalog:     cat,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// SetClock overrides the time source. Tests pin the year with it.
func (a *Allocator) SetClock(now func() time.Time) {
	a.now = now
}

// FormatSuffix renders a numeric suffix as the identifier segment. Padding
// is three digits; suffixes past 999 simply grow wider.
func FormatSuffix(suffix int) string {
	return fmt.Sprintf("%03d", suffix)
}

// Number renders a full accession number.
func Number(year string, suffix int) string {
	return year + ":" + FormatSuffix(suffix)
}

// Next returns the current year and the next unused suffix according to
// the catalog's search index.
func (a *Allocator) Next(ctx context.Context) (string, int, error) {
	year := strconv.Itoa(a.now().UTC().Year())
	highest, err := a.catalog.HighestAccessionSuffix(ctx, year)
	if err != nil {
		return "", 0, err
	}
	return year, highest + 1, nil
}

// CreateAccession creates an accession record, filling the identifier
// segments before each attempt. An identifier conflict advances the suffix
// and retries; any other failure is returned immediately. When every
// attempt within the bound conflicts, the run fails rather than looping
// forever against an inconsistent search index.
func (a *Allocator) CreateAccession(ctx context.Context, payload map[string]any) (string, error) {
	year, suffix, err := a.Next(ctx)
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		payload["id_0"] = year
		payload["id_1"] = FormatSuffix(suffix)
		payload["accession_date"] = a.now().UTC().Format("2006-01-02")

		uri, err := a.catalog.Create(ctx, catalog.KindAccession, payload)
		if err == nil {
			return uri, nil
		}
		if !services.Retryable(err) {
			return "", err
		}
		lastErr = err
		suffix++
	}

	// The give-up error must not carry the conflict marker: chaining lastErr
	// would keep it classified as retryable, and an exhausted bound is fatal.
	detail := fmt.Sprintf("gave up after %d identifier conflicts, last tried %s", a.maxAttempts, Number(year, suffix-1))
	if lastErr != nil {
		detail += ": " + lastErr.Error()
	}
	return "", services.Wrap(services.ErrCollaborator, "accession", "create", detail, nil)
}
