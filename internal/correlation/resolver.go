// Package correlation keeps sibling packages convergent. Packages that
// share a correlation key (the same source accession, or the same bag)
// must end up pointing at the same externally-created record, and each
// such record must be created at most once.
package correlation

import (
	"context"

	"tributary/internal/packages"
)

// Store is the subset of the package store the resolver needs.
type Store interface {
	FirstSiblingRef(ctx context.Context, key packages.CorrelationKey, keyValue string, field packages.RefField) (string, error)
	FanOutRef(ctx context.Context, key packages.CorrelationKey, keyValue string, field packages.RefField, ref string) (int64, error)
	FanOutAccessionData(ctx context.Context, sourceAccessionRef, data string) (int64, error)
}

// Resolver answers "has a sibling already created this record?" before any
// external create, and propagates acquired references afterwards.
type Resolver struct {
	store Store
}

// NewResolver constructs a resolver over the package store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the reference a sibling already holds for the field, or
// "" when no sibling has one and the caller must create the record itself.
// A package's own non-empty field wins without a store lookup.
func (r *Resolver) Resolve(ctx context.Context, pkg *packages.Package, key packages.CorrelationKey, field packages.RefField) (string, error) {
	if existing := pkg.Ref(field); existing != "" {
		return existing, nil
	}
	keyValue := pkg.CorrelationValue(key)
	if keyValue == "" {
		return "", nil
	}
	return r.store.FirstSiblingRef(ctx, key, keyValue, field)
}

// Propagate writes a freshly acquired reference onto the package and every
// stored sibling whose field is still empty. Siblings that already carry a
// value keep it.
func (r *Resolver) Propagate(ctx context.Context, pkg *packages.Package, key packages.CorrelationKey, field packages.RefField, ref string) error {
	if err := pkg.SetRef(field, ref); err != nil {
		return err
	}
	keyValue := pkg.CorrelationValue(key)
	if keyValue == "" {
		return nil
	}
	_, err := r.store.FanOutRef(ctx, key, keyValue, field, ref)
	return err
}

// PropagateAccessionData shares an accession snapshot with every sibling
// that has none yet, so later stages can build payloads without refetching.
func (r *Resolver) PropagateAccessionData(ctx context.Context, pkg *packages.Package, data string) error {
	pkg.AccessionData = data
	if pkg.SourceAccessionRef == "" {
		return nil
	}
	_, err := r.store.FanOutAccessionData(ctx, pkg.SourceAccessionRef, data)
	return err
}
