package correlation_test

import (
	"context"
	"testing"

	"tributary/internal/correlation"
	"tributary/internal/packages"
	"tributary/internal/testsupport"
)

func TestResolvePrefersOwnReference(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	resolver := correlation.NewResolver(store)

	pkg := &packages.Package{
		BagIdentifier:       "bag-own",
		SourceAccessionRef:  "/accessions/9/",
		CatalogAccessionRef: "/repositories/2/accessions/11",
	}
	ref, err := resolver.Resolve(context.Background(), pkg, packages.KeySourceAccession, packages.RefCatalogAccession)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ref != "/repositories/2/accessions/11" {
		t.Fatalf("unexpected ref: %q", ref)
	}
}

func TestResolveFindsSiblingReference(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	resolver := correlation.NewResolver(store)

	sibling := testsupport.NewPackage(t, store, func(p *packages.NewPackageParams) {
		p.BagIdentifier = "bag-sibling"
	})
	sibling.SourceAccessionRef = "/accessions/9/"
	sibling.CatalogAccessionRef = "/repositories/2/accessions/77"
	if err := store.Update(ctx, sibling); err != nil {
		t.Fatalf("update sibling: %v", err)
	}

	current := &packages.Package{
		BagIdentifier:      "bag-current",
		SourceAccessionRef: "/accessions/9/",
	}
	ref, err := resolver.Resolve(ctx, current, packages.KeySourceAccession, packages.RefCatalogAccession)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ref != "/repositories/2/accessions/77" {
		t.Fatalf("expected sibling ref, got %q", ref)
	}
}

func TestResolveEmptyKeyReturnsNothing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	resolver := correlation.NewResolver(store)

	pkg := &packages.Package{BagIdentifier: "bag-nokey"}
	ref, err := resolver.Resolve(context.Background(), pkg, packages.KeySourceAccession, packages.RefCatalogAccession)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ref != "" {
		t.Fatalf("expected empty ref, got %q", ref)
	}
}

func TestPropagateFansOutToSiblings(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	resolver := correlation.NewResolver(store)

	sibling := testsupport.NewPackage(t, store, func(p *packages.NewPackageParams) {
		p.BagIdentifier = "bag-sibling"
	})
	sibling.SourceAccessionRef = "/accessions/9/"
	if err := store.Update(ctx, sibling); err != nil {
		t.Fatalf("update sibling: %v", err)
	}

	current := testsupport.NewPackage(t, store, func(p *packages.NewPackageParams) {
		p.BagIdentifier = "bag-current"
	})
	current.SourceAccessionRef = "/accessions/9/"
	if err := store.Update(ctx, current); err != nil {
		t.Fatalf("update current: %v", err)
	}

	if err := resolver.Propagate(ctx, current, packages.KeySourceAccession, packages.RefCatalogAccession, "/repositories/2/accessions/77"); err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if current.CatalogAccessionRef != "/repositories/2/accessions/77" {
		t.Fatalf("package not updated in memory: %q", current.CatalogAccessionRef)
	}

	stored, err := store.GetByID(ctx, sibling.ID)
	if err != nil {
		t.Fatalf("get sibling: %v", err)
	}
	if stored.CatalogAccessionRef != "/repositories/2/accessions/77" {
		t.Fatalf("sibling not updated: %q", stored.CatalogAccessionRef)
	}
}

func TestPropagateRefusesOverwrite(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	resolver := correlation.NewResolver(store)

	pkg := &packages.Package{
		BagIdentifier:       "bag-set",
		SourceAccessionRef:  "/accessions/9/",
		CatalogAccessionRef: "/repositories/2/accessions/11",
	}
	err := resolver.Propagate(context.Background(), pkg, packages.KeySourceAccession, packages.RefCatalogAccession, "/repositories/2/accessions/99")
	if err == nil {
		t.Fatal("expected overwrite of a set reference to fail")
	}
}

func TestPropagateAccessionData(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	resolver := correlation.NewResolver(store)

	sibling := testsupport.NewPackage(t, store, func(p *packages.NewPackageParams) {
		p.BagIdentifier = "bag-sibling"
	})
	sibling.SourceAccessionRef = "/accessions/9/"
	if err := store.Update(ctx, sibling); err != nil {
		t.Fatalf("update sibling: %v", err)
	}

	current := &packages.Package{
		BagIdentifier:      "bag-current",
		SourceAccessionRef: "/accessions/9/",
	}
	if err := resolver.PropagateAccessionData(ctx, current, `{"title": "Shared"}`); err != nil {
		t.Fatalf("propagate accession data: %v", err)
	}

	stored, err := store.GetByID(ctx, sibling.ID)
	if err != nil {
		t.Fatalf("get sibling: %v", err)
	}
	record, err := stored.AccessionRecord()
	if err != nil {
		t.Fatalf("decode accession record: %v", err)
	}
	if record["title"] != "Shared" {
		t.Fatalf("snapshot not shared: %+v", record)
	}
}
