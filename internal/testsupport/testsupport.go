// Package testsupport provides shared helpers for package tests.
package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"tributary/internal/config"
	"tributary/internal/packages"
)

// NewConfig returns a validated configuration rooted in a per-test temp
// directory so tests never touch real data or log paths.
func NewConfig(t *testing.T) *config.Config {
	t.Helper()

	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(root, "data")
	cfg.Paths.LogDir = filepath.Join(root, "logs")
	cfg.Paths.LockFile = filepath.Join(root, "run.lock")
	cfg.Catalog.BaseURL = "http://catalog.test"
	cfg.Catalog.Username = "tributary"
	cfg.Catalog.Password = "secret"
	cfg.SourceStore.BaseURL = "http://sourcestore.test"
	cfg.SourceStore.APIKey = "source-key"
	cfg.Origin.BaseURL = "http://origin.test"
	cfg.Origin.Username = "tributary"
	cfg.Origin.APIKey = "origin-key"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return &cfg
}

// MustOpenStore opens a package store against the test config and registers
// cleanup.
func MustOpenStore(t *testing.T, cfg *config.Config) *packages.Store {
	t.Helper()

	store, err := packages.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// NewPackage inserts a package with sensible defaults, applying any
// overrides via mutate before insert parameters are used.
func NewPackage(t *testing.T, store *packages.Store, mutate func(*packages.NewPackageParams)) *packages.Package {
	t.Helper()

	params := packages.NewPackageParams{
		BagIdentifier:     "bag-0001",
		Origin:            packages.OriginSystem,
		Type:              packages.TypeArchival,
		ProcessStatus:     packages.StatusSaved,
		OriginTransferRef: "/transfers/1/",
		TransferData:      `{"url": "/transfers/1/", "accession": "/accessions/9/"}`,
	}
	if mutate != nil {
		mutate(&params)
	}

	pkg, err := store.NewPackage(context.Background(), params)
	if err != nil {
		t.Fatalf("insert package: %v", err)
	}
	return pkg
}
