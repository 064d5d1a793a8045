package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig(t *testing.T) Config {
	t.Helper()
	cfg := Default()
	base := t.TempDir()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Catalog.BaseURL = "https://catalog.test/api"
	cfg.Catalog.Username = "admin"
	cfg.Catalog.Password = "secret"
	cfg.SourceStore.BaseURL = "https://records.test/api"
	cfg.Origin.BaseURL = "https://origin.test/api"
	return cfg
}

func TestDefaultValidatesWithRequiredFields(t *testing.T) {
	cfg := validConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestValidateRejectsMissingCatalogCredentials(t *testing.T) {
	cfg := validConfig(t)
	cfg.Catalog.Username = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing catalog username")
	}
	cfg = validConfig(t)
	cfg.Catalog.BaseURL = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing catalog base_url")
	}
	if !strings.Contains(err.Error(), "catalog.base_url") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsNonPositiveAllocationBound(t *testing.T) {
	cfg := validConfig(t)
	cfg.Accession.MaxCreateAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero max_create_attempts")
	}
}

func TestLoadParsesFileAndNormalizesURLs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[catalog]
base_url = "https://catalog.test/api/"
username = "admin"
password = "secret"

[source_store]
base_url = "https://records.test/api/"

[origin]
base_url = "https://origin.test/api/"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if resolved != path {
		t.Fatalf("expected resolved path %q, got %q", path, resolved)
	}
	if strings.HasSuffix(cfg.Catalog.BaseURL, "/") {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Catalog.BaseURL)
	}
	if cfg.Accession.MaxCreateAttempts != 10 {
		t.Fatalf("expected default allocation bound, got %d", cfg.Accession.MaxCreateAttempts)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("not [valid toml"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestCreateSampleWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[catalog]") {
		t.Fatal("expected sample to contain catalog section")
	}
}
