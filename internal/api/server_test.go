package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"tributary/internal/packages"
	"tributary/internal/routine"
	"tributary/internal/testsupport"
)

type stubRunner struct {
	summary routine.Summary
	err     error
	runs    []string
}

func (s *stubRunner) Run(ctx context.Context, trigger string) (routine.Summary, error) {
	s.runs = append(s.runs, trigger)
	return s.summary, s.err
}

func (s *stubRunner) Triggers() []string {
	return []string{
		routine.TriggerProcessAccessions,
		routine.TriggerSendAccessionUpdate,
		routine.TriggerProcessGroupingComponents,
		routine.TriggerProcessTransferComponents,
		routine.TriggerProcessDigitalObjects,
		routine.TriggerSendUpdate,
	}
}

func newTestServer(t *testing.T, runner *stubRunner) (*Server, *packages.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	return NewServer(cfg, store, runner, nil), store
}

func TestRunTriggerReturnsSummary(t *testing.T) {
	runner := &stubRunner{summary: routine.Summary{
		Trigger: routine.TriggerProcessAccessions,
		Detail:  "2 accessions created",
		Count:   2,
		Objects: []string{"bag-a", "bag-b"},
	}}
	server, _ := newTestServer(t, runner)

	req := httptest.NewRequest(http.MethodPost, "/api/run/process-accessions", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
	var summary routine.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Detail != "2 accessions created" || summary.Count != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(runner.runs) != 1 || runner.runs[0] != routine.TriggerProcessAccessions {
		t.Fatalf("runner not invoked correctly: %v", runner.runs)
	}
}

func TestRunUnknownTriggerIs404(t *testing.T) {
	server, _ := newTestServer(t, &stubRunner{})

	req := httptest.NewRequest(http.MethodPost, "/api/run/defragment", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRunBusyLockIs409(t *testing.T) {
	server, _ := newTestServer(t, &stubRunner{err: routine.ErrRunInProgress})

	req := httptest.NewRequest(http.MethodPost, "/api/run/process-accessions", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestIngestOriginPackageStartsAtSaved(t *testing.T) {
	server, store := newTestServer(t, &stubRunner{})

	body := `{"bag_identifier": "bag-new", "origin": "origin_system", "package_type": "aip", "origin_transfer_ref": "/api/transfers/7/"}`
	req := httptest.NewRequest(http.MethodPost, "/api/packages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
	var created packageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ProcessStatus != string(packages.StatusSaved) {
		t.Fatalf("expected saved status, got %s", created.ProcessStatus)
	}

	stored, err := store.GetByID(context.Background(), created.ID)
	if err != nil || stored == nil {
		t.Fatalf("package not persisted: %v", err)
	}
	if stored.OriginTransferRef != "/api/transfers/7/" {
		t.Fatalf("origin transfer ref lost: %q", stored.OriginTransferRef)
	}
}

func TestIngestDigitizationPackageSkipsToTransferComponentCreated(t *testing.T) {
	server, _ := newTestServer(t, &stubRunner{})

	body := `{"bag_identifier": "bag-scan", "origin": "digitization", "package_type": "dip", "catalog_transfer_ref": "/repositories/2/archival_objects/30", "storage_uri": "https://storage.example/bag-scan.tar"}`
	req := httptest.NewRequest(http.MethodPost, "/api/packages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
	var created packageResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &created)
	if created.ProcessStatus != string(packages.StatusTransferComponentCreated) {
		t.Fatalf("expected transfer_component_created, got %s", created.ProcessStatus)
	}
	if created.CatalogTransferRef != "/repositories/2/archival_objects/30" {
		t.Fatalf("catalog transfer ref not prefilled: %q", created.CatalogTransferRef)
	}
}

func TestIngestDigitizationWithoutTransferRefIs400(t *testing.T) {
	server, _ := newTestServer(t, &stubRunner{})

	body := `{"bag_identifier": "bag-scan", "origin": "digitization"}`
	req := httptest.NewRequest(http.MethodPost, "/api/packages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestIngestRejectsUnknownOrigin(t *testing.T) {
	server, _ := newTestServer(t, &stubRunner{})

	body := `{"bag_identifier": "bag-x", "origin": "mystery"}`
	req := httptest.NewRequest(http.MethodPost, "/api/packages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	server, store := newTestServer(t, &stubRunner{})
	testsupport.NewPackage(t, store, nil)
	testsupport.NewPackage(t, store, func(p *packages.NewPackageParams) {
		p.BagIdentifier = "bag-done"
		p.ProcessStatus = packages.StatusUpdateSent
	})

	req := httptest.NewRequest(http.MethodGet, "/api/packages?status=update_sent", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var listing struct {
		Count   int               `json:"count"`
		Results []packageResponse `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if listing.Count != 1 || listing.Results[0].BagIdentifier != "bag-done" {
		t.Fatalf("unexpected listing: %+v", listing)
	}
	if !listing.Results[0].Terminal {
		t.Fatal("update_sent package should be terminal")
	}
}

func TestListRejectsBadUpdatedSince(t *testing.T) {
	server, _ := newTestServer(t, &stubRunner{})

	req := httptest.NewRequest(http.MethodGet, "/api/packages?updated_since=yesterday", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetPackage(t *testing.T) {
	server, store := newTestServer(t, &stubRunner{})
	pkg := testsupport.NewPackage(t, store, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/packages/"+strconv.FormatInt(pkg.ID, 10), nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/packages/99999", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing package, got %d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	server, store := newTestServer(t, &stubRunner{})
	testsupport.NewPackage(t, store, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var status struct {
		Healthy  bool     `json:"healthy"`
		Total    int      `json:"total"`
		Triggers []string `json:"triggers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status.Healthy || status.Total != 1 {
		t.Fatalf("unexpected status payload: %+v", status)
	}
	if len(status.Triggers) != 6 {
		t.Fatalf("expected 6 triggers, got %d", len(status.Triggers))
	}
}
