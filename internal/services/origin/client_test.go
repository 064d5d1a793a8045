package origin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tributary/internal/config"
	"tributary/internal/services"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(config.Origin{
		BaseURL:        server.URL,
		Username:       "tributary",
		APIKey:         "origin-key",
		TimeoutSeconds: 5,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestUpdatePatchesRecord(t *testing.T) {
	var gotMethod, gotAuth string
	var gotBody map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))

	err := client.Update(context.Background(), "/api/transfers/7/", map[string]any{"process_status": 90})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Fatalf("expected PATCH, got %s", gotMethod)
	}
	if gotAuth != "ApiKey tributary:origin-key" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if gotBody["process_status"] != float64(90) {
		t.Fatalf("unexpected body: %+v", gotBody)
	}
}

func TestUpdateStripsStoredHost(t *testing.T) {
	var gotPath string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))

	err := client.Update(context.Background(), "https://retired-host.example/api/transfers/7/", map[string]any{"process_status": 90})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if gotPath != "/api/transfers/7/" {
		t.Fatalf("host not stripped: %q", gotPath)
	}
}

func TestUpdateSurfacesErrorBody(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream maintenance window"))
	}))

	err := client.Update(context.Background(), "/api/transfers/7/", map[string]any{"process_status": 90})
	if !errors.Is(err, services.ErrCollaborator) {
		t.Fatalf("expected collaborator error, got %v", err)
	}
	if !strings.Contains(err.Error(), "upstream maintenance window") {
		t.Fatalf("response body not preserved in error: %v", err)
	}
}
