// Package api exposes the pipeline over HTTP: stage triggers for the
// scheduler, package ingest for the origin system, and read endpoints for
// operators.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tributary/internal/config"
	"tributary/internal/logging"
	"tributary/internal/packages"
	"tributary/internal/routine"
)

// Runner executes stage triggers.
type Runner interface {
	Run(ctx context.Context, trigger string) (routine.Summary, error)
	Triggers() []string
}

// Store is the subset of the package store the API needs.
type Store interface {
	NewPackage(ctx context.Context, params packages.NewPackageParams) (*packages.Package, error)
	GetByID(ctx context.Context, id int64) (*packages.Package, error)
	List(ctx context.Context, filter packages.ListFilter) ([]*packages.Package, error)
	Health(ctx context.Context) (packages.HealthSummary, error)
	Ping(ctx context.Context) error
}

// Server serves the HTTP API.
type Server struct {
	cfg    *config.Config
	store  Store
	runner Runner
	logger *slog.Logger
	http   *http.Server
}

// NewServer constructs the API server.
func NewServer(cfg *config.Config, store Store, runner Runner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{cfg: cfg, store: store, runner: runner, logger: logger}
	s.http = &http.Server{
		Addr:              cfg.Paths.APIBind,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the route table. Exposed for httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/run/{trigger}", s.handleRun)
	mux.HandleFunc("POST /api/packages", s.handleIngest)
	mux.HandleFunc("GET /api/packages", s.handleList)
	mux.HandleFunc("GET /api/packages/{id}", s.handleGet)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	return mux
}

// ListenAndServe runs the server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()
	s.logger.Info("api server listening",
		logging.String(logging.FieldComponent, "api"),
		logging.String("addr", s.http.Addr),
	)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	trigger := r.PathValue("trigger")
	if !s.knownTrigger(trigger) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown trigger %q", trigger))
		return
	}

	summary, err := s.runner.Run(r.Context(), trigger)
	if err != nil {
		s.logger.Error("trigger run failed",
			logging.String(logging.FieldComponent, "api"),
			logging.String(logging.FieldStage, trigger),
			logging.Error(err),
		)
		status := http.StatusInternalServerError
		if errors.Is(err, routine.ErrRunInProgress) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type ingestRequest struct {
	BagIdentifier      string `json:"bag_identifier"`
	Origin             string `json:"origin"`
	PackageType        string `json:"package_type"`
	OriginTransferRef  string `json:"origin_transfer_ref"`
	OriginAccessionRef string `json:"origin_accession_ref"`
	CatalogTransferRef string `json:"catalog_transfer_ref"`
	StorageURI         string `json:"storage_uri"`
}

// handleIngest registers a package from a transfer notification. Packages
// from the origin system enter at saved and walk the whole pipeline;
// digitization and legacy-digital packages already have a transfer
// component in the catalog, so they enter at transfer_component_created
// and only pass through the digital-object stage.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.BagIdentifier == "" {
		writeError(w, http.StatusBadRequest, "bag_identifier is required")
		return
	}
	origin, ok := packages.ParseOrigin(req.Origin)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown origin %q", req.Origin))
		return
	}
	pkgType := packages.PackageType(req.PackageType)
	if pkgType == "" {
		pkgType = packages.TypeArchival
	}

	params := packages.NewPackageParams{
		BagIdentifier:      req.BagIdentifier,
		Origin:             origin,
		Type:               pkgType,
		ProcessStatus:      packages.StatusSaved,
		OriginTransferRef:  req.OriginTransferRef,
		OriginAccessionRef: req.OriginAccessionRef,
		StorageURI:         req.StorageURI,
	}
	if origin != packages.OriginSystem {
		if req.CatalogTransferRef == "" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("catalog_transfer_ref is required for %s packages", origin))
			return
		}
		params.ProcessStatus = packages.StatusTransferComponentCreated
		params.CatalogTransferRef = req.CatalogTransferRef
	}

	pkg, err := s.store.NewPackage(r.Context(), params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("package registered",
		logging.String(logging.FieldComponent, "api"),
		logging.String(logging.FieldBagID, pkg.BagIdentifier),
		logging.Int64(logging.FieldPackageID, pkg.ID),
		logging.String("status", string(pkg.ProcessStatus)),
	)
	writeJSON(w, http.StatusCreated, renderPackage(pkg))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter := packages.ListFilter{}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, value := range strings.Split(raw, ",") {
			status, ok := packages.ParseStatus(value)
			if !ok {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := r.URL.Query().Get("updated_since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "updated_since must be RFC 3339")
			return
		}
		filter.UpdatedSince = since
	}

	listed, err := s.store.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rendered := make([]packageResponse, 0, len(listed))
	for _, pkg := range listed {
		rendered = append(rendered, renderPackage(pkg))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(rendered),
		"results": rendered,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "package id must be an integer")
		return
	}
	pkg, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if pkg == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("package %d not found", id))
		return
	}
	writeJSON(w, http.StatusOK, renderPackage(pkg))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"healthy": false,
			"detail":  err.Error(),
		})
		return
	}
	health, err := s.store.Health(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"healthy":     true,
		"total":       health.Total,
		"saved":       health.Saved,
		"in_progress": health.InProgress,
		"terminal":    health.Terminal,
		"triggers":    s.runner.Triggers(),
	})
}

func (s *Server) knownTrigger(trigger string) bool {
	for _, name := range s.runner.Triggers() {
		if name == trigger {
			return true
		}
	}
	return false
}

type packageResponse struct {
	ID                  int64  `json:"id"`
	BagIdentifier       string `json:"bag_identifier"`
	Origin              string `json:"origin"`
	PackageType         string `json:"package_type"`
	ProcessStatus       string `json:"process_status"`
	StatusLabel         string `json:"status_label"`
	Terminal            bool   `json:"terminal"`
	OriginAccessionRef  string `json:"origin_accession_ref,omitempty"`
	OriginTransferRef   string `json:"origin_transfer_ref,omitempty"`
	CatalogAccessionRef string `json:"catalog_accession_ref,omitempty"`
	CatalogResourceRef  string `json:"catalog_resource_ref,omitempty"`
	CatalogGroupRef     string `json:"catalog_group_ref,omitempty"`
	CatalogTransferRef  string `json:"catalog_transfer_ref,omitempty"`
	SourceAccessionRef  string `json:"source_accession_ref,omitempty"`
	StorageURI          string `json:"storage_uri,omitempty"`
	CreatedAt           string `json:"created_at"`
	UpdatedAt           string `json:"updated_at"`
}

func renderPackage(pkg *packages.Package) packageResponse {
	return packageResponse{
		ID:                  pkg.ID,
		BagIdentifier:       pkg.BagIdentifier,
		Origin:              string(pkg.Origin),
		PackageType:         string(pkg.Type),
		ProcessStatus:       string(pkg.ProcessStatus),
		StatusLabel:         pkg.ProcessStatus.Label(),
		Terminal:            pkg.IsTerminal(),
		OriginAccessionRef:  pkg.OriginAccessionRef,
		OriginTransferRef:   pkg.OriginTransferRef,
		CatalogAccessionRef: pkg.CatalogAccessionRef,
		CatalogResourceRef:  pkg.CatalogResourceRef,
		CatalogGroupRef:     pkg.CatalogGroupRef,
		CatalogTransferRef:  pkg.CatalogTransferRef,
		SourceAccessionRef:  pkg.SourceAccessionRef,
		StorageURI:          pkg.StorageURI,
		CreatedAt:           pkg.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:           pkg.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
