package packages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"tributary/internal/config"
)

// Store manages package persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the package database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "packages.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// NewPackageParams carries the fields required to register a package from a
// transfer notification.
type NewPackageParams struct {
	BagIdentifier      string
	Origin             Origin
	Type               PackageType
	ProcessStatus      ProcessStatus
	OriginTransferRef  string
	OriginAccessionRef string
	CatalogTransferRef string
	StorageURI         string
	TransferData       string
}

// NewPackage inserts a package record. The caller decides the initial
// status: origin-system transfers start at saved, packages from other
// origins enter the pipeline at transfer_component_created.
func (s *Store) NewPackage(ctx context.Context, params NewPackageParams) (*Package, error) {
	if params.BagIdentifier == "" {
		return nil, errors.New("bag identifier is required")
	}
	if _, ok := ParseOrigin(string(params.Origin)); !ok {
		return nil, fmt.Errorf("unknown origin %q", params.Origin)
	}
	status := params.ProcessStatus
	if status == "" {
		status = StatusSaved
	}
	if status.Rank() < 0 {
		return nil, fmt.Errorf("unknown process status %q", status)
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO packages (
            bag_identifier, origin, package_type, process_status,
            origin_transfer_ref, origin_accession_ref, catalog_transfer_ref,
            storage_uri, transfer_data, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		params.BagIdentifier,
		string(params.Origin),
		string(params.Type),
		string(status),
		nullableString(params.OriginTransferRef),
		nullableString(params.OriginAccessionRef),
		nullableString(params.CatalogTransferRef),
		nullableString(params.StorageURI),
		nullableString(params.TransferData),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert package: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a package by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Package, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+packageColumns+` FROM packages WHERE id = ?`, id)
	pkg, err := scanPackage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get package: %w", err)
	}
	return pkg, nil
}

// Update persists changes to an existing package. Status regressions are
// rejected: processStatus only moves forward.
func (s *Store) Update(ctx context.Context, pkg *Package) error {
	if pkg == nil {
		return errors.New("package is nil")
	}
	if pkg.ProcessStatus.Rank() < 0 {
		return fmt.Errorf("unknown process status %q", pkg.ProcessStatus)
	}

	var currentStatus string
	row := s.db.QueryRowContext(ctx, `SELECT process_status FROM packages WHERE id = ?`, pkg.ID)
	if err := row.Scan(&currentStatus); err != nil {
		return fmt.Errorf("read current status: %w", err)
	}
	if ProcessStatus(currentStatus).Rank() > pkg.ProcessStatus.Rank() {
		return fmt.Errorf("package %d status would regress from %s to %s", pkg.ID, currentStatus, pkg.ProcessStatus)
	}

	pkg.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE packages
         SET bag_identifier = ?, origin = ?, package_type = ?, process_status = ?,
             origin_accession_ref = ?, origin_transfer_ref = ?, catalog_accession_ref = ?,
             catalog_resource_ref = ?, catalog_group_ref = ?, catalog_transfer_ref = ?,
             source_accession_ref = ?, storage_uri = ?, accession_data = ?, transfer_data = ?,
             updated_at = ?
         WHERE id = ?`,
		pkg.BagIdentifier,
		string(pkg.Origin),
		string(pkg.Type),
		string(pkg.ProcessStatus),
		nullableString(pkg.OriginAccessionRef),
		nullableString(pkg.OriginTransferRef),
		nullableString(pkg.CatalogAccessionRef),
		nullableString(pkg.CatalogResourceRef),
		nullableString(pkg.CatalogGroupRef),
		nullableString(pkg.CatalogTransferRef),
		nullableString(pkg.SourceAccessionRef),
		nullableString(pkg.StorageURI),
		nullableString(pkg.AccessionData),
		nullableString(pkg.TransferData),
		pkg.UpdatedAt.Format(time.RFC3339Nano),
		pkg.ID,
	)
	if err != nil {
		return fmt.Errorf("update package: %w", err)
	}
	return nil
}

// PackagesByStatus returns packages at a status in stable id order. This is
// the stage routine's selection snapshot.
func (s *Store) PackagesByStatus(ctx context.Context, status ProcessStatus) ([]*Package, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+packageColumns+` FROM packages WHERE process_status = ? ORDER BY id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query by status: %w", err)
	}
	defer rows.Close()
	return collectPackages(rows)
}

// ListFilter narrows List results.
type ListFilter struct {
	Statuses     []ProcessStatus
	UpdatedSince time.Time
}

// List returns packages matching the filter ordered by id.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages`
	var clauses []string
	var args []any

	if len(filter.Statuses) > 0 {
		placeholders := makePlaceholders(len(filter.Statuses))
		clauses = append(clauses, `process_status IN (`+placeholders+`)`)
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	if !filter.UpdatedSince.IsZero() {
		clauses = append(clauses, `updated_at >= ?`)
		args = append(args, filter.UpdatedSince.UTC().Format(time.RFC3339Nano))
	}
	for i, clause := range clauses {
		if i == 0 {
			query += ` WHERE ` + clause
		} else {
			query += ` AND ` + clause
		}
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()
	return collectPackages(rows)
}

// FirstSiblingRef returns the reference value of the first package sharing
// the correlation key whose target field is already set, or "" when none
// exists.
func (s *Store) FirstSiblingRef(ctx context.Context, key CorrelationKey, keyValue string, field RefField) (string, error) {
	keyColumn, err := correlationColumn(key)
	if err != nil {
		return "", err
	}
	refColumn, err := refColumn(field)
	if err != nil {
		return "", err
	}
	if keyValue == "" {
		return "", nil
	}

	query := `SELECT ` + refColumn + ` FROM packages WHERE ` + keyColumn + ` = ? AND ` + refColumn + ` IS NOT NULL AND ` + refColumn + ` != '' ORDER BY id LIMIT 1`
	var ref string
	row := s.db.QueryRowContext(ctx, query, keyValue)
	if err := row.Scan(&ref); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("first sibling ref: %w", err)
	}
	return ref, nil
}

// FanOutRef writes a reference onto every stored package sharing the
// correlation key whose target field is still empty, regardless of stage.
// Already-set fields are left untouched, preserving write-once semantics.
func (s *Store) FanOutRef(ctx context.Context, key CorrelationKey, keyValue string, field RefField, ref string) (int64, error) {
	keyColumn, err := correlationColumn(key)
	if err != nil {
		return 0, err
	}
	refColumn, err := refColumn(field)
	if err != nil {
		return 0, err
	}
	if keyValue == "" || ref == "" {
		return 0, nil
	}

	query := `UPDATE packages SET ` + refColumn + ` = ?, updated_at = ? WHERE ` + keyColumn + ` = ? AND (` + refColumn + ` IS NULL OR ` + refColumn + ` = '')`
	res, err := s.db.ExecContext(ctx, query, ref, time.Now().UTC().Format(time.RFC3339Nano), keyValue)
	if err != nil {
		return 0, fmt.Errorf("fan out ref: %w", err)
	}
	return res.RowsAffected()
}

// FanOutAccessionData copies an accession data snapshot onto every sibling
// sharing the source accession reference that has no snapshot yet.
func (s *Store) FanOutAccessionData(ctx context.Context, sourceAccessionRef, data string) (int64, error) {
	if sourceAccessionRef == "" || data == "" {
		return 0, nil
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE packages SET accession_data = ?, updated_at = ?
         WHERE source_accession_ref = ? AND (accession_data IS NULL OR accession_data = '')`,
		data,
		time.Now().UTC().Format(time.RFC3339Nano),
		sourceAccessionRef,
	)
	if err != nil {
		return 0, fmt.Errorf("fan out accession data: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of packages grouped by status.
func (s *Store) Stats(ctx context.Context) (map[ProcessStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT process_status, COUNT(1) FROM packages GROUP BY process_status`)
	if err != nil {
		return nil, fmt.Errorf("package stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[ProcessStatus]int)
	for rows.Next() {
		var status ProcessStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates package state for diagnostic output. Terminal counts
// respect origin: packages from outside the origin system finish at
// digital_object_created.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT process_status, origin, COUNT(1) FROM packages GROUP BY process_status, origin`)
	if err != nil {
		return HealthSummary{}, fmt.Errorf("package health: %w", err)
	}
	defer rows.Close()

	health := HealthSummary{}
	for rows.Next() {
		var status ProcessStatus
		var origin Origin
		var count int
		if err := rows.Scan(&status, &origin, &count); err != nil {
			return HealthSummary{}, err
		}
		health.Total += count
		probe := Package{ProcessStatus: status, Origin: origin}
		switch {
		case status == StatusSaved:
			health.Saved += count
		case probe.IsTerminal():
			health.Terminal += count
		default:
			health.InProgress += count
		}
	}
	return health, rows.Err()
}

// Ping verifies the database connection is usable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("package database connection unavailable")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping package database: %w", err)
	}
	return nil
}

const packageColumns = "id, bag_identifier, origin, package_type, process_status, origin_accession_ref, origin_transfer_ref, catalog_accession_ref, catalog_resource_ref, catalog_group_ref, catalog_transfer_ref, source_accession_ref, storage_uri, accession_data, transfer_data, created_at, updated_at"

func collectPackages(rows *sql.Rows) ([]*Package, error) {
	var result []*Package
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, pkg)
	}
	return result, rows.Err()
}

func scanPackage(scanner interface{ Scan(dest ...any) error }) (*Package, error) {
	var (
		id                int64
		bagIdentifier     string
		origin            string
		packageType       sql.NullString
		processStatus     string
		originAccession   sql.NullString
		originTransfer    sql.NullString
		catalogAccession  sql.NullString
		catalogResource   sql.NullString
		catalogGroup      sql.NullString
		catalogTransfer   sql.NullString
		sourceAccession   sql.NullString
		storageURI        sql.NullString
		accessionData     sql.NullString
		transferData      sql.NullString
		createdRaw        sql.NullString
		updatedRaw        sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&bagIdentifier,
		&origin,
		&packageType,
		&processStatus,
		&originAccession,
		&originTransfer,
		&catalogAccession,
		&catalogResource,
		&catalogGroup,
		&catalogTransfer,
		&sourceAccession,
		&storageURI,
		&accessionData,
		&transferData,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	pkg := &Package{
		ID:                  id,
		BagIdentifier:       bagIdentifier,
		Origin:              Origin(origin),
		Type:                PackageType(packageType.String),
		ProcessStatus:       ProcessStatus(processStatus),
		OriginAccessionRef:  originAccession.String,
		OriginTransferRef:   originTransfer.String,
		CatalogAccessionRef: catalogAccession.String,
		CatalogResourceRef:  catalogResource.String,
		CatalogGroupRef:     catalogGroup.String,
		CatalogTransferRef:  catalogTransfer.String,
		SourceAccessionRef:  sourceAccession.String,
		StorageURI:          storageURI.String,
		AccessionData:       accessionData.String,
		TransferData:        transferData.String,
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		pkg.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		pkg.UpdatedAt = updated
	}
	return pkg, nil
}

func correlationColumn(key CorrelationKey) (string, error) {
	switch key {
	case KeySourceAccession:
		return "source_accession_ref", nil
	case KeyBagIdentifier:
		return "bag_identifier", nil
	default:
		return "", fmt.Errorf("unknown correlation key %q", key)
	}
}

func refColumn(field RefField) (string, error) {
	switch field {
	case RefOriginAccession, RefOriginTransfer, RefCatalogAccession, RefCatalogResource,
		RefCatalogGroup, RefCatalogTransfer, RefSourceAccession, RefStorageURI:
		return string(field), nil
	default:
		return "", fmt.Errorf("unknown reference field %q", field)
	}
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
