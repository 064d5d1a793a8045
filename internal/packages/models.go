package packages

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ProcessStatus represents the pipeline position of a package. Statuses are
// strictly ordered and only ever move forward.
type ProcessStatus string

const (
	StatusSaved                    ProcessStatus = "saved"
	StatusAccessionCreated         ProcessStatus = "accession_created"
	StatusAccessionUpdateSent      ProcessStatus = "accession_update_sent"
	StatusGroupingComponentCreated ProcessStatus = "grouping_component_created"
	StatusTransferComponentCreated ProcessStatus = "transfer_component_created"
	StatusDigitalObjectCreated     ProcessStatus = "digital_object_created"
	StatusUpdateSent               ProcessStatus = "update_sent"
)

var statusRanks = map[ProcessStatus]int{
	StatusSaved:                    10,
	StatusAccessionCreated:         20,
	StatusAccessionUpdateSent:      25,
	StatusGroupingComponentCreated: 30,
	StatusTransferComponentCreated: 40,
	StatusDigitalObjectCreated:     50,
	StatusUpdateSent:               60,
}

var allStatuses = []ProcessStatus{
	StatusSaved,
	StatusAccessionCreated,
	StatusAccessionUpdateSent,
	StatusGroupingComponentCreated,
	StatusTransferComponentCreated,
	StatusDigitalObjectCreated,
	StatusUpdateSent,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []ProcessStatus {
	cp := make([]ProcessStatus, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known ProcessStatus.
func ParseStatus(value string) (ProcessStatus, bool) {
	normalized := ProcessStatus(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := statusRanks[normalized]; !ok {
		return "", false
	}
	return normalized, true
}

// Rank returns the ordering position of a status, or -1 when unknown.
func (s ProcessStatus) Rank() int {
	rank, ok := statusRanks[s]
	if !ok {
		return -1
	}
	return rank
}

// Label returns the operator-facing description of a status.
func (s ProcessStatus) Label() string {
	switch s {
	case StatusSaved:
		return "Transfer saved"
	case StatusAccessionCreated:
		return "Accession record created"
	case StatusAccessionUpdateSent:
		return "Accession update sent to origin"
	case StatusGroupingComponentCreated:
		return "Grouping component created"
	case StatusTransferComponentCreated:
		return "Transfer component created"
	case StatusDigitalObjectCreated:
		return "Digital object created"
	case StatusUpdateSent:
		return "Transfer update sent to origin"
	default:
		return string(s)
	}
}

// Origin identifies which system produced a package.
type Origin string

const (
	OriginSystem        Origin = "origin_system"
	OriginLegacyDigital Origin = "legacy_digital"
	OriginDigitization  Origin = "digitization"
)

// ParseOrigin converts a string into a known Origin.
func ParseOrigin(value string) (Origin, bool) {
	normalized := Origin(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case OriginSystem, OriginLegacyDigital, OriginDigitization:
		return normalized, true
	}
	return "", false
}

// PackageType distinguishes archival information packages from
// dissemination information packages.
type PackageType string

const (
	TypeArchival      PackageType = "aip"
	TypeDissemination PackageType = "dip"
)

// RefField names an external reference field on a Package. Reference
// fields are write-once: a non-empty value is never overwritten with a
// different one.
type RefField string

const (
	RefOriginAccession  RefField = "origin_accession_ref"
	RefOriginTransfer   RefField = "origin_transfer_ref"
	RefCatalogAccession RefField = "catalog_accession_ref"
	RefCatalogResource  RefField = "catalog_resource_ref"
	RefCatalogGroup     RefField = "catalog_group_ref"
	RefCatalogTransfer  RefField = "catalog_transfer_ref"
	RefSourceAccession  RefField = "source_accession_ref"
	RefStorageURI       RefField = "storage_uri"
)

// CorrelationKey names the package field that groups siblings which must
// converge on the same externally-created record.
type CorrelationKey string

const (
	KeySourceAccession CorrelationKey = "source_accession_ref"
	KeyBagIdentifier   CorrelationKey = "bag_identifier"
)

// Package represents one archival transfer moving through the pipeline.
type Package struct {
	ID            int64
	BagIdentifier string
	Origin        Origin
	Type          PackageType
	ProcessStatus ProcessStatus

	OriginAccessionRef  string
	OriginTransferRef   string
	CatalogAccessionRef string
	CatalogResourceRef  string
	CatalogGroupRef     string
	CatalogTransferRef  string
	SourceAccessionRef  string
	StorageURI          string

	AccessionData string
	TransferData  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ref returns the current value of a reference field.
func (p *Package) Ref(field RefField) string {
	ptr := p.refPointer(field)
	if ptr == nil {
		return ""
	}
	return *ptr
}

// SetRef assigns a reference field, enforcing write-once semantics:
// assigning the same value again is a no-op, assigning a different value
// over a non-empty field is an error.
func (p *Package) SetRef(field RefField, value string) error {
	ptr := p.refPointer(field)
	if ptr == nil {
		return fmt.Errorf("unknown reference field %q", field)
	}
	if *ptr != "" && *ptr != value {
		return fmt.Errorf("reference %s already set to %q, refusing overwrite with %q", field, *ptr, value)
	}
	*ptr = value
	return nil
}

func (p *Package) refPointer(field RefField) *string {
	switch field {
	case RefOriginAccession:
		return &p.OriginAccessionRef
	case RefOriginTransfer:
		return &p.OriginTransferRef
	case RefCatalogAccession:
		return &p.CatalogAccessionRef
	case RefCatalogResource:
		return &p.CatalogResourceRef
	case RefCatalogGroup:
		return &p.CatalogGroupRef
	case RefCatalogTransfer:
		return &p.CatalogTransferRef
	case RefSourceAccession:
		return &p.SourceAccessionRef
	case RefStorageURI:
		return &p.StorageURI
	default:
		return nil
	}
}

// CorrelationValue returns the package's value for a correlation key.
func (p *Package) CorrelationValue(key CorrelationKey) string {
	switch key {
	case KeySourceAccession:
		return p.SourceAccessionRef
	case KeyBagIdentifier:
		return p.BagIdentifier
	default:
		return ""
	}
}

// UseStatement returns the digital object use statement for the package type.
func (p *Package) UseStatement() string {
	if p.Type == TypeArchival {
		return "master"
	}
	return "service-edited"
}

// IsTerminal reports whether the package has reached its final status.
// Origin-system packages terminate at update_sent; packages from other
// origins skip the update-notification stages and terminate once their
// digital object exists.
func (p *Package) IsTerminal() bool {
	switch p.ProcessStatus {
	case StatusUpdateSent:
		return true
	case StatusDigitalObjectCreated:
		return p.Origin != OriginSystem
	default:
		return false
	}
}

// AccessionRecord decodes the stored accession data snapshot.
func (p *Package) AccessionRecord() (map[string]any, error) {
	return decodeSnapshot(p.AccessionData)
}

// TransferRecord decodes the stored transfer data snapshot.
func (p *Package) TransferRecord() (map[string]any, error) {
	return decodeSnapshot(p.TransferData)
}

// SetAccessionRecord stores an accession data snapshot.
func (p *Package) SetAccessionRecord(record map[string]any) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode accession data: %w", err)
	}
	p.AccessionData = string(encoded)
	return nil
}

// SetTransferRecord stores a transfer data snapshot.
func (p *Package) SetTransferRecord(record map[string]any) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode transfer data: %w", err)
	}
	p.TransferData = string(encoded)
	return nil
}

func decodeSnapshot(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("decode record snapshot: %w", err)
	}
	return record, nil
}

// HealthSummary describes aggregated package counts per pipeline position.
type HealthSummary struct {
	Total      int
	Saved      int
	InProgress int
	Terminal   int
}
