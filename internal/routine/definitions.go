package routine

import (
	"context"
	"encoding/json"

	"tributary/internal/correlation"
	"tributary/internal/packages"
	"tributary/internal/services"
	"tributary/internal/services/catalog"
	"tributary/internal/transform"
)

// Trigger names, one per stage.
const (
	TriggerProcessAccessions         = "process-accessions"
	TriggerSendAccessionUpdate       = "send-accession-update"
	TriggerProcessGroupingComponents = "process-grouping-components"
	TriggerProcessTransferComponents = "process-transfer-components"
	TriggerProcessDigitalObjects     = "process-digital-objects"
	TriggerSendUpdate                = "send-update"
)

// Origin-side process states reported back as milestones complete.
const (
	originStatusAccessioned = "accessioned"
	originStatusIngested    = "ingested"
)

// Catalog is the subset of the catalog client stage transforms need.
type Catalog interface {
	Create(ctx context.Context, kind catalog.Kind, payload map[string]any) (string, error)
	Retrieve(ctx context.Context, uri string) (map[string]any, error)
	Update(ctx context.Context, uri string, payload map[string]any) error
}

// SourceStore is the subset of the source store client stage transforms need.
type SourceStore interface {
	FindBagByID(ctx context.Context, bagIdentifier string) (map[string]any, error)
	Retrieve(ctx context.Context, uri string) (map[string]any, error)
}

// Origin is the subset of the origin client stage transforms need.
type Origin interface {
	Update(ctx context.Context, uri string, payload map[string]any) error
}

// Allocator creates accession records with collision-safe identifiers.
type Allocator interface {
	CreateAccession(ctx context.Context, payload map[string]any) (string, error)
}

// Mapper builds catalog payloads from source records.
type Mapper interface {
	Accession(ctx context.Context, record map[string]any) (map[string]any, error)
	GroupingComponent(ctx context.Context, record map[string]any, resourceRef string) (map[string]any, error)
	TransferComponent(ctx context.Context, record map[string]any, pkg *packages.Package, groupRef, resourceRef string) (map[string]any, error)
	DigitalObject(pkg *packages.Package) map[string]any
}

// Deps carries the collaborators stage definitions close over.
type Deps struct {
	Resolver    *correlation.Resolver
	Catalog     Catalog
	SourceStore SourceStore
	Origin      Origin
	Allocator   Allocator
	Mapper      Mapper
}

// Definitions returns the canonical stage table in pipeline order.
func Definitions(deps Deps) []Definition {
	return []Definition{
		{
			Name:  TriggerProcessAccessions,
			Label: "accessions created",
			Start: packages.StatusSaved,
			End:   packages.StatusAccessionCreated,
			Apply: deps.processAccession,
		},
		{
			Name:  TriggerSendAccessionUpdate,
			Label: "accession updates sent",
			Start: packages.StatusAccessionCreated,
			End:   packages.StatusAccessionUpdateSent,
			Apply: deps.sendAccessionUpdate,
		},
		{
			Name:  TriggerProcessGroupingComponents,
			Label: "grouping components created",
			Start: packages.StatusAccessionUpdateSent,
			End:   packages.StatusGroupingComponentCreated,
			Apply: deps.processGroupingComponent,
		},
		{
			Name:  TriggerProcessTransferComponents,
			Label: "transfer components created",
			Start: packages.StatusGroupingComponentCreated,
			End:   packages.StatusTransferComponentCreated,
			Apply: deps.processTransferComponent,
		},
		{
			Name:  TriggerProcessDigitalObjects,
			Label: "digital objects created",
			Start: packages.StatusTransferComponentCreated,
			End:   packages.StatusDigitalObjectCreated,
			Apply: deps.processDigitalObject,
		},
		{
			Name:  TriggerSendUpdate,
			Label: "updates sent",
			Start: packages.StatusDigitalObjectCreated,
			End:   packages.StatusUpdateSent,
			Eligible: func(pkg *packages.Package) bool {
				return pkg.Origin == packages.OriginSystem
			},
			Apply: deps.sendUpdate,
		},
	}
}

// processAccession fetches the bag and accession records from the source
// store, then ensures a catalog accession exists for the accession group:
// an existing sibling reference is reused, otherwise a new accession is
// created with an allocated number and fanned out.
func (d Deps) processAccession(ctx context.Context, pkg *packages.Package) (bool, error) {
	bag, err := d.SourceStore.FindBagByID(ctx, pkg.BagIdentifier)
	if err != nil {
		return false, err
	}
	if err := pkg.SetTransferRecord(bag); err != nil {
		return false, err
	}
	// Refs provided at ingest win; the bag record only fills gaps.
	if originTransfer, _ := bag["origin_url"].(string); originTransfer != "" && pkg.OriginTransferRef == "" {
		if err := pkg.SetRef(packages.RefOriginTransfer, originTransfer); err != nil {
			return false, err
		}
	}

	accessionURL, _ := bag["accession"].(string)
	if accessionURL == "" {
		return false, services.Wrap(services.ErrCollaborator, "process-accessions", "bag record", "missing accession url", nil)
	}
	if err := pkg.SetRef(packages.RefSourceAccession, accessionURL); err != nil {
		return false, err
	}

	accessionRecord, err := d.SourceStore.Retrieve(ctx, accessionURL)
	if err != nil {
		return false, err
	}
	if originAccession, _ := accessionRecord["origin_url"].(string); originAccession != "" && pkg.OriginAccessionRef == "" {
		if err := pkg.SetRef(packages.RefOriginAccession, originAccession); err != nil {
			return false, err
		}
	}
	if resource := recordDataString(accessionRecord, "resource"); resource != "" {
		if err := pkg.SetRef(packages.RefCatalogResource, resource); err != nil {
			return false, err
		}
	}

	encoded, err := json.Marshal(accessionRecord)
	if err != nil {
		return false, services.Wrap(services.ErrCollaborator, "process-accessions", "accession record", "encode snapshot", err)
	}
	if err := d.Resolver.PropagateAccessionData(ctx, pkg, string(encoded)); err != nil {
		return false, err
	}

	ref, err := d.Resolver.Resolve(ctx, pkg, packages.KeySourceAccession, packages.RefCatalogAccession)
	if err != nil {
		return false, err
	}
	if ref == "" {
		// The source record itself may already name a catalog accession,
		// e.g. after a partial migration from an earlier deployment.
		ref, _ = accessionRecord["catalog_identifier"].(string)
	}

	created := false
	if ref == "" {
		payload, err := d.Mapper.Accession(ctx, accessionRecord)
		if err != nil {
			return false, err
		}
		ref, err = d.Allocator.CreateAccession(ctx, payload)
		if err != nil {
			return false, err
		}
		created = true
	}

	if err := d.Resolver.Propagate(ctx, pkg, packages.KeySourceAccession, packages.RefCatalogAccession, ref); err != nil {
		return false, err
	}
	return created, nil
}

// sendAccessionUpdate tells the origin system its accession has been
// catalogued.
func (d Deps) sendAccessionUpdate(ctx context.Context, pkg *packages.Package) (bool, error) {
	if pkg.OriginAccessionRef == "" {
		return false, services.Wrap(services.ErrCollaborator, "send-accession-update", "package", "no origin accession reference", nil)
	}
	payload := map[string]any{
		"process_status":     originStatusAccessioned,
		"catalog_identifier": pkg.CatalogAccessionRef,
	}
	if err := d.Origin.Update(ctx, pkg.OriginAccessionRef, payload); err != nil {
		return false, err
	}
	return true, nil
}

// processGroupingComponent ensures the accession group's grouping component
// exists under the collection resource, reusing a sibling's reference when
// one already created it.
func (d Deps) processGroupingComponent(ctx context.Context, pkg *packages.Package) (bool, error) {
	ref, err := d.Resolver.Resolve(ctx, pkg, packages.KeySourceAccession, packages.RefCatalogGroup)
	if err != nil {
		return false, err
	}

	created := false
	if ref == "" {
		record, err := d.accessionRecord(ctx, pkg)
		if err != nil {
			return false, err
		}
		payload, err := d.Mapper.GroupingComponent(ctx, record, pkg.CatalogResourceRef)
		if err != nil {
			return false, err
		}
		ref, err = d.Catalog.Create(ctx, catalog.KindComponent, payload)
		if err != nil {
			return false, err
		}
		created = true
	}

	if err := d.Resolver.Propagate(ctx, pkg, packages.KeySourceAccession, packages.RefCatalogGroup, ref); err != nil {
		return false, err
	}
	return created, nil
}

// processTransferComponent ensures the transfer's archival object exists
// under the grouping component. Archival and dissemination packages for the
// same bag share one component, keyed by bag identifier.
func (d Deps) processTransferComponent(ctx context.Context, pkg *packages.Package) (bool, error) {
	ref, err := d.Resolver.Resolve(ctx, pkg, packages.KeyBagIdentifier, packages.RefCatalogTransfer)
	if err != nil {
		return false, err
	}

	created := false
	if ref == "" {
		record, err := d.transferRecord(ctx, pkg)
		if err != nil {
			return false, err
		}
		payload, err := d.Mapper.TransferComponent(ctx, record, pkg, pkg.CatalogGroupRef, pkg.CatalogResourceRef)
		if err != nil {
			return false, err
		}
		ref, err = d.Catalog.Create(ctx, catalog.KindComponent, payload)
		if err != nil {
			return false, err
		}
		created = true
	}

	if err := d.Resolver.Propagate(ctx, pkg, packages.KeyBagIdentifier, packages.RefCatalogTransfer, ref); err != nil {
		return false, err
	}
	return created, nil
}

// processDigitalObject creates a digital object for the package and
// attaches it as an instance on the transfer component. Unlike the earlier
// stages this is per-package: archival and dissemination packages each get
// their own object.
func (d Deps) processDigitalObject(ctx context.Context, pkg *packages.Package) (bool, error) {
	if pkg.CatalogTransferRef == "" {
		return false, services.Wrap(services.ErrCollaborator, "process-digital-objects", "package", "no transfer component reference", nil)
	}

	uri, err := d.Catalog.Create(ctx, catalog.KindDigitalObject, d.Mapper.DigitalObject(pkg))
	if err != nil {
		return false, err
	}

	component, err := d.Catalog.Retrieve(ctx, pkg.CatalogTransferRef)
	if err != nil {
		return false, err
	}
	instances, _ := component["instances"].([]any)
	component["instances"] = append(instances, transform.Instance(uri))
	if err := d.Catalog.Update(ctx, pkg.CatalogTransferRef, component); err != nil {
		return false, err
	}
	return true, nil
}

// sendUpdate tells the origin system the transfer has been fully ingested.
func (d Deps) sendUpdate(ctx context.Context, pkg *packages.Package) (bool, error) {
	if pkg.OriginTransferRef == "" {
		return false, services.Wrap(services.ErrCollaborator, "send-update", "package", "no origin transfer reference", nil)
	}
	payload := map[string]any{
		"process_status":     originStatusIngested,
		"catalog_identifier": pkg.CatalogTransferRef,
	}
	if err := d.Origin.Update(ctx, pkg.OriginTransferRef, payload); err != nil {
		return false, err
	}
	return true, nil
}

// accessionRecord returns the stored accession snapshot, refetching from
// the source store when a package predates snapshot fan-out.
func (d Deps) accessionRecord(ctx context.Context, pkg *packages.Package) (map[string]any, error) {
	record, err := pkg.AccessionRecord()
	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}
	if pkg.SourceAccessionRef == "" {
		return nil, services.Wrap(services.ErrCollaborator, "routine", "accession record", "no source accession reference", nil)
	}
	return d.SourceStore.Retrieve(ctx, pkg.SourceAccessionRef)
}

func (d Deps) transferRecord(ctx context.Context, pkg *packages.Package) (map[string]any, error) {
	record, err := pkg.TransferRecord()
	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}
	return d.SourceStore.FindBagByID(ctx, pkg.BagIdentifier)
}

func recordDataString(record map[string]any, key string) string {
	if data, ok := record["data"].(map[string]any); ok {
		if value, ok := data[key].(string); ok {
			return value
		}
	}
	if value, ok := record[key].(string); ok {
		return value
	}
	return ""
}
