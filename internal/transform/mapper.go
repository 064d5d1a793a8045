// Package transform maps source-store records into catalog payloads.
//
// Source records are treated as opaque JSON documents: the mapper reads the
// handful of fields it needs and never validates the rest. Agent links are
// resolved through the catalog's get-or-create so repeated runs reuse the
// same agent records.
package transform

import (
	"context"
	"fmt"
	"time"

	"tributary/internal/packages"
	"tributary/internal/services"
	"tributary/internal/services/catalog"
)

// AgentDirectory resolves agent records by name.
type AgentDirectory interface {
	GetOrCreate(ctx context.Context, kind catalog.Kind, field, value string, modifiedSince time.Time, payload map[string]any) (string, error)
}

// Mapper builds catalog payloads from source records.
type Mapper struct {
	agents AgentDirectory
	skew   time.Duration
	now    func() time.Time
}

// NewMapper constructs a mapper. skew widens the get-or-create modified
// window to cover search-index lag.
func NewMapper(agents AgentDirectory, skew time.Duration) *Mapper {
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	return &Mapper{agents: agents, skew: skew, now: time.Now}
}

// SetClock overrides the time source for tests.
func (m *Mapper) SetClock(now func() time.Time) {
	m.now = now
}

// Accession builds an accession payload from a source accession record.
// Identifier segments and accession date are left to the allocator.
func (m *Mapper) Accession(ctx context.Context, record map[string]any) (map[string]any, error) {
	data := recordData(record)
	title := stringField(data, "title")
	if title == "" {
		return nil, services.Wrap(services.ErrCollaborator, "transform", "accession", "source record has no title", nil)
	}

	payload := map[string]any{
		"title":               title,
		"content_description": stringField(data, "description"),
		"external_ids":        externalIDs(stringField(record, "url")),
	}
	if note := stringField(data, "access_restrictions"); note != "" {
		payload["access_restrictions_note"] = note
	}
	if note := stringField(data, "use_restrictions"); note != "" {
		payload["use_restrictions_note"] = note
	}
	if resource := stringField(data, "resource"); resource != "" {
		payload["related_resources"] = []map[string]any{{"ref": resource}}
	}
	if extents := extentList(data); len(extents) > 0 {
		payload["extents"] = extents
	}
	if dates := dateList(data); len(dates) > 0 {
		payload["dates"] = dates
	}

	agentsLinked, err := m.linkedAgents(ctx, data)
	if err != nil {
		return nil, err
	}
	if len(agentsLinked) > 0 {
		payload["linked_agents"] = agentsLinked
	}
	return payload, nil
}

// GroupingComponent builds the archival object that groups every transfer
// belonging to one accession under the collection resource.
func (m *Mapper) GroupingComponent(ctx context.Context, record map[string]any, resourceRef string) (map[string]any, error) {
	data := recordData(record)
	title := stringField(data, "title")
	if title == "" {
		return nil, services.Wrap(services.ErrCollaborator, "transform", "grouping component", "source record has no title", nil)
	}
	if resourceRef == "" {
		return nil, services.Wrap(services.ErrCollaborator, "transform", "grouping component", "no collection resource reference", nil)
	}

	payload := map[string]any{
		"title":        title,
		"level":        "recordgrp",
		"publish":      false,
		"resource":     map[string]any{"ref": resourceRef},
		"external_ids": externalIDs(stringField(record, "url")),
	}
	if dates := dateList(data); len(dates) > 0 {
		payload["dates"] = dates
	}
	if language := stringField(data, "language"); language != "" {
		payload["language"] = language
	}
	return payload, nil
}

// TransferComponent builds the archival object representing one transfer,
// parented under the grouping component.
func (m *Mapper) TransferComponent(ctx context.Context, record map[string]any, pkg *packages.Package, groupRef, resourceRef string) (map[string]any, error) {
	data := recordData(record)
	title := stringField(data, "title")
	if title == "" {
		title = pkg.BagIdentifier
	}
	if groupRef == "" || resourceRef == "" {
		return nil, services.Wrap(services.ErrCollaborator, "transform", "transfer component", "missing grouping component or resource reference", nil)
	}

	payload := map[string]any{
		"title":        title,
		"level":        "file",
		"publish":      false,
		"resource":     map[string]any{"ref": resourceRef},
		"parent":       map[string]any{"ref": groupRef},
		"external_ids": externalIDs(pkg.BagIdentifier),
	}
	if language := stringField(data, "language"); language != "" {
		payload["language"] = language
	}
	return payload, nil
}

// DigitalObject builds the digital object payload for a package. Every
// package gets its own digital object; the identifier combines the bag
// identifier with the use statement so archival and dissemination objects
// for the same bag stay distinct.
func (m *Mapper) DigitalObject(pkg *packages.Package) map[string]any {
	use := pkg.UseStatement()
	payload := map[string]any{
		"digital_object_id": fmt.Sprintf("%s-%s", pkg.BagIdentifier, use),
		"title":             fmt.Sprintf("%s (%s)", pkg.BagIdentifier, use),
		"publish":           false,
	}
	if pkg.StorageURI != "" {
		payload["file_versions"] = []map[string]any{{
			"file_uri":      pkg.StorageURI,
			"use_statement": use,
		}}
	}
	return payload
}

// Instance builds the instance stub appended to a transfer component after
// its digital object is created.
func Instance(digitalObjectRef string) map[string]any {
	return map[string]any{
		"instance_type":  "digital_object",
		"digital_object": map[string]any{"ref": digitalObjectRef},
	}
}

func (m *Mapper) linkedAgents(ctx context.Context, data map[string]any) ([]map[string]any, error) {
	creators, _ := data["creators"].([]any)
	if len(creators) == 0 {
		return nil, nil
	}

	window := m.now().Add(-m.skew)
	var linked []map[string]any
	for _, entry := range creators {
		creator, _ := entry.(map[string]any)
		name := stringField(creator, "name")
		if name == "" {
			continue
		}
		kind := agentKind(stringField(creator, "type"))
		uri, err := m.agents.GetOrCreate(ctx, kind, "title", name, window, agentPayload(kind, name))
		if err != nil {
			return nil, err
		}
		linked = append(linked, map[string]any{"role": "creator", "ref": uri})
	}
	return linked, nil
}

func agentKind(creatorType string) catalog.Kind {
	switch creatorType {
	case "organization":
		return catalog.KindOrganization
	case "family":
		return catalog.KindFamily
	default:
		return catalog.KindPerson
	}
}

func agentPayload(kind catalog.Kind, name string) map[string]any {
	return map[string]any{
		"title": name,
		"names": []map[string]any{{
			"sort_name": name,
			"primary":   true,
		}},
	}
}

func recordData(record map[string]any) map[string]any {
	if data, ok := record["data"].(map[string]any); ok {
		return data
	}
	return record
}

func stringField(record map[string]any, key string) string {
	if record == nil {
		return ""
	}
	value, _ := record[key].(string)
	return value
}

func externalIDs(id string) []map[string]any {
	if id == "" {
		return nil
	}
	return []map[string]any{{
		"external_id": id,
		"source":      "tributary",
	}}
}

func extentList(data map[string]any) []map[string]any {
	size := stringField(data, "extent_size")
	files := stringField(data, "extent_files")
	var extents []map[string]any
	if size != "" {
		extents = append(extents, map[string]any{
			"number":      size,
			"extent_type": "bytes",
			"portion":     "whole",
		})
	}
	if files != "" {
		extents = append(extents, map[string]any{
			"number":      files,
			"extent_type": "files",
			"portion":     "whole",
		})
	}
	return extents
}

func dateList(data map[string]any) []map[string]any {
	start := stringField(data, "start_date")
	end := stringField(data, "end_date")
	if start == "" && end == "" {
		return nil
	}
	date := map[string]any{
		"label":     "creation",
		"date_type": "inclusive",
	}
	if start != "" {
		date["begin"] = start
	}
	if end != "" {
		date["end"] = end
	}
	return []map[string]any{date}
}
