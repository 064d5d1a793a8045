package transform

import (
	"context"
	"errors"
	"testing"
	"time"

	"tributary/internal/packages"
	"tributary/internal/services"
	"tributary/internal/services/catalog"
)

type fakeAgents struct {
	calls []string
	uris  map[string]string
	err   error
}

func (f *fakeAgents) GetOrCreate(ctx context.Context, kind catalog.Kind, field, value string, modifiedSince time.Time, payload map[string]any) (string, error) {
	f.calls = append(f.calls, string(kind)+":"+value)
	if f.err != nil {
		return "", f.err
	}
	if uri, ok := f.uris[value]; ok {
		return uri, nil
	}
	return "/agents/people/1", nil
}

func sourceAccession() map[string]any {
	return map[string]any{
		"url": "/accessions/9/",
		"data": map[string]any{
			"title":               "Jane Doe papers",
			"description":        "Correspondence and notebooks",
			"access_restrictions": "Closed for 10 years",
			"use_restrictions":    "Copyright retained",
			"resource":            "/repositories/2/resources/3",
			"extent_size":         "1024",
			"extent_files":        "12",
			"start_date":          "2001-01-01",
			"end_date":            "2010-12-31",
			"creators": []any{
				map[string]any{"name": "Doe, Jane", "type": "person"},
				map[string]any{"name": "Example Society", "type": "organization"},
			},
		},
	}
}

func TestAccessionPayload(t *testing.T) {
	agents := &fakeAgents{uris: map[string]string{
		"Doe, Jane":       "/agents/people/5",
		"Example Society": "/agents/corporate_entities/8",
	}}
	mapper := NewMapper(agents, 2*time.Minute)

	payload, err := mapper.Accession(context.Background(), sourceAccession())
	if err != nil {
		t.Fatalf("accession: %v", err)
	}
	if payload["title"] != "Jane Doe papers" {
		t.Fatalf("unexpected title: %v", payload["title"])
	}
	if payload["access_restrictions_note"] != "Closed for 10 years" {
		t.Fatalf("unexpected restrictions: %v", payload["access_restrictions_note"])
	}

	linked, _ := payload["linked_agents"].([]map[string]any)
	if len(linked) != 2 {
		t.Fatalf("expected 2 linked agents, got %d", len(linked))
	}
	if linked[0]["ref"] != "/agents/people/5" || linked[1]["ref"] != "/agents/corporate_entities/8" {
		t.Fatalf("unexpected agent refs: %+v", linked)
	}
	if len(agents.calls) != 2 || agents.calls[1] != "agent_organization:Example Society" {
		t.Fatalf("unexpected agent lookups: %v", agents.calls)
	}

	extents, _ := payload["extents"].([]map[string]any)
	if len(extents) != 2 {
		t.Fatalf("expected size and file extents, got %+v", extents)
	}
	dates, _ := payload["dates"].([]map[string]any)
	if len(dates) != 1 || dates[0]["begin"] != "2001-01-01" {
		t.Fatalf("unexpected dates: %+v", dates)
	}
}

func TestAccessionRequiresTitle(t *testing.T) {
	mapper := NewMapper(&fakeAgents{}, 2*time.Minute)
	_, err := mapper.Accession(context.Background(), map[string]any{"data": map[string]any{}})
	if !errors.Is(err, services.ErrCollaborator) {
		t.Fatalf("expected collaborator error, got %v", err)
	}
}

func TestAccessionAgentFailureAborts(t *testing.T) {
	agents := &fakeAgents{err: services.Wrap(services.ErrCollaborator, "catalog", "search", "status 500", nil)}
	mapper := NewMapper(agents, 2*time.Minute)

	_, err := mapper.Accession(context.Background(), sourceAccession())
	if !errors.Is(err, services.ErrCollaborator) {
		t.Fatalf("expected collaborator error, got %v", err)
	}
}

func TestGroupingComponentPayload(t *testing.T) {
	mapper := NewMapper(&fakeAgents{}, 2*time.Minute)

	payload, err := mapper.GroupingComponent(context.Background(), sourceAccession(), "/repositories/2/resources/3")
	if err != nil {
		t.Fatalf("grouping component: %v", err)
	}
	if payload["level"] != "recordgrp" {
		t.Fatalf("unexpected level: %v", payload["level"])
	}
	resource, _ := payload["resource"].(map[string]any)
	if resource["ref"] != "/repositories/2/resources/3" {
		t.Fatalf("unexpected resource: %+v", resource)
	}
}

func TestGroupingComponentRequiresResource(t *testing.T) {
	mapper := NewMapper(&fakeAgents{}, 2*time.Minute)
	_, err := mapper.GroupingComponent(context.Background(), sourceAccession(), "")
	if err == nil {
		t.Fatal("expected missing resource reference to fail")
	}
}

func TestTransferComponentPayload(t *testing.T) {
	mapper := NewMapper(&fakeAgents{}, 2*time.Minute)
	pkg := &packages.Package{BagIdentifier: "bag-42"}
	record := map[string]any{"data": map[string]any{"title": "Transfer one"}}

	payload, err := mapper.TransferComponent(context.Background(), record, pkg, "/repositories/2/archival_objects/10", "/repositories/2/resources/3")
	if err != nil {
		t.Fatalf("transfer component: %v", err)
	}
	if payload["level"] != "file" {
		t.Fatalf("unexpected level: %v", payload["level"])
	}
	parent, _ := payload["parent"].(map[string]any)
	if parent["ref"] != "/repositories/2/archival_objects/10" {
		t.Fatalf("unexpected parent: %+v", parent)
	}
	ids, _ := payload["external_ids"].([]map[string]any)
	if len(ids) != 1 || ids[0]["external_id"] != "bag-42" {
		t.Fatalf("bag identifier not recorded: %+v", ids)
	}
}

func TestTransferComponentFallsBackToBagIdentifierTitle(t *testing.T) {
	mapper := NewMapper(&fakeAgents{}, 2*time.Minute)
	pkg := &packages.Package{BagIdentifier: "bag-42"}

	payload, err := mapper.TransferComponent(context.Background(), map[string]any{}, pkg, "/g", "/r")
	if err != nil {
		t.Fatalf("transfer component: %v", err)
	}
	if payload["title"] != "bag-42" {
		t.Fatalf("unexpected title: %v", payload["title"])
	}
}

func TestDigitalObjectPayloadUsesUseStatement(t *testing.T) {
	mapper := NewMapper(&fakeAgents{}, 2*time.Minute)

	archival := &packages.Package{BagIdentifier: "bag-42", Type: packages.TypeArchival, StorageURI: "https://storage.example/bag-42.tar"}
	payload := mapper.DigitalObject(archival)
	if payload["digital_object_id"] != "bag-42-master" {
		t.Fatalf("unexpected id: %v", payload["digital_object_id"])
	}
	versions, _ := payload["file_versions"].([]map[string]any)
	if len(versions) != 1 || versions[0]["use_statement"] != "master" {
		t.Fatalf("unexpected file versions: %+v", versions)
	}

	dissemination := &packages.Package{BagIdentifier: "bag-42", Type: packages.TypeDissemination}
	payload = mapper.DigitalObject(dissemination)
	if payload["digital_object_id"] != "bag-42-service-edited" {
		t.Fatalf("unexpected id: %v", payload["digital_object_id"])
	}
	if _, ok := payload["file_versions"]; ok {
		t.Fatal("no storage URI should mean no file versions")
	}
}

func TestInstanceStub(t *testing.T) {
	stub := Instance("/repositories/2/digital_objects/7")
	ref, _ := stub["digital_object"].(map[string]any)
	if stub["instance_type"] != "digital_object" || ref["ref"] != "/repositories/2/digital_objects/7" {
		t.Fatalf("unexpected instance stub: %+v", stub)
	}
}
