package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestExampleStoryIsValid(t *testing.T) {
	s := Example("acme")
	if s.Org() != "acme" {
		t.Fatalf("org = %q", s.Org())
	}
	if got := s.ProjectKeys(); len(got) != 2 || got[0] != "APP" || got[1] != "PLAT" {
		t.Fatalf("unexpected project order %v", got)
	}
	shared := s.SharedTeams()
	if len(shared["APP"]) != 1 || shared["APP"][0] != "platform" {
		t.Fatalf("shared teams = %v", shared)
	}
	if s.Arcs[1].Slug() != "scale-pain" {
		t.Fatalf("slug = %q", s.Arcs[1].Slug())
	}
	if s.Arcs[0].DwellProfile.ReviewStd() != 0.8 || s.Arcs[0].DwellProfile.BlockedStd() != 0.5 {
		t.Fatalf("dwell std defaults not applied")
	}
	if got := s.Recovery(); len(got) != 4 || got[0] != 16 {
		t.Fatalf("recovery months = %v", got)
	}
}

func TestStoryRejectsDegenerateMix(t *testing.T) {
	doc := `
projects: [{key: APP, team_id: web}]
services: [api]
arcs:
  - name: Only Incidents
    start_month: 0
    end_month: 3
    issue_type_mix: {incident: 1}
    work_type_mix: {feature: 1}
    investment_mix: {product: 1}
`
	_, err := FromYAML([]byte(doc))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestStoryRejectsOverlappingArcs(t *testing.T) {
	doc := `
projects: [{key: APP, team_id: web}]
services: [api]
arcs:
  - {name: A, start_month: 0, end_month: 5, issue_type_mix: {story: 1}, work_type_mix: {feature: 1}, investment_mix: {product: 1}}
  - {name: B, start_month: 5, end_month: 9, issue_type_mix: {story: 1}, work_type_mix: {feature: 1}, investment_mix: {product: 1}}
`
	if _, err := FromYAML([]byte(doc)); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected overlap error, got %v", err)
	}
}

func TestStorySchemaRejectsWrongTypes(t *testing.T) {
	doc := `
projects: [{key: APP, team_id: web}]
services: [api]
arcs:
  - {name: A, start_month: "soon", end_month: 5, issue_type_mix: {story: 1}, work_type_mix: {feature: 1}, investment_mix: {product: 1}}
`
	if _, err := FromYAML([]byte(doc)); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected schema error, got %v", err)
	}
}

func TestFromFileMissing(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "nope.yml"))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "story.yml")
	if err := os.WriteFile(path, []byte(GenerateExample("files")), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := FromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.IncidentProjectKey != "PLAT" {
		t.Fatalf("incident project = %q", s.IncidentProjectKey)
	}
}
