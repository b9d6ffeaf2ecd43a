package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"storyseed/internal/config"
	"storyseed/internal/engine"
	"storyseed/internal/manifest"
	"storyseed/internal/repo"
)

func baseParams(t *testing.T) GenerateParams {
	t.Helper()
	volume := 3
	return GenerateParams{
		Workspace:     t.TempDir(),
		Story:         config.Example("acme"),
		Seed:          "demo",
		StartDate:     "2023-01-01",
		EndDate:       "2025-01-01",
		MonthlyVolume: &volume,
		Sprints:       true,
		Incidents:     true,
		Transitions:   true,
		Target:        TargetLocal,
		Now:           func() time.Time { return time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func TestGenerateLocalIsResumable(t *testing.T) {
	ctx := context.Background()
	p := baseParams(t)
	p.ManifestPath = filepath.Join(p.Workspace, "manifest.json")
	first, err := Generate(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if first.Result.Created == 0 || first.Result.Created != first.Result.Synthesized {
		t.Fatalf("first run = %+v", first.Result)
	}
	written, err := os.ReadFile(p.ManifestPath)
	if err != nil {
		t.Fatal(err)
	}
	doc, err := manifest.Decode(written)
	if err != nil || doc.Meta.Seed != "demo" || doc.Meta.Months != 24 {
		t.Fatalf("manifest meta = %+v err=%v", doc.Meta, err)
	}

	second, err := Generate(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if second.Result.Created != 0 || second.Result.Skipped != first.Result.Synthesized {
		t.Fatalf("second run = %+v", second.Result)
	}
	if second.Run.ManifestJSON != first.Run.ManifestJSON {
		t.Fatalf("resumed run produced a different manifest")
	}

	ws, err := OpenWorkspace(ctx, p.Workspace)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	runs, err := ws.Repo.ListRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].FinishedAt == "" {
		t.Fatalf("runs = %+v", runs)
	}
	records, err := ws.Repo.ListRecords(ctx, repo.RecordFilters{ProjectKey: "APP"})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) == 0 {
		t.Fatalf("no records stored for APP")
	}
	sprints, err := ws.Repo.ListSprints(ctx, "APP")
	if err != nil {
		t.Fatal(err)
	}
	if len(sprints) != 48 {
		t.Fatalf("sprints = %d, want 48 reused across runs", len(sprints))
	}
}

func TestGenerateLogsEventLogFailures(t *testing.T) {
	ctx := context.Background()
	p := baseParams(t)
	p.Sprints = false
	ws, err := OpenWorkspace(ctx, p.Workspace)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ws.DB.ExecContext(ctx, `DROP TABLE events`); err != nil {
		t.Fatal(err)
	}
	ws.Close()

	var logs bytes.Buffer
	p.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	res, err := Generate(ctx, p)
	if !errors.Is(err, engine.ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
	if res.Run.FinishedAt == "" {
		t.Fatalf("run not finished: %+v", res.Run)
	}
	if n := bytes.Count(logs.Bytes(), []byte("append run event failed")); n != 2 {
		t.Fatalf("run event warnings = %d\n%s", n, logs.String())
	}
}

func TestGenerateMemoryLeavesNoWorkspace(t *testing.T) {
	p := baseParams(t)
	p.Target = TargetMemory
	res, err := Generate(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if res.Result.Created == 0 {
		t.Fatalf("dry run created nothing: %+v", res.Result)
	}
	if _, err := os.Stat(filepath.Join(p.Workspace, ".storyseed")); !os.IsNotExist(err) {
		t.Fatalf("memory target touched the workspace: %v", err)
	}
}

func TestGenerateConfigurationErrors(t *testing.T) {
	cases := map[string]func(*GenerateParams){
		"partial range": func(p *GenerateParams) { p.EndDate = "" },
		"no seed":       func(p *GenerateParams) { p.Seed = "" },
		"bad target":    func(p *GenerateParams) { p.Target = "trello" },
		"jira no creds": func(p *GenerateParams) { p.Target = TargetJira },
	}
	for name, mutate := range cases {
		p := baseParams(t)
		mutate(&p)
		if _, err := Generate(context.Background(), p); !errors.Is(err, config.ErrConfiguration) {
			t.Fatalf("%s: expected configuration error, got %v", name, err)
		}
	}
}
