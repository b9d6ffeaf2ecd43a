package storyseedsdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storyseed/internal/app"
	"storyseed/internal/config"
	"storyseed/internal/server"
)

const testSecret = "sdk-secret"

// newSeededAPI runs a one-project generation into a local workspace and serves it.
func newSeededAPI(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	volume := 2
	story := config.Example("acme")
	story.Projects = story.Projects[:1]
	out, err := app.Generate(ctx, app.GenerateParams{
		Workspace:     dir,
		Story:         story,
		Seed:          "sdk",
		StartDate:     "2023-01-01",
		EndDate:       "2023-03-31",
		MonthlyVolume: &volume,
		Target:        app.TargetLocal,
		Sprints:       true,
		Incidents:     false,
		Now:           func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	ws, err := app.OpenWorkspace(ctx, dir)
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	handler, err := server.New(server.Config{Repo: ws.Repo, Auth: server.AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, out.Run.ID
}

func TestClientReadsSeededWorkspace(t *testing.T) {
	srv, runID := newSeededAPI(t)
	token, err := server.IssueToken(testSecret, "sdk-test", nil, time.Hour, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	c := New(srv.URL, token)
	ctx := context.Background()

	projects, err := c.Projects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 1 {
		t.Fatalf("projects = %+v", projects)
	}
	p := projects[0]

	records, err := c.Records(ctx, p.Key, RecordQuery{Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != p.Total {
		t.Fatalf("paged %d records, project total %d", len(records), p.Total)
	}
	seen := map[string]bool{}
	for _, r := range records {
		if seen[r.Key] {
			t.Fatalf("record %s listed twice", r.Key)
		}
		seen[r.Key] = true
	}

	detail, err := c.Record(ctx, records[0].Key)
	if err != nil {
		t.Fatal(err)
	}
	if detail.ExternalID == "" || detail.SeedMeta == nil {
		t.Fatalf("detail = %+v", detail)
	}

	runs, err := c.Runs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != runID || runs[0].Created != p.Total {
		t.Fatalf("runs = %+v", runs)
	}
	var doc struct {
		Meta struct {
			Seed string `json:"seed"`
		} `json:"meta"`
	}
	if err := c.Manifest(ctx, runID, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Meta.Seed != "sdk" {
		t.Fatalf("manifest seed %q", doc.Meta.Seed)
	}

	page, err := c.EventsPage(ctx, 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 10 || page.NextCursor == "" {
		t.Fatalf("events page = %d items, cursor %q", len(page.Items), page.NextCursor)
	}
}

func TestClientSurfacesAPIError(t *testing.T) {
	srv, _ := newSeededAPI(t)
	c := New(srv.URL, "")
	_, err := c.Projects(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
}
