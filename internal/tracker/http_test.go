package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func newTestHTTP(t *testing.T, handler http.HandlerFunc) *HTTP {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewHTTP(srv.URL, "bot@example.com", "token")
	c.Sleep = func(time.Duration) {}
	return c
}

func TestFindExistingPaginates(t *testing.T) {
	calls := 0
	c := newTestHTTP(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/3/search" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if user, _, ok := r.BasicAuth(); !ok || user != "bot@example.com" {
			t.Fatalf("missing basic auth")
		}
		calls++
		start, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
		var issues []map[string]any
		for i := start; i < start+100 && i < 150; i++ {
			issues = append(issues, map[string]any{
				"key":    fmt.Sprintf("APP-%d", i+1),
				"fields": map[string]any{"labels": []string{"seeded", fmt.Sprintf("extid-%03d", i), "team:web"}},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"total": 150, "issues": issues})
	})
	found, err := c.FindExisting(context.Background(), "APP")
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 || len(found) != 150 {
		t.Fatalf("calls=%d found=%d", calls, len(found))
	}
	if found["149"] != "APP-150" {
		t.Fatalf("key mapping wrong: %q", found["149"])
	}
}

func TestCreateBatchPreservesOrderAndToleratesPartial(t *testing.T) {
	c := newTestHTTP(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			IssueUpdates []map[string]any `json:"issueUpdates"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(req.IssueUpdates) != 3 {
			t.Fatalf("updates = %d", len(req.IssueUpdates))
		}
		// only the first two were accepted
		_ = json.NewEncoder(w).Encode(map[string]any{"issues": []map[string]string{{"id": "1", "key": "APP-1"}, {"id": "2", "key": "APP-2"}}})
	})
	issues := []Issue{
		{ProjectKey: "APP", IssueType: "Story", Labels: []string{"seeded", "extid-a"}},
		{ProjectKey: "APP", IssueType: "Bug", Labels: []string{"seeded", "extid-b"}},
		{ProjectKey: "APP", IssueType: "Task", Labels: []string{"seeded", "extid-c"}},
	}
	created, err := c.CreateBatch(context.Background(), issues)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 2 || created[0].ExternalID != "a" || created[1].Key != "APP-2" {
		t.Fatalf("created = %+v", created)
	}
}

func TestCreateBatchSkipsRejectedElements(t *testing.T) {
	c := newTestHTTP(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issues": []map[string]string{{"id": "1", "key": "APP-1"}, {"id": "3", "key": "APP-3"}},
			"errors": []map[string]any{{"status": 400, "failedElementNumber": 1, "elementErrors": map[string]any{"errors": map[string]string{"summary": "required"}}}},
		})
	})
	issues := []Issue{
		{ProjectKey: "APP", IssueType: "Story", Labels: []string{"seeded", "extid-a"}},
		{ProjectKey: "APP", IssueType: "Bug", Labels: []string{"seeded", "extid-b"}},
		{ProjectKey: "APP", IssueType: "Task", Labels: []string{"seeded", "extid-c"}},
	}
	created, err := c.CreateBatch(context.Background(), issues)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 2 {
		t.Fatalf("created = %+v", created)
	}
	if created[0] != (Created{ExternalID: "a", Key: "APP-1"}) || created[1] != (Created{ExternalID: "c", Key: "APP-3"}) {
		t.Fatalf("rejected element shifted attribution: %+v", created)
	}
}

func TestRetriesTransientErrors(t *testing.T) {
	attempts := 0
	c := newTestHTTP(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if err := c.AddComment(context.Background(), "APP-1", "hello"); err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d", attempts)
	}
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	c := newTestHTTP(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	})
	err := c.CreateLink(context.Background(), "Blocks", "A-1", "B-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected APIError 400, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d", attempts)
	}
}

func TestTransitionPicksMatchingTarget(t *testing.T) {
	var posted string
	c := newTestHTTP(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_ = json.NewEncoder(w).Encode(map[string]any{"transitions": []map[string]any{
				{"id": "11", "to": map[string]string{"name": "In Progress"}},
				{"id": "31", "to": map[string]string{"name": "Done"}},
			}})
			return
		}
		var body struct {
			Transition struct {
				ID string `json:"id"`
			} `json:"transition"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		posted = body.Transition.ID
		w.WriteHeader(http.StatusNoContent)
	})
	if err := c.Transition(context.Background(), "APP-1", "done"); err != nil {
		t.Fatal(err)
	}
	if posted != "31" {
		t.Fatalf("posted transition %q", posted)
	}
}

func TestEnsureBoardReusesExisting(t *testing.T) {
	created := false
	c := newTestHTTP(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			created = true
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"values": []map[string]any{{"id": 42, "name": "APP Scrum"}}})
	})
	id, err := c.EnsureBoard(context.Background(), "APP")
	if err != nil {
		t.Fatal(err)
	}
	if id != "42" || created {
		t.Fatalf("id=%s created=%v", id, created)
	}
}
