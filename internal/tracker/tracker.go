package tracker

import (
	"context"
	"fmt"
	"time"

	"storyseed/internal/identity"
)

// Issue is a creation request.
type Issue struct {
	ProjectKey  string
	IssueType   string
	Summary     string
	Description string
	Labels      []string
	Assignee    string
	// CreatedAt is the synthetic creation time. Trackers that assign their
	// own timestamps ignore it.
	CreatedAt   time.Time
}

// Created pairs an external id with the key the tracker assigned.
type Created struct {
	ExternalID string
	Key        string
}

// Client is the tracking-system surface the generator consumes.
// Calls for one project must not run concurrently.
type Client interface {
	// IssueTypes lists issue type names known to the tracker.
	IssueTypes(ctx context.Context) ([]string, error)
	// FindExisting returns external id -> system key for previously seeded records.
	FindExisting(ctx context.Context, projectKey string) (map[string]string, error)
	// ResolveIdentities maps emails to account ids, dropping unresolved ones.
	ResolveIdentities(ctx context.Context, emails []string) ([]string, error)
	// CreateBatch creates issues in order. Fewer results than inputs is allowed.
	CreateBatch(ctx context.Context, issues []Issue) ([]Created, error)
	SetMetadata(ctx context.Context, key string, meta map[string]any) error
	AddComment(ctx context.Context, key, text string) error
	Transition(ctx context.Context, key, targetStatus string) error
	CreateLink(ctx context.Context, kind, fromKey, toKey string) error
	// EnsureBoard returns an existing board for the project or creates one.
	EnsureBoard(ctx context.Context, projectKey string) (string, error)
	CreateSprint(ctx context.Context, name, boardID string, start, end time.Time) (string, error)
	AssignToSprint(ctx context.Context, sprintID string, keys []string) error
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Method     string
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s %s status=%d body=%s", e.Method, e.Endpoint, e.StatusCode, e.Body)
}

// Transient reports whether a retry may succeed.
func (e *APIError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// MetaProperty is the issue property holding seed provenance.
const MetaProperty = "seed_meta"

// BoardName is the scrum board name used per project.
func BoardName(projectKey string) string {
	return projectKey + " Scrum"
}

func externalIDFromLabels(labels []string) (string, bool) {
	for _, l := range labels {
		if ext, ok := identity.FromLabel(l); ok {
			return ext, true
		}
	}
	return "", false
}

var (
	_ Client = (*HTTP)(nil)
	_ Client = (*Memory)(nil)
	_ Client = (*Store)(nil)
)
