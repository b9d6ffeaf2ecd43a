package storyseedsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Storyseed HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "v0",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Project summarizes the records seeded into one project.
type Project struct {
	Key     string         `json:"key"`
	Total   int            `json:"total"`
	ByType  map[string]int `json:"by_type"`
	BoardID string         `json:"board_id,omitempty"`
}

// Record represents a seeded record.
type Record struct {
	Key        string         `json:"key"`
	ProjectKey string         `json:"project_key"`
	ExternalID string         `json:"external_id"`
	IssueType  string         `json:"issue_type"`
	Summary    string         `json:"summary"`
	Status     string         `json:"status"`
	Labels     []string       `json:"labels"`
	Assignee   string         `json:"assignee,omitempty"`
	SprintID   string         `json:"sprint_id,omitempty"`
	SeedMeta   map[string]any `json:"seed_meta,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// RecordDetail adds comments and links to a record.
type RecordDetail struct {
	Record
	Comments int    `json:"comments"`
	Links    []Link `json:"links"`
}

type Link struct {
	Kind    string `json:"kind"`
	FromKey string `json:"from_key"`
	ToKey   string `json:"to_key"`
}

// Run represents one generation run.
type Run struct {
	ID          string `json:"id"`
	Org         string `json:"org"`
	Seed        string `json:"seed"`
	Target      string `json:"target"`
	Months      int    `json:"months"`
	Synthesized int    `json:"synthesized"`
	Created     int    `json:"created"`
	Skipped     int    `json:"skipped"`
	Pending     int    `json:"pending"`
	StartedAt   string `json:"started_at"`
	FinishedAt  string `json:"finished_at,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectKey string         `json:"project_key"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// RecordQuery filters a record listing.
type RecordQuery struct {
	IssueType string
	Status    string
	Label     string
	SprintID  string
	Limit     int
	Cursor    string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedRecords wraps record listings with a cursor.
type PaginatedRecords struct {
	Items      []Record `json:"items"`
	NextCursor string   `json:"next_cursor"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Projects lists seeded projects.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "projects", &resp)
	return resp, err
}

// RecordsPage returns one page of a project's records.
func (c *Client) RecordsPage(ctx context.Context, projectKey string, q RecordQuery) (PaginatedRecords, error) {
	params := url.Values{}
	for k, v := range map[string]string{
		"issue_type": q.IssueType,
		"status":     q.Status,
		"label":      q.Label,
		"sprint_id":  q.SprintID,
		"cursor":     q.Cursor,
	} {
		if v != "" {
			params.Set(k, v)
		}
	}
	if q.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", q.Limit))
	}
	endpoint := fmt.Sprintf("projects/%s/records", url.PathEscape(projectKey))
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedRecords
	err := c.do(ctx, http.MethodGet, endpoint, &resp)
	return resp, err
}

// Records walks every page of a project's records.
func (c *Client) Records(ctx context.Context, projectKey string, q RecordQuery) ([]Record, error) {
	var all []Record
	for {
		page, err := c.RecordsPage(ctx, projectKey, q)
		if err != nil {
			return all, err
		}
		all = append(all, page.Items...)
		if page.NextCursor == "" {
			return all, nil
		}
		q.Cursor = page.NextCursor
	}
}

// Record fetches one record with its links.
func (c *Client) Record(ctx context.Context, key string) (RecordDetail, error) {
	var resp RecordDetail
	err := c.do(ctx, http.MethodGet, "records/"+url.PathEscape(key), &resp)
	return resp, err
}

// Runs lists generation runs, newest first.
func (c *Client) Runs(ctx context.Context) ([]Run, error) {
	var resp []Run
	err := c.do(ctx, http.MethodGet, "runs", &resp)
	return resp, err
}

// Manifest returns the manifest of a run decoded into out.
func (c *Client) Manifest(ctx context.Context, runID string, out any) error {
	return c.do(ctx, http.MethodGet, fmt.Sprintf("runs/%s/manifest", url.PathEscape(runID)), out)
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(nil))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
