package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const searchPageSize = 100

// HTTP is a Jira Cloud REST client.
type HTTP struct {
	BaseURL    string
	User       string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
	Attempts   int
	Backoff    time.Duration
	Logger     *slog.Logger
	// Sleep is replaced in tests.
	Sleep func(time.Duration)
}

// NewHTTP creates a client with the seeder's defaults: 40s timeout, 3 attempts, 1s backoff.
func NewHTTP(baseURL, user, token string) *HTTP {
	return &HTTP{
		BaseURL:  baseURL,
		User:     user,
		Token:    token,
		Timeout:  40 * time.Second,
		Attempts: 3,
		Backoff:  time.Second,
	}
}

type adfDoc struct {
	Type    string    `json:"type"`
	Version int       `json:"version"`
	Content []adfNode `json:"content"`
}

type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text,omitempty"`
	Content []adfNode `json:"content,omitempty"`
}

// adfText wraps plain text in an Atlassian document.
func adfText(text string) adfDoc {
	return adfDoc{
		Type:    "doc",
		Version: 1,
		Content: []adfNode{{Type: "paragraph", Content: []adfNode{{Type: "text", Text: text}}}},
	}
}

func (c *HTTP) IssueTypes(ctx context.Context) ([]string, error) {
	var resp []struct {
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, "/rest/api/3/issuetype", nil, nil, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp))
	for _, it := range resp {
		if it.Name != "" {
			names = append(names, it.Name)
		}
	}
	return names, nil
}

func (c *HTTP) FindExisting(ctx context.Context, projectKey string) (map[string]string, error) {
	found := map[string]string{}
	startAt := 0
	for {
		params := url.Values{}
		params.Set("jql", fmt.Sprintf(`project = %s AND labels = "seeded"`, projectKey))
		params.Set("startAt", strconv.Itoa(startAt))
		params.Set("maxResults", strconv.Itoa(searchPageSize))
		params.Set("fields", "labels")
		var page struct {
			Total  int `json:"total"`
			Issues []struct {
				Key    string `json:"key"`
				Fields struct {
					Labels []string `json:"labels"`
				} `json:"fields"`
			} `json:"issues"`
		}
		if err := c.do(ctx, http.MethodGet, "/rest/api/3/search", params, nil, &page); err != nil {
			return found, err
		}
		for _, is := range page.Issues {
			if ext, ok := externalIDFromLabels(is.Fields.Labels); ok {
				found[ext] = is.Key
			}
		}
		if len(page.Issues) == 0 || startAt+searchPageSize >= page.Total {
			return found, nil
		}
		startAt += searchPageSize
	}
}

func (c *HTTP) ResolveIdentities(ctx context.Context, emails []string) ([]string, error) {
	var ids []string
	for _, email := range emails {
		params := url.Values{}
		params.Set("query", email)
		var users []struct {
			AccountID string `json:"accountId"`
		}
		if err := c.do(ctx, http.MethodGet, "/rest/api/3/user/search", params, nil, &users); err != nil {
			c.logger().Warn("resolve identity failed", "email", email, "err", err)
			continue
		}
		if len(users) > 0 && users[0].AccountID != "" {
			ids = append(ids, users[0].AccountID)
		}
	}
	return ids, nil
}

func (c *HTTP) CreateBatch(ctx context.Context, issues []Issue) ([]Created, error) {
	if len(issues) == 0 {
		return nil, nil
	}
	updates := make([]map[string]any, 0, len(issues))
	for _, is := range issues {
		fields := map[string]any{
			"project":     map[string]string{"key": is.ProjectKey},
			"summary":     is.Summary,
			"issuetype":   map[string]string{"name": is.IssueType},
			"description": adfText(is.Description),
			"labels":      is.Labels,
		}
		if is.Assignee != "" {
			fields["assignee"] = map[string]string{"id": is.Assignee}
		}
		updates = append(updates, map[string]any{"fields": fields})
	}
	var resp struct {
		Issues []struct {
			ID  string `json:"id"`
			Key string `json:"key"`
		} `json:"issues"`
		Errors []struct {
			FailedElementNumber int `json:"failedElementNumber"`
		} `json:"errors"`
	}
	if err := c.do(ctx, http.MethodPost, "/rest/api/3/issue/bulk", nil, map[string]any{"issueUpdates": updates}, &resp); err != nil {
		return nil, err
	}
	failed := map[int]bool{}
	for _, e := range resp.Errors {
		failed[e.FailedElementNumber] = true
	}
	// Created issues come back in input order with rejected elements left out.
	accepted := make([]int, 0, len(issues))
	for i := range issues {
		if !failed[i] {
			accepted = append(accepted, i)
		}
	}
	out := make([]Created, 0, len(resp.Issues))
	for n, is := range resp.Issues {
		if n >= len(accepted) {
			break
		}
		if is.Key == "" {
			continue
		}
		ext, _ := externalIDFromLabels(issues[accepted[n]].Labels)
		out = append(out, Created{ExternalID: ext, Key: is.Key})
	}
	return out, nil
}

func (c *HTTP) SetMetadata(ctx context.Context, key string, meta map[string]any) error {
	endpoint := fmt.Sprintf("/rest/api/3/issue/%s/properties/%s", url.PathEscape(key), MetaProperty)
	return c.do(ctx, http.MethodPut, endpoint, nil, meta, nil)
}

func (c *HTTP) AddComment(ctx context.Context, key, text string) error {
	endpoint := fmt.Sprintf("/rest/api/3/issue/%s/comment", url.PathEscape(key))
	return c.do(ctx, http.MethodPost, endpoint, nil, map[string]any{"body": adfText(text)}, nil)
}

func (c *HTTP) Transition(ctx context.Context, key, targetStatus string) error {
	endpoint := fmt.Sprintf("/rest/api/3/issue/%s/transitions", url.PathEscape(key))
	var resp struct {
		Transitions []struct {
			ID string `json:"id"`
			To struct {
				Name string `json:"name"`
			} `json:"to"`
		} `json:"transitions"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, nil, &resp); err != nil {
		return err
	}
	for _, t := range resp.Transitions {
		if strings.EqualFold(t.To.Name, targetStatus) {
			return c.do(ctx, http.MethodPost, endpoint, nil, map[string]any{"transition": map[string]string{"id": t.ID}}, nil)
		}
	}
	return nil
}

func (c *HTTP) CreateLink(ctx context.Context, kind, fromKey, toKey string) error {
	body := map[string]any{
		"type":         map[string]string{"name": kind},
		"inwardIssue":  map[string]string{"key": fromKey},
		"outwardIssue": map[string]string{"key": toKey},
	}
	return c.do(ctx, http.MethodPost, "/rest/api/3/issueLink", nil, body, nil)
}

func (c *HTTP) EnsureBoard(ctx context.Context, projectKey string) (string, error) {
	name := BoardName(projectKey)
	params := url.Values{}
	params.Set("projectKeyOrId", projectKey)
	var boards struct {
		Values []struct {
			ID   json.Number `json:"id"`
			Name string      `json:"name"`
		} `json:"values"`
	}
	if err := c.do(ctx, http.MethodGet, "/rest/agile/1.0/board", params, nil, &boards); err != nil {
		c.logger().Warn("list boards failed", "project", projectKey, "err", err)
	}
	for _, b := range boards.Values {
		if b.Name == name {
			return b.ID.String(), nil
		}
	}
	body := map[string]any{
		"name":     name,
		"type":     "scrum",
		"filterId": nil,
		"location": map[string]string{"type": "project", "projectKeyOrId": projectKey},
	}
	var created struct {
		ID json.Number `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/rest/agile/1.0/board", nil, body, &created); err != nil {
		return "", err
	}
	return created.ID.String(), nil
}

func (c *HTTP) CreateSprint(ctx context.Context, name, boardID string, start, end time.Time) (string, error) {
	var origin any = boardID
	if n, err := strconv.Atoi(boardID); err == nil {
		origin = n
	}
	body := map[string]any{
		"name":          name,
		"originBoardId": origin,
		"startDate":     start.UTC().Format(time.RFC3339),
		"endDate":       end.UTC().Format(time.RFC3339),
		"state":         "closed",
	}
	var resp struct {
		ID json.Number `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/rest/agile/1.0/sprint", nil, body, &resp); err != nil {
		return "", err
	}
	return resp.ID.String(), nil
}

func (c *HTTP) AssignToSprint(ctx context.Context, sprintID string, keys []string) error {
	endpoint := fmt.Sprintf("/rest/agile/1.0/sprint/%s/issue", url.PathEscape(sprintID))
	return c.do(ctx, http.MethodPost, endpoint, nil, map[string]any{"issues": keys}, nil)
}

func (c *HTTP) do(ctx context.Context, method, endpoint string, params url.Values, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := strings.TrimRight(c.BaseURL, "/") + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}
	attempts := c.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = c.once(ctx, method, target, endpoint, payload, out)
		if lastErr == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(lastErr, &apiErr) && !apiErr.Transient() {
			return lastErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger().Warn("tracker request failed", "method", method, "endpoint", endpoint, "attempt", attempt, "of", attempts, "err", lastErr)
		if attempt < attempts {
			c.sleep(c.Backoff)
		}
	}
	return lastErr
}

func (c *HTTP) once(ctx context.Context, method, target, endpoint string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.User, c.Token)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Method: method, Endpoint: endpoint, Body: string(data)}
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		return json.Unmarshal(data, out)
	}
	return nil
}

func (c *HTTP) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *HTTP) sleep(d time.Duration) {
	if c.Sleep != nil {
		c.Sleep(d)
		return
	}
	time.Sleep(d)
}
