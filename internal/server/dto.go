package server

import (
	"encoding/json"

	"storyseed/internal/domain"
	"storyseed/internal/repo"
)

// Response payloads

type ProjectResponse struct {
	Key     string         `json:"key"`
	Total   int            `json:"total"`
	ByType  map[string]int `json:"by_type"`
	BoardID string         `json:"board_id,omitempty"`
}

type RecordResponse struct {
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
	CreatedAt  string         `json:"created_at" format:"date-time"`
}

type RecordDetailResponse struct {
	RecordResponse
	Comments int            `json:"comments"`
	Links    []LinkResponse `json:"links"`
}

type LinkResponse struct {
	Kind    string `json:"kind"`
	FromKey string `json:"from_key"`
	ToKey   string `json:"to_key"`
}

type SprintResponse struct {
	ID         string `json:"id"`
	BoardID    string `json:"board_id"`
	Name       string `json:"name"`
	StartDate  string `json:"start_date" format:"date-time"`
	EndDate    string `json:"end_date" format:"date-time"`
	IssueCount int    `json:"issue_count"`
}

type RunResponse struct {
	ID          string `json:"id"`
	Org         string `json:"org"`
	Seed        string `json:"seed"`
	Target      string `json:"target"`
	Months      int    `json:"months"`
	Synthesized int    `json:"synthesized"`
	Created     int    `json:"created"`
	Skipped     int    `json:"skipped"`
	Pending     int    `json:"pending"`
	StartedAt   string `json:"started_at" format:"date-time"`
	FinishedAt  string `json:"finished_at,omitempty" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectKey string         `json:"project_key,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

type WhoAmIResponse struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source"`
}

type paginatedRecords struct {
	Items      []RecordResponse `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func projectResponse(s repo.ProjectSummary, boardID string) ProjectResponse {
	return ProjectResponse{Key: s.ProjectKey, Total: s.Total, ByType: s.ByType, BoardID: boardID}
}

func recordResponse(r domain.SeededRecord) RecordResponse {
	return RecordResponse{
		Key:        r.Key,
		ProjectKey: r.ProjectKey,
		ExternalID: r.ExternalID,
		IssueType:  r.IssueType,
		Summary:    r.Summary,
		Status:     r.Status,
		Labels:     nonNilSlice(r.Labels),
		Assignee:   r.Assignee,
		SprintID:   r.SprintID,
		SeedMeta:   decodeJSONMap(r.MetaJSON),
		CreatedAt:  r.CreatedAt,
	}
}

func linkResponse(l domain.IssueLink) LinkResponse {
	return LinkResponse{Kind: l.Kind, FromKey: l.FromKey, ToKey: l.ToKey}
}

func sprintResponse(s domain.Sprint) SprintResponse {
	return SprintResponse{
		ID:         s.ID,
		BoardID:    s.BoardID,
		Name:       s.Name,
		StartDate:  s.StartDate,
		EndDate:    s.EndDate,
		IssueCount: s.IssueCount,
	}
}

func runResponse(r domain.Run) RunResponse {
	return RunResponse{
		ID:          r.ID,
		Org:         r.Org,
		Seed:        r.Seed,
		Target:      r.Target,
		Months:      r.Months,
		Synthesized: r.Synthesized,
		Created:     r.Created,
		Skipped:     r.Skipped,
		Pending:     r.Pending,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectKey: e.ProjectKey,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Payload:    nonNilMap(decodeJSONMap(e.Payload)),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func nonNilMap(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	return in
}
