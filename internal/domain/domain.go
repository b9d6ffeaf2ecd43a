package domain

import (
	"strings"
	"time"
)

// Kind is the record category used in the manifest.
type Kind string

const (
	KindStory      Kind = "Story"
	KindTask       Kind = "Task"
	KindBug        Kind = "Bug"
	KindIncident   Kind = "Incident"
	KindEpic       Kind = "Epic"
	KindInitiative Kind = "Initiative"
	KindFollowup   Kind = "Follow-up"
)

// KindFromMix maps an issue_type_mix key to a Kind.
func KindFromMix(key string) Kind {
	switch strings.ToLower(key) {
	case "story":
		return KindStory
	case "task":
		return KindTask
	case "bug":
		return KindBug
	case "incident":
		return KindIncident
	case "epic":
		return KindEpic
	case "initiative":
		return KindInitiative
	default:
		if key == "" {
			return KindTask
		}
		return Kind(strings.ToUpper(key[:1]) + strings.ToLower(key[1:]))
	}
}

// IssueType is the tracker issue type a kind is created as.
func (k Kind) IssueType() string {
	if k == KindFollowup {
		return string(KindTask)
	}
	return string(k)
}

// Sprintable reports whether records of this kind are placed into sprints.
func (k Kind) Sprintable() bool {
	switch k {
	case KindStory, KindTask, KindBug, KindFollowup:
		return true
	}
	return false
}

// TargetStatus is the workflow state a created record is moved to.
func (k Kind) TargetStatus() string {
	if k == KindIncident {
		return "Resolved"
	}
	return "Done"
}

// Severity levels, lowest number most severe.
const (
	Sev1 = "sev1"
	Sev2 = "sev2"
	Sev3 = "sev3"
	Sev4 = "sev4"
)

// Severities in draw order.
var Severities = []string{Sev1, Sev2, Sev3, Sev4}

// SpawnsFollowups reports whether an incident of this severity queues remediation work.
func SpawnsFollowups(severity string) bool {
	return severity == Sev1 || severity == Sev2
}

// Link kinds.
const (
	LinkBlocks  = "Blocks"
	LinkRelates = "Relates"
)

// SeededLabel marks every record created by the seeder.
const SeededLabel = "seeded"

// Link is a deferred relationship to another record by external id.
type Link struct {
	Kind       string `json:"kind"`
	ExternalID string `json:"external_id"`
}

// Record is one synthesized history entry.
type Record struct {
	ExternalID string    `json:"external_id"`
	ProjectKey string    `json:"project_key"`
	Kind       Kind      `json:"kind"`
	Summary    string    `json:"summary"`
	Body       string    `json:"description"`
	TeamID     string    `json:"team_id"`
	Labels     []string  `json:"labels"`
	CreatedAt  time.Time `json:"created_at"`
	Arc        string    `json:"arc"`
	Month      int       `json:"month_idx"`
	Severity   string    `json:"severity,omitempty"`
	Service    string    `json:"service"`
	Assignee   string    `json:"assignee,omitempty"`
	Comment    bool      `json:"comment,omitempty"`
	Link       *Link     `json:"link,omitempty"`
	SystemKey  string    `json:"system_key,omitempty"`
}

// Meta is the seed_meta property written onto each created issue.
func (r Record) Meta(issueType string) map[string]any {
	meta := map[string]any{
		"external_id": r.ExternalID,
		"created_at":  r.CreatedAt.UTC().Format(time.RFC3339),
		"team_id":     r.TeamID,
		"issue_type":  issueType,
		"seed_type":   string(r.Kind),
		"project_key": r.ProjectKey,
		"arc":         r.Arc,
		"month_idx":   r.Month,
	}
	if r.Severity != "" {
		meta["severity"] = r.Severity
	}
	return meta
}

// FollowupSpec is a remediation obligation queued by a high-severity incident.
type FollowupSpec struct {
	IncidentExternalID string
	TeamID             string
	Service            string
	Month              int
}

// SeededRecord is the persisted view of a created record in the local store.
type SeededRecord struct {
	Key        string   `json:"key"`
	ProjectKey string   `json:"project_key"`
	ExternalID string   `json:"external_id"`
	IssueType  string   `json:"issue_type"`
	Summary    string   `json:"summary"`
	Status     string   `json:"status"`
	Labels     []string `json:"labels"`
	Assignee   string   `json:"assignee,omitempty"`
	SprintID   string   `json:"sprint_id,omitempty"`
	MetaJSON   string   `json:"seed_meta,omitempty"`
	CreatedAt  string   `json:"created_at" format:"date-time"`
}

// Run is one generation run recorded in the local workspace.
type Run struct {
	ID           string `json:"id"`
	Org          string `json:"org"`
	Seed         string `json:"seed"`
	Target       string `json:"target"`
	Months       int    `json:"months"`
	Synthesized  int    `json:"synthesized"`
	Created      int    `json:"created"`
	Skipped      int    `json:"skipped"`
	Pending      int    `json:"pending"`
	ManifestJSON string `json:"manifest_json,omitempty"`
	StartedAt    string `json:"started_at" format:"date-time"`
	FinishedAt   string `json:"finished_at,omitempty" format:"date-time"`
}

// Sprint is a sprint stored by the local tracker.
type Sprint struct {
	ID         string `json:"id"`
	BoardID    string `json:"board_id"`
	ProjectKey string `json:"project_key"`
	Name       string `json:"name"`
	StartDate  string `json:"start_date" format:"date-time"`
	EndDate    string `json:"end_date" format:"date-time"`
	IssueCount int    `json:"issue_count"`
}

// IssueLink is a stored relationship between two records.
type IssueLink struct {
	ID      int64  `json:"id"`
	Kind    string `json:"kind"`
	FromKey string `json:"from_key"`
	ToKey   string `json:"to_key"`
}

// Event is an entry of the local event log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectKey string `json:"project_key,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
