package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultIssueTypes are the types a fresh Memory tracker knows.
var DefaultIssueTypes = []string{"Story", "Task", "Bug", "Incident", "Epic", "Initiative"}

// MemoryIssue is an issue held by the in-process tracker.
type MemoryIssue struct {
	Key    string
	Issue  Issue
	Status string
	Meta   map[string]any
}

// MemoryLink is a recorded issue link.
type MemoryLink struct {
	Kind    string
	FromKey string
	ToKey   string
}

// MemorySprint is a sprint created against a board.
type MemorySprint struct {
	ID      string
	BoardID string
	Name    string
	Start   time.Time
	End     time.Time
	Issues  []string
}

// Calls counts write operations, for dry-run reporting and tests.
type Calls struct {
	CreateBatch  int
	Created      int
	Metadata     int
	Comments     int
	Transitions  int
	Links        int
	Boards       int
	Sprints      int
	SprintAssign int
}

// Memory is an in-process tracker. It backs --dry-run and tests.
type Memory struct {
	Types []string
	Users map[string]string
	// FailCreate makes the next n CreateBatch calls fail.
	FailCreate int
	// MaxPerBatch truncates batch results to model partial creation; 0 means unlimited.
	MaxPerBatch int

	Calls    Calls
	Issues   []*MemoryIssue
	Links    []MemoryLink
	Comments map[string][]string
	Boards   map[string]string
	Sprints  []*MemorySprint

	byKey   map[string]*MemoryIssue
	seq     map[string]int
	sprints map[string]*MemorySprint
}

var errSimulated = errors.New("simulated create failure")

// NewMemory returns an empty tracker with the default issue types.
func NewMemory() *Memory {
	return &Memory{
		Types:    append([]string(nil), DefaultIssueTypes...),
		Users:    map[string]string{},
		Comments: map[string][]string{},
		Boards:   map[string]string{},
		byKey:    map[string]*MemoryIssue{},
		seq:      map[string]int{},
		sprints:  map[string]*MemorySprint{},
	}
}

func (m *Memory) IssueTypes(ctx context.Context) ([]string, error) {
	return append([]string(nil), m.Types...), nil
}

func (m *Memory) FindExisting(ctx context.Context, projectKey string) (map[string]string, error) {
	found := map[string]string{}
	for _, is := range m.Issues {
		if is.Issue.ProjectKey != projectKey || !hasLabel(is.Issue.Labels, "seeded") {
			continue
		}
		if ext, ok := externalIDFromLabels(is.Issue.Labels); ok {
			found[ext] = is.Key
		}
	}
	return found, nil
}

func (m *Memory) ResolveIdentities(ctx context.Context, emails []string) ([]string, error) {
	var ids []string
	for _, e := range emails {
		if id, ok := m.Users[e]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *Memory) CreateBatch(ctx context.Context, issues []Issue) ([]Created, error) {
	m.Calls.CreateBatch++
	if m.FailCreate > 0 {
		m.FailCreate--
		return nil, errSimulated
	}
	n := len(issues)
	if m.MaxPerBatch > 0 && n > m.MaxPerBatch {
		n = m.MaxPerBatch
	}
	out := make([]Created, 0, n)
	for _, is := range issues[:n] {
		m.seq[is.ProjectKey]++
		key := fmt.Sprintf("%s-%d", is.ProjectKey, m.seq[is.ProjectKey])
		stored := &MemoryIssue{Key: key, Issue: is, Status: "To Do"}
		m.Issues = append(m.Issues, stored)
		m.byKey[key] = stored
		ext, _ := externalIDFromLabels(is.Labels)
		out = append(out, Created{ExternalID: ext, Key: key})
	}
	m.Calls.Created += len(out)
	return out, nil
}

func (m *Memory) SetMetadata(ctx context.Context, key string, meta map[string]any) error {
	m.Calls.Metadata++
	is, ok := m.byKey[key]
	if !ok {
		return fmt.Errorf("issue %s not found", key)
	}
	is.Meta = meta
	return nil
}

func (m *Memory) AddComment(ctx context.Context, key, text string) error {
	m.Calls.Comments++
	m.Comments[key] = append(m.Comments[key], text)
	return nil
}

func (m *Memory) Transition(ctx context.Context, key, targetStatus string) error {
	m.Calls.Transitions++
	is, ok := m.byKey[key]
	if !ok {
		return fmt.Errorf("issue %s not found", key)
	}
	is.Status = targetStatus
	return nil
}

func (m *Memory) CreateLink(ctx context.Context, kind, fromKey, toKey string) error {
	m.Calls.Links++
	m.Links = append(m.Links, MemoryLink{Kind: kind, FromKey: fromKey, ToKey: toKey})
	return nil
}

func (m *Memory) EnsureBoard(ctx context.Context, projectKey string) (string, error) {
	if id, ok := m.Boards[projectKey]; ok {
		return id, nil
	}
	m.Calls.Boards++
	id := fmt.Sprintf("board-%d", len(m.Boards)+1)
	m.Boards[projectKey] = id
	return id, nil
}

func (m *Memory) CreateSprint(ctx context.Context, name, boardID string, start, end time.Time) (string, error) {
	m.Calls.Sprints++
	sp := &MemorySprint{ID: fmt.Sprintf("sprint-%d", len(m.Sprints)+1), BoardID: boardID, Name: name, Start: start, End: end}
	m.Sprints = append(m.Sprints, sp)
	m.sprints[sp.ID] = sp
	return sp.ID, nil
}

func (m *Memory) AssignToSprint(ctx context.Context, sprintID string, keys []string) error {
	m.Calls.SprintAssign++
	sp, ok := m.sprints[sprintID]
	if !ok {
		return fmt.Errorf("sprint %s not found", sprintID)
	}
	sp.Issues = append(sp.Issues, keys...)
	return nil
}

// Issue returns a stored issue by key.
func (m *Memory) Issue(key string) (*MemoryIssue, bool) {
	is, ok := m.byKey[key]
	return is, ok
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}
