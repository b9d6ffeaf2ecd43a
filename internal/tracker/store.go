package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"storyseed/internal/domain"
	"storyseed/internal/events"
	"storyseed/internal/repo"
)

// storeNamespace scopes the name-based ids of local boards and sprints.
var storeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("storyseed.local"))

// Store is a tracker backed by the local workspace database.
type Store struct {
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func NewStore(r repo.Repo) *Store {
	return &Store{Repo: r}
}

func (s *Store) now() string {
	if s.Now != nil {
		return s.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

// stamp keeps a supplied creation time and falls back to the clock.
func (s *Store) stamp(t time.Time) string {
	if t.IsZero() {
		return s.now()
	}
	return t.UTC().Format(time.RFC3339)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) IssueTypes(ctx context.Context) ([]string, error) {
	return append([]string(nil), DefaultIssueTypes...), nil
}

func (s *Store) FindExisting(ctx context.Context, projectKey string) (map[string]string, error) {
	return s.Repo.SeededExternalIDs(ctx, projectKey)
}

func (s *Store) ResolveIdentities(ctx context.Context, emails []string) ([]string, error) {
	var ids []string
	for _, email := range emails {
		id, err := s.Repo.LookupUser(ctx, email)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) CreateBatch(ctx context.Context, issues []Issue) ([]Created, error) {
	var out []Created
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		out = out[:0]
		for _, is := range issues {
			seq, err := s.Repo.NextSeq(ctx, tx, is.ProjectKey)
			if err != nil {
				return err
			}
			ext, _ := externalIDFromLabels(is.Labels)
			rec := domain.SeededRecord{
				Key:        fmt.Sprintf("%s-%d", is.ProjectKey, seq),
				ProjectKey: is.ProjectKey,
				ExternalID: ext,
				IssueType:  is.IssueType,
				Summary:    is.Summary,
				Status:     "To Do",
				Labels:     is.Labels,
				Assignee:   is.Assignee,
				CreatedAt:  s.stamp(is.CreatedAt),
			}
			if err := s.Repo.InsertRecord(ctx, tx, rec, seq, is.Description); err != nil {
				return err
			}
			if err := s.Events.Append(ctx, tx, events.RecordCreated, rec.ProjectKey, "record", rec.Key, events.EventPayload{
				"external_id": ext,
				"issue_type":  rec.IssueType,
			}); err != nil {
				return err
			}
			out = append(out, Created{ExternalID: ext, Key: rec.Key})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SetMetadata(ctx context.Context, key string, meta map[string]any) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", MetaProperty, err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.Repo.SetRecordMeta(ctx, tx, key, string(data))
	})
}

func (s *Store) AddComment(ctx context.Context, key, text string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.Repo.InsertComment(ctx, tx, key, text, s.now()); err != nil {
			return err
		}
		return s.Events.Append(ctx, tx, events.RecordCommented, projectOf(key), "record", key, nil)
	})
}

func (s *Store) Transition(ctx context.Context, key, targetStatus string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.Repo.UpdateRecordStatus(ctx, tx, key, targetStatus); err != nil {
			return err
		}
		return s.Events.Append(ctx, tx, events.RecordUpdated, projectOf(key), "record", key, events.EventPayload{"status": targetStatus})
	})
}

func (s *Store) CreateLink(ctx context.Context, kind, fromKey, toKey string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := s.Repo.InsertLink(ctx, tx, kind, fromKey, toKey)
		if err != nil {
			return err
		}
		return s.Events.Append(ctx, tx, events.RecordLinked, projectOf(fromKey), "link", fmt.Sprint(id), events.EventPayload{
			"kind": kind, "from": fromKey, "to": toKey,
		})
	})
}

func (s *Store) EnsureBoard(ctx context.Context, projectKey string) (string, error) {
	id, err := s.Repo.BoardForProject(ctx, projectKey)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}
	id = uuid.NewSHA1(storeNamespace, []byte("board:"+projectKey)).String()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.Repo.InsertBoard(ctx, tx, id, projectKey, BoardName(projectKey)); err != nil {
			return err
		}
		return s.Events.Append(ctx, tx, events.BoardCreated, projectKey, "board", id, nil)
	})
	return id, err
}

// CreateSprint derives the sprint id from its board, name and window, so a
// repeated run reuses the sprints it created before.
func (s *Store) CreateSprint(ctx context.Context, name, boardID string, start, end time.Time) (string, error) {
	sp := domain.Sprint{
		BoardID:   boardID,
		Name:      name,
		StartDate: start.UTC().Format(time.RFC3339),
		EndDate:   end.UTC().Format(time.RFC3339),
	}
	sp.ID = uuid.NewSHA1(storeNamespace, []byte("sprint:"+boardID+":"+name+":"+sp.StartDate)).String()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		created, err := s.Repo.UpsertSprint(ctx, tx, sp)
		if err != nil || !created {
			return err
		}
		return s.Events.Append(ctx, tx, events.SprintCreated, "", "sprint", sp.ID, events.EventPayload{"name": name, "board_id": boardID})
	})
	return sp.ID, err
}

func (s *Store) AssignToSprint(ctx context.Context, sprintID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.Repo.AssignSprint(ctx, tx, sprintID, keys); err != nil {
			return err
		}
		return s.Events.Append(ctx, tx, events.SprintAssigned, projectOf(keys[0]), "sprint", sprintID, events.EventPayload{"count": len(keys)})
	})
}

// projectOf returns the project part of an issue key such as APP-12.
func projectOf(key string) string {
	if i := strings.LastIndex(key, "-"); i > 0 {
		return key[:i]
	}
	return key
}
