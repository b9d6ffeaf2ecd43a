package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"storyseed/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// NextSeq returns the next issue number for a project.
func (r Repo) NextSeq(ctx context.Context, tx *sql.Tx, projectKey string) (int, error) {
	var seq int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM records WHERE project_key=?`, projectKey).Scan(&seq)
	return seq, err
}

// InsertRecord stores a record and its labels.
func (r Repo) InsertRecord(ctx context.Context, tx *sql.Tx, rec domain.SeededRecord, seq int, description string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO records(key,project_key,seq,external_id,issue_type,summary,description,status,assignee,meta_json,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		rec.Key, rec.ProjectKey, seq, nullable(rec.ExternalID), rec.IssueType, rec.Summary, description, rec.Status, nullable(rec.Assignee), nullable(rec.MetaJSON), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", rec.Key, err)
	}
	for _, l := range rec.Labels {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO record_labels(record_key,label) VALUES (?,?)`, rec.Key, l); err != nil {
			return fmt.Errorf("insert label %s: %w", l, err)
		}
	}
	return nil
}

const recordColumns = `r.key,r.project_key,COALESCE(r.external_id,''),r.issue_type,r.summary,r.status,COALESCE(r.assignee,''),COALESCE(r.meta_json,''),r.created_at,COALESCE((SELECT si.sprint_id FROM sprint_issues si WHERE si.record_key=r.key LIMIT 1),'')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.SeededRecord, error) {
	var rec domain.SeededRecord
	err := row.Scan(&rec.Key, &rec.ProjectKey, &rec.ExternalID, &rec.IssueType, &rec.Summary, &rec.Status, &rec.Assignee, &rec.MetaJSON, &rec.CreatedAt, &rec.SprintID)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	return rec, err
}

func (r Repo) GetRecord(ctx context.Context, key string) (domain.SeededRecord, error) {
	rec, err := scanRecord(r.DB.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records r WHERE r.key=?`, key))
	if err != nil {
		return rec, err
	}
	rec.Labels, err = r.labels(ctx, key)
	return rec, err
}

func (r Repo) labels(ctx context.Context, key string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT label FROM record_labels WHERE record_key=? ORDER BY label`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	labels := []string{}
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

type RecordFilters struct {
	ProjectKey      string
	IssueType       string
	Status          string
	Label           string
	SprintID        string
	Limit           int
	CursorCreatedAt string
	CursorKey       string
}

func (r Repo) ListRecords(ctx context.Context, f RecordFilters) ([]domain.SeededRecord, error) {
	var clauses []string
	var args []any
	if f.ProjectKey != "" {
		clauses = append(clauses, "r.project_key=?")
		args = append(args, f.ProjectKey)
	}
	if f.IssueType != "" {
		clauses = append(clauses, "r.issue_type=?")
		args = append(args, f.IssueType)
	}
	if f.Status != "" {
		clauses = append(clauses, "r.status=?")
		args = append(args, f.Status)
	}
	if f.Label != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM record_labels l WHERE l.record_key=r.key AND l.label=?)")
		args = append(args, f.Label)
	}
	if f.SprintID != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM sprint_issues s WHERE s.record_key=r.key AND s.sprint_id=?)")
		args = append(args, f.SprintID)
	}
	if f.CursorCreatedAt != "" && f.CursorKey != "" {
		clauses = append(clauses, "(r.created_at < ? OR (r.created_at = ? AND r.key < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorKey)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + recordColumns + ` FROM records r ` + where + ` ORDER BY r.created_at DESC, r.key DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.SeededRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, rec)
	}
	rows.Close()
	for i := range res {
		if res[i].Labels, err = r.labels(ctx, res[i].Key); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// SeededExternalIDs maps external id to key for every record labeled seeded in a project.
func (r Repo) SeededExternalIDs(ctx context.Context, projectKey string) (map[string]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT r.external_id, r.key FROM records r
		JOIN record_labels l ON l.record_key=r.key AND l.label='seeded'
		WHERE r.project_key=? AND r.external_id IS NOT NULL`, projectKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found := map[string]string{}
	for rows.Next() {
		var ext, key string
		if err := rows.Scan(&ext, &key); err != nil {
			return nil, err
		}
		found[ext] = key
	}
	return found, rows.Err()
}

func (r Repo) UpdateRecordStatus(ctx context.Context, tx *sql.Tx, key, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE records SET status=? WHERE key=?`, status, key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetRecordMeta(ctx context.Context, tx *sql.Tx, key, metaJSON string) error {
	res, err := tx.ExecContext(ctx, `UPDATE records SET meta_json=? WHERE key=?`, metaJSON, key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, key, body, createdAt string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO comments(record_key,body,created_at) VALUES (?,?,?)`, key, body, createdAt)
	return err
}

func (r Repo) CountComments(ctx context.Context, key string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments WHERE record_key=?`, key).Scan(&n)
	return n, err
}

func (r Repo) InsertLink(ctx context.Context, tx *sql.Tx, kind, fromKey, toKey string) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO links(kind,from_key,to_key) VALUES (?,?,?)`, kind, fromKey, toKey)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListLinks returns links where the record is either endpoint.
func (r Repo) ListLinks(ctx context.Context, key string) ([]domain.IssueLink, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,kind,from_key,to_key FROM links WHERE from_key=? OR to_key=? ORDER BY id`, key, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	links := []domain.IssueLink{}
	for rows.Next() {
		var l domain.IssueLink
		if err := rows.Scan(&l.ID, &l.Kind, &l.FromKey, &l.ToKey); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// ProjectSummary counts stored records per issue type.
type ProjectSummary struct {
	ProjectKey string         `json:"project_key"`
	Total      int            `json:"total"`
	ByType     map[string]int `json:"by_type"`
}

func (r Repo) ProjectSummaries(ctx context.Context) ([]ProjectSummary, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_key, issue_type, COUNT(*) FROM records GROUP BY project_key, issue_type ORDER BY project_key, issue_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ProjectSummary
	for rows.Next() {
		var project, issueType string
		var n int
		if err := rows.Scan(&project, &issueType, &n); err != nil {
			return nil, err
		}
		if len(res) == 0 || res[len(res)-1].ProjectKey != project {
			res = append(res, ProjectSummary{ProjectKey: project, ByType: map[string]int{}})
		}
		last := &res[len(res)-1]
		last.ByType[issueType] = n
		last.Total += n
	}
	return res, rows.Err()
}
