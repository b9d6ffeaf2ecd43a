package repo

import (
	"context"
	"database/sql"

	"storyseed/internal/domain"
)

// BoardForProject returns the board id of a project.
func (r Repo) BoardForProject(ctx context.Context, projectKey string) (string, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `SELECT id FROM boards WHERE project_key=?`, projectKey).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return id, err
}

func (r Repo) InsertBoard(ctx context.Context, tx *sql.Tx, id, projectKey, name string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO boards(id,project_key,name) VALUES (?,?,?)`, id, projectKey, name)
	return err
}

// UpsertSprint inserts a sprint; an existing sprint with the same id is kept.
func (r Repo) UpsertSprint(ctx context.Context, tx *sql.Tx, sp domain.Sprint) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO sprints(id,board_id,name,start_date,end_date) VALUES (?,?,?,?,?)`,
		sp.ID, sp.BoardID, sp.Name, sp.StartDate, sp.EndDate)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AssignSprint moves records into a sprint, removing them from any other.
func (r Repo) AssignSprint(ctx context.Context, tx *sql.Tx, sprintID string, keys []string) error {
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sprint_issues WHERE record_key=?`, k); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO sprint_issues(sprint_id,record_key) VALUES (?,?)`, sprintID, k); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetSprint(ctx context.Context, id string) (domain.Sprint, error) {
	var sp domain.Sprint
	err := r.DB.QueryRowContext(ctx, `SELECT s.id,s.board_id,b.project_key,s.name,s.start_date,s.end_date,
		(SELECT COUNT(*) FROM sprint_issues si WHERE si.sprint_id=s.id)
		FROM sprints s JOIN boards b ON b.id=s.board_id WHERE s.id=?`, id).
		Scan(&sp.ID, &sp.BoardID, &sp.ProjectKey, &sp.Name, &sp.StartDate, &sp.EndDate, &sp.IssueCount)
	if err == sql.ErrNoRows {
		return sp, ErrNotFound
	}
	return sp, err
}

// ListSprints returns a project's sprints in calendar order.
func (r Repo) ListSprints(ctx context.Context, projectKey string) ([]domain.Sprint, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT s.id,s.board_id,b.project_key,s.name,s.start_date,s.end_date,
		(SELECT COUNT(*) FROM sprint_issues si WHERE si.sprint_id=s.id)
		FROM sprints s JOIN boards b ON b.id=s.board_id WHERE b.project_key=? ORDER BY s.start_date, s.name`, projectKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Sprint{}
	for rows.Next() {
		var sp domain.Sprint
		if err := rows.Scan(&sp.ID, &sp.BoardID, &sp.ProjectKey, &sp.Name, &sp.StartDate, &sp.EndDate, &sp.IssueCount); err != nil {
			return nil, err
		}
		res = append(res, sp)
	}
	return res, rows.Err()
}
