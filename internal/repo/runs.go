package repo

import (
	"context"
	"database/sql"

	"storyseed/internal/domain"
)

func (r Repo) InsertRun(ctx context.Context, run domain.Run) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO runs(id,org,seed,target,months,started_at) VALUES (?,?,?,?,?,?)`,
		run.ID, run.Org, run.Seed, run.Target, run.Months, run.StartedAt)
	return err
}

// FinishRun stores the counters and manifest of a completed run.
func (r Repo) FinishRun(ctx context.Context, run domain.Run) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE runs SET synthesized=?,created=?,skipped=?,pending=?,manifest_json=?,finished_at=? WHERE id=?`,
		run.Synthesized, run.Created, run.Skipped, run.Pending, nullable(run.ManifestJSON), nullable(run.FinishedAt), run.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `id,org,seed,target,months,synthesized,created,skipped,pending,COALESCE(manifest_json,''),started_at,COALESCE(finished_at,'')`

func scanRun(row rowScanner) (domain.Run, error) {
	var run domain.Run
	err := row.Scan(&run.ID, &run.Org, &run.Seed, &run.Target, &run.Months, &run.Synthesized, &run.Created, &run.Skipped, &run.Pending, &run.ManifestJSON, &run.StartedAt, &run.FinishedAt)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	return run, err
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	return scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id))
}

// LatestRun returns the most recently started run.
func (r Repo) LatestRun(ctx context.Context) (domain.Run, error) {
	return scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`))
}

// ListRuns returns runs newest first without their manifests.
func (r Repo) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		run.ManifestJSON = ""
		res = append(res, run)
	}
	return res, rows.Err()
}
