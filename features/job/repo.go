package job

import (
	"context"
	"database/sql"
	"encoding/json"
)

type Repository interface {
	Save(ctx context.Context, job *Job) error
	List(ctx context.Context) ([]Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Save inserts the job, or bumps retries and replaces the payload and error
// when a job for the same source and handler is already recorded.
func (r *PostgresRepo) Save(ctx context.Context, job *Job) error {
	query := `INSERT INTO failed_jobs (source_id, handler, payload, error) VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_id, handler) DO UPDATE
		SET payload = EXCLUDED.payload, error = EXCLUDED.error, retries = failed_jobs.retries + 1
		RETURNING id, created_at, retries`
	return r.db.QueryRowContext(ctx, query, job.SourceID, job.Handler, []byte(job.Payload), job.Error).
		Scan(&job.ID, &job.CreatedAt, &job.Retries)
}

const selectJob = `SELECT id, source_id, handler, payload, error, retries, created_at FROM failed_jobs`

func (r *PostgresRepo) List(ctx context.Context) ([]Job, error) {
	rows, err := r.db.QueryContext(ctx, selectJob+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		var j Job
		var payload []byte
		if err := rows.Scan(&j.ID, &j.SourceID, &j.Handler, &payload, &j.Error, &j.Retries, &j.CreatedAt); err != nil {
			return nil, err
		}
		j.Payload = json.RawMessage(payload)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Job, error) {
	j := &Job{}
	var payload []byte
	err := r.db.QueryRowContext(ctx, selectJob+` WHERE id = $1`, id).
		Scan(&j.ID, &j.SourceID, &j.Handler, &payload, &j.Error, &j.Retries, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	j.Payload = json.RawMessage(payload)
	return j, nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM failed_jobs WHERE id = $1`, id)
	return err
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_jobs`).Scan(&count)
	return count, err
}
