package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/imagery/internal/domain"
	"github.com/lib/pq"
)

// migrations run in order inside one transaction; every statement must be
// idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		source_type TEXT NOT NULL,
		webhook_url TEXT NOT NULL DEFAULT '',
		pipeline    JSONB NOT NULL,
		object_key  TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS jobs_user_id_idx ON jobs (user_id)`,
	`CREATE TABLE IF NOT EXISTS usage_logs (
		id               BIGSERIAL PRIMARY KEY,
		user_id          TEXT NOT NULL,
		job_id           TEXT NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
		pixels_processed BIGINT NOT NULL CHECK (pixels_processed >= 0),
		bytes_saved      BIGINT NOT NULL CHECK (bytes_saved >= 0),
		compute_time_ms  BIGINT NOT NULL CHECK (compute_time_ms >= 0),
		created_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS usage_logs_user_id_idx ON usage_logs (user_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS usage_logs_job_id_key ON usage_logs (job_id)`,
}

const jobColumns = `id, user_id, status, source_type, webhook_url, pipeline, object_key, created_at, updated_at`

// Postgres SQLSTATE codes surfaced as store errors.
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresJobStore{db: db}, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range migrations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	pipelineJSON, err := json.Marshal(job.Pipeline)
	if err != nil {
		return fmt.Errorf("marshal job pipeline: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.UserID, job.Status, job.SourceType, job.WebhookURL,
		pipelineJSON, job.ObjectKey, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, translate(err))
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.Job{}, false, nil
	case err != nil:
		return domain.Job{}, false, fmt.Errorf("query job %s: %w", id, err)
	}
	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3 RETURNING `+jobColumns,
		status, time.Now().UTC(), id,
	))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.Job{}, ErrJobNotFound
	case err != nil:
		return domain.Job{}, fmt.Errorf("update job %s status: %w", id, err)
	}
	return job, nil
}

func (s *PostgresJobStore) CreateUsageLog(ctx context.Context, usage domain.UsageLog) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_logs (user_id, job_id, pixels_processed, bytes_saved, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (job_id) DO NOTHING`,
		usage.UserID, usage.JobID, usage.PixelsProcessed, usage.BytesSaved, usage.ComputeTimeMS, usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log for job %s: %w", usage.JobID, translate(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("usage for %s: %w", usage.JobID, ErrUsageRecorded)
	}
	return nil
}

func (s *PostgresJobStore) UsageByUser(ctx context.Context, userID string) (domain.UsageSummary, error) {
	summary := domain.UsageSummary{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(pixels_processed), 0),
		        COALESCE(SUM(bytes_saved), 0),
		        COALESCE(SUM(compute_time_ms), 0)
		 FROM usage_logs WHERE user_id = $1`,
		userID,
	).Scan(&summary.Jobs, &summary.PixelsProcessed, &summary.BytesSaved, &summary.ComputeTimeMS)
	if err != nil {
		return domain.UsageSummary{}, fmt.Errorf("query usage for %s: %w", userID, err)
	}
	return summary, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var (
		job          domain.Job
		pipelineJSON []byte
	)
	if err := row.Scan(
		&job.ID, &job.UserID, &job.Status, &job.SourceType, &job.WebhookURL,
		&pipelineJSON, &job.ObjectKey, &job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return domain.Job{}, err
	}
	if err := json.Unmarshal(pipelineJSON, &job.Pipeline); err != nil {
		return domain.Job{}, fmt.Errorf("unmarshal job pipeline: %w", err)
	}
	return job, nil
}

// translate maps constraint violations onto the store's sentinel errors.
func translate(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pqUniqueViolation:
		return ErrJobExists
	case pqForeignKeyViolation:
		return ErrJobNotFound
	}
	return err
}
