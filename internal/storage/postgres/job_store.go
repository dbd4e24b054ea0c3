// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/narrately/novelgraph/internal/novel"
)

// Config controls the Postgres connection pool used for job rows.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JobStore persists job metadata in Postgres (see
// migrations/002_jobs.sql).
type JobStore struct {
	pool pgxPool
}

// NewJobStore connects a pool using cfg and returns a JobStore.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: pool}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool pgxPool) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	s.pool.Close()
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job novel.Job) error {
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("marshal job parameters: %w", err)
	}
	query := `
		INSERT INTO jobs (id, title, blob_uri, text_hash, status, submitted_at, parameters)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`
	_, err = s.pool.Exec(ctx, query,
		job.ID, job.Title, job.BlobURI, job.TextHash, string(job.Status), job.Submitted, params)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus updates lifecycle fields and counters for a job.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status novel.JobStatus,
	errText string,
	counters novel.JobCounters,
) error {
	query := `
		UPDATE jobs
		SET status = $2,
		    error_text = $3,
		    chapters = $4,
		    characters = $5,
		    events = $6,
		    started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
		    finished_at = CASE WHEN $2 IN ('succeeded', 'failed', 'canceled') AND finished_at IS NULL THEN now() ELSE finished_at END
		WHERE id = $1;
	`
	tag, err := s.pool.Exec(ctx, query,
		jobID, string(status), errText, counters.Chapters, counters.Characters, counters.Events)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return novel.ErrJobNotFound
	}
	return nil
}

// GetJob loads a single job or returns ErrJobNotFound.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (novel.Job, error) {
	query := `
		SELECT id, title, blob_uri, text_hash, status, submitted_at, started_at,
		       finished_at, error_text, parameters, chapters, characters, events
		FROM jobs
		WHERE id = $1;
	`
	var (
		job    novel.Job
		status string
		params []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &job.Title, &job.BlobURI, &job.TextHash, &status, &job.Submitted,
		&job.Started, &job.Finished, &job.ErrorText, &params,
		&job.Counters.Chapters, &job.Counters.Characters, &job.Counters.Events,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return novel.Job{}, novel.ErrJobNotFound
		}
		return novel.Job{}, fmt.Errorf("select job: %w", err)
	}
	job.Status = novel.JobStatus(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Parameters); err != nil {
			return novel.Job{}, fmt.Errorf("unmarshal job parameters: %w", err)
		}
	}
	return job, nil
}
