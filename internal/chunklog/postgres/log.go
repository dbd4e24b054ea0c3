// Package postgres provides the Postgres-backed chunk log.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/narrately/novelgraph/internal/stream"
)

// Schema (see migrations/001_chunk_log.sql):
//
//	CREATE TABLE chunk_log (
//	    stream_key TEXT        NOT NULL,
//	    seq        BIGINT      NOT NULL,
//	    chunk_type TEXT        NOT NULL,
//	    emitted_at TIMESTAMPTZ NOT NULL,
//	    payload    JSONB,
//	    PRIMARY KEY (stream_key, seq)
//	);
//
// Seq is computed inside the INSERT from the current per-key maximum, so
// concurrent appends to the same key serialize on the primary key and the
// chunk order matches commit order.

// Config controls the Postgres connection pool used for the chunk log.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Log implements chunklog.Log on top of Postgres.
type Log struct {
	pool pgxPool
}

// NewLog connects a pool using cfg and returns a Log.
func NewLog(ctx context.Context, cfg Config) (*Log, error) {
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
	return &Log{pool: pool}, nil
}

// NewLogWithPool constructs a Log from an existing pool (primarily for testing).
func NewLogWithPool(pool pgxPool) (*Log, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Log{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (l *Log) Close() {
	l.pool.Close()
}

// Append records chunk as the next element for key and returns its sequence
// number. The insert retries once on a primary-key collision caused by a
// concurrent append to the same key.
func (l *Log) Append(ctx context.Context, key string, chunk stream.Chunk) (uint64, error) {
	query := `
		INSERT INTO chunk_log (stream_key, seq, chunk_type, emitted_at, payload)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4
		FROM chunk_log WHERE stream_key = $1
		RETURNING seq;
	`
	var seq int64
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		err := l.pool.QueryRow(ctx, query, key, string(chunk.Type), chunk.TS, []byte(chunk.Payload)).Scan(&seq)
		if err == nil {
			return uint64(seq), nil
		}
		lastErr = err
		if !isUniqueViolation(err) {
			break
		}
	}
	return 0, fmt.Errorf("append chunk for %q: %w", key, lastErr)
}

// Read returns all chunks recorded for key in append order.
func (l *Log) Read(ctx context.Context, key string) ([]stream.Chunk, error) {
	query := `
		SELECT seq, chunk_type, emitted_at, payload
		FROM chunk_log
		WHERE stream_key = $1
		ORDER BY seq ASC;
	`
	rows, err := l.pool.Query(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("read chunks for %q: %w", key, err)
	}
	defer rows.Close()

	chunks := []stream.Chunk{}
	for rows.Next() {
		var (
			seq       int64
			chunkType string
			emittedAt time.Time
			payload   []byte
		)
		if err := rows.Scan(&seq, &chunkType, &emittedAt, &payload); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		chunks = append(chunks, stream.Chunk{
			Seq:     uint64(seq),
			Type:    stream.ChunkType(chunkType),
			TS:      emittedAt,
			Payload: payload,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk rows: %w", err)
	}
	return chunks, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
