// Package store persists finished recording sessions to PostgreSQL.
//
// Persistence is optional: when no DSN is configured the pipeline simply
// never constructs a Store. A recording is written once, after the pipeline
// has stopped and the optional full-transcript refinement has run.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/auricle/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS recordings (
	id                  BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	project_id          TEXT,
	started_at          TIMESTAMPTZ NOT NULL,
	duration_s          DOUBLE PRECISION NOT NULL,
	word_count          INTEGER NOT NULL,
	turn_count          INTEGER NOT NULL,
	avg_confidence      DOUBLE PRECISION NOT NULL,
	raw_transcript      TEXT NOT NULL,
	enhanced_transcript TEXT NOT NULL,
	refined_transcript  TEXT NOT NULL DEFAULT '',
	turns               JSONB NOT NULL,
	enhanced_buffers    JSONB NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS recordings_project_idx ON recordings (project_id, started_at DESC);
`

// Recording is a persisted session row.
type Recording struct {
	ID                 int64     `json:"id"`
	ProjectID          string    `json:"project_id"`
	StartedAt          time.Time `json:"started_at"`
	DurationS          float64   `json:"duration_s"`
	WordCount          int       `json:"word_count"`
	TurnCount          int       `json:"turn_count"`
	AvgConfidence      float64   `json:"avg_confidence"`
	RawTranscript      string    `json:"raw_transcript"`
	EnhancedTranscript string    `json:"enhanced_transcript"`
	RefinedTranscript  string    `json:"refined_transcript"`
	CreatedAt          time.Time `json:"created_at"`
}

// Store writes recordings to PostgreSQL. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and ensures the recordings table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Save persists a sealed session together with its optional refined
// transcript and returns the new row id.
func (s *Store) Save(ctx context.Context, sess session.Session, refinedTranscript string) (int64, error) {
	turns, err := json.Marshal(sess.Turns)
	if err != nil {
		return 0, fmt.Errorf("store: marshal turns: %w", err)
	}
	buffers, err := json.Marshal(sess.EnhancedBuffers)
	if err != nil {
		return 0, fmt.Errorf("store: marshal buffers: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO recordings (
			project_id, started_at, duration_s, word_count, turn_count,
			avg_confidence, raw_transcript, enhanced_transcript,
			refined_transcript, turns, enhanced_buffers
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		sess.ProjectID,
		sess.StartedAt,
		sess.Metadata.DurationS,
		sess.Metadata.WordCount,
		sess.Metadata.TurnCount,
		sess.Metadata.AverageConfidence(),
		sess.RawTranscript,
		sess.EnhancedTranscript,
		refinedTranscript,
		turns,
		buffers,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert recording: %w", err)
	}
	return id, nil
}

// Recent returns the most recent recordings, newest first. Transcript JSON
// columns are not loaded; use [Store.Get] for a full row.
func (s *Store) Recent(ctx context.Context, limit int) ([]Recording, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, started_at, duration_s, word_count, turn_count,
		       avg_confidence, raw_transcript, enhanced_transcript,
		       refined_transcript, created_at
		FROM recordings
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query recent: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		var r Recording
		if err := rows.Scan(
			&r.ID, &r.ProjectID, &r.StartedAt, &r.DurationS, &r.WordCount,
			&r.TurnCount, &r.AvgConfidence, &r.RawTranscript,
			&r.EnhancedTranscript, &r.RefinedTranscript, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan recording: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate recordings: %w", err)
	}
	return out, nil
}

// Get loads one recording by id.
func (s *Store) Get(ctx context.Context, id int64) (*Recording, error) {
	var r Recording
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, started_at, duration_s, word_count, turn_count,
		       avg_confidence, raw_transcript, enhanced_transcript,
		       refined_transcript, created_at
		FROM recordings
		WHERE id = $1`, id).Scan(
		&r.ID, &r.ProjectID, &r.StartedAt, &r.DurationS, &r.WordCount,
		&r.TurnCount, &r.AvgConfidence, &r.RawTranscript,
		&r.EnhancedTranscript, &r.RefinedTranscript, &r.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get recording %d: %w", id, err)
	}
	return &r, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
