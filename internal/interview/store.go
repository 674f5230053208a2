package interview

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PGStore is the Postgres-backed interview store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects to Postgres, applies pending migrations and returns the
// store.
func NewPGStore(ctx context.Context, databaseURL string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("interview store: connect: %w", err)
	}
	if err := migrate(pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PGStore{pool: pool}, nil
}

func migrate(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("interview store: set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("interview store: migrate: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PGStore) Close() { s.pool.Close() }

const interviewColumns = `id, job_id, phone_number, questions, evaluation_criteria,
	interview_language, evaluation_language, is_completed, call_recording_url, created_at`

func (s *PGStore) Create(ctx context.Context, in Interview) (*Interview, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO interviews (`+interviewColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+interviewColumns,
		in.ID, in.JobID, in.PhoneNumber, in.Questions, in.EvaluationCriteria,
		in.InterviewLanguage, in.EvaluationLanguage, in.IsCompleted,
		nullable(in.CallRecordingURL), in.CreatedAt)
	return scanInterview(row)
}

func (s *PGStore) Get(ctx context.Context, id string) (*Interview, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+interviewColumns+` FROM interviews WHERE id = $1`, id)
	return scanInterview(row)
}

func (s *PGStore) GetByPhone(ctx context.Context, phone string) (*Interview, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+interviewColumns+` FROM interviews
		WHERE phone_number = $1 AND NOT is_completed
		ORDER BY created_at DESC
		LIMIT 1`, phone)
	return scanInterview(row)
}

func (s *PGStore) Update(ctx context.Context, id string, patch Update) (*Interview, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE interviews SET
			is_completed       = COALESCE($2, is_completed),
			call_recording_url = COALESCE($3, call_recording_url)
		WHERE id = $1
		RETURNING `+interviewColumns,
		id, patch.IsCompleted, patch.CallRecordingURL)
	return scanInterview(row)
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM interviews WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("interview store: delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("interview store: delete %s: not found", id)
	}
	return nil
}

func scanInterview(row pgx.Row) (*Interview, error) {
	var (
		in  Interview
		url sql.NullString
	)
	err := row.Scan(&in.ID, &in.JobID, &in.PhoneNumber, &in.Questions,
		&in.EvaluationCriteria, &in.InterviewLanguage, &in.EvaluationLanguage,
		&in.IsCompleted, &url, &in.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("interview store: scan: %w", err)
	}
	in.CallRecordingURL = url.String
	return &in, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
