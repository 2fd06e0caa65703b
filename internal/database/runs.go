package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// RunRow is one transcription run in the history table.
type RunRow struct {
	ID            string     `json:"id"`
	SourceName    string     `json:"source_name"`
	Status        string     `json:"status"`
	Chunked       bool       `json:"chunked"`
	Segments      int        `json:"segments"`
	DurationS     float64    `json:"duration"`
	Model         string     `json:"model,omitempty"`
	TranscriptKey string     `json:"transcript_key,omitempty"`
	Text          string     `json:"text,omitempty"`
	ErrorKind     string     `json:"error_kind,omitempty"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// RunFilter specifies filters for listing runs.
type RunFilter struct {
	Status string
	Limit  int
	Offset int
}

const runColumns = `id, source_name, status, chunked, segments, duration_s, model,
	transcript_key, text, error_kind, error, created_at, finished_at`

// InsertRun records a newly accepted run. Re-inserting an ID is a no-op.
func (db *DB) InsertRun(ctx context.Context, r *RunRow) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO runs (id, source_name, status, model, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		r.ID, r.SourceName, r.Status, r.Model, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

// FinishRun stores the terminal outcome of a run.
func (db *DB) FinishRun(ctx context.Context, r *RunRow) error {
	finished := time.Now()
	if r.FinishedAt != nil {
		finished = *r.FinishedAt
	}
	tag, err := db.Pool.Exec(ctx, `
		UPDATE runs SET
			status = $2, chunked = $3, segments = $4, duration_s = $5,
			transcript_key = $6, text = $7, error_kind = $8, error = $9,
			finished_at = $10
		WHERE id = $1`,
		r.ID, r.Status, r.Chunked, r.Segments, r.DurationS,
		r.TranscriptKey, r.Text, r.ErrorKind, r.Error, finished,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	r.FinishedAt = &finished
	return nil
}

// GetRun returns one run by ID, or ErrNotFound.
func (db *DB) GetRun(ctx context.Context, id string) (*RunRow, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns runs newest first plus the total matching count.
// The transcript text is omitted from list results.
func (db *DB) ListRuns(ctx context.Context, f RunFilter) ([]RunRow, int, error) {
	limit := clampLimit(f.Limit, 50, 500)
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM runs WHERE ($1::text IS NULL OR status = $1)`,
		pqString(f.Status),
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		pqString(f.Status), limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		r.Text = ""
		out = append(out, *r)
	}
	return out, total, rows.Err()
}

func scanRun(row pgx.Row) (*RunRow, error) {
	var r RunRow
	err := row.Scan(
		&r.ID, &r.SourceName, &r.Status, &r.Chunked, &r.Segments, &r.DurationS, &r.Model,
		&r.TranscriptKey, &r.Text, &r.ErrorKind, &r.Error, &r.CreatedAt, &r.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
