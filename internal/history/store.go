package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ducklinghq/duckling/internal/config"
)

// ErrNotFound is returned when a history entry does not exist.
var ErrNotFound = errors.New("history entry not found")

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Store provides CRUD access to the conversions table.
type Store struct {
	db DB
}

// NewStore creates a store over an existing connection.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Open connects to the configured database and applies the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		dsn := fmt.Sprintf("%s?_journal_mode=%s", cfg.SQLite.Path, cfg.SQLite.JournalMode)
		db, err = sql.Open("sqlite3", dsn)
		if err == nil {
			db.SetMaxOpenConns(cfg.SQLite.MaxOpenConns)
		}
	case "postgres":
		db, err = sql.Open("postgres", cfg.Postgres.DSN)
		if err == nil {
			db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
			db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
			db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate creates the conversions table if it does not exist.
func Migrate(ctx context.Context, db DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversions (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			original_filename TEXT NOT NULL,
			input_format TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			confidence DOUBLE PRECISION,
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			settings TEXT,
			error_message TEXT,
			output_path TEXT,
			file_size BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversions_created_at ON conversions (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_conversions_status ON conversions (status)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

const entryColumns = `id, filename, original_filename, input_format, status, confidence,
	created_at, completed_at, settings, error_message, output_path, file_size`

// CreateEntry inserts a new pending record.
func (s *Store) CreateEntry(ctx context.Context, e *Entry) error {
	if e.Status == "" {
		e.Status = "pending"
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO conversions (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.Filename, e.OriginalFilename, nullStr(e.InputFormat), e.Status,
		e.Confidence, e.CreatedAt, e.CompletedAt, nullStr(e.Settings),
		nullStr(e.ErrorMessage), nullStr(e.OutputPath), e.FileSize,
	)
	return err
}

// UpdateStatus sets the record's status and terminal fields. CompletedAt is
// stamped when the status is terminal.
func (s *Store) UpdateStatus(ctx context.Context, id, status string, confidence *float64, errorMessage, outputPath string) (*Entry, error) {
	var completedAt *time.Time
	if status == "completed" || status == "failed" {
		now := time.Now().UTC()
		completedAt = &now
	}

	query := `
		UPDATE conversions
		SET status = $1,
			confidence = COALESCE($2, confidence),
			error_message = COALESCE($3, error_message),
			output_path = COALESCE($4, output_path),
			completed_at = COALESCE($5, completed_at)
		WHERE id = $6
	`
	res, err := s.db.ExecContext(ctx, query,
		status, confidence, nullStr(errorMessage), nullStr(outputPath), completedAt, id,
	)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return s.GetEntry(ctx, id)
}

// GetEntry returns one record by id.
func (s *Store) GetEntry(ctx context.Context, id string) (*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM conversions WHERE id = $1`
	return scanEntry(s.db.QueryRowContext(ctx, query, id))
}

// GetAll returns records ordered newest first, optionally filtered by status.
func (s *Store) GetAll(ctx context.Context, limit, offset int, status string) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM conversions`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// GetRecent returns the newest records.
func (s *Store) GetRecent(ctx context.Context, limit int) ([]*Entry, error) {
	return s.GetAll(ctx, limit, 0, "")
}

// DeleteEntry removes one record.
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAll clears the table and returns the number of deleted records.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversions`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetStats aggregates totals, per-status counts, and format breakdown.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{FormatBreakdown: map[string]int{}}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM conversions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		switch status {
		case "completed":
			stats.Completed = count
		case "failed":
			stats.Failed = count
		case "pending":
			stats.Pending = count
		case "processing":
			stats.Processing = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	fmtRows, err := s.db.QueryContext(ctx,
		`SELECT input_format, COUNT(*) FROM conversions WHERE input_format IS NOT NULL GROUP BY input_format`)
	if err != nil {
		return nil, err
	}
	defer fmtRows.Close()
	for fmtRows.Next() {
		var format string
		var count int
		if err := fmtRows.Scan(&format, &count); err != nil {
			return nil, err
		}
		stats.FormatBreakdown[format] = count
	}
	if err := fmtRows.Err(); err != nil {
		return nil, err
	}

	if stats.Total > 0 {
		stats.SuccessRate = math.Round(float64(stats.Completed)/float64(stats.Total)*1000) / 10
	}
	return stats, nil
}

// Search matches original filenames case-insensitively.
func (s *Store) Search(ctx context.Context, q string, limit int) ([]*Entry, error) {
	query := `
		SELECT ` + entryColumns + ` FROM conversions
		WHERE LOWER(original_filename) LIKE LOWER($1)
		ORDER BY created_at DESC LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, "%"+q+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// CleanupOldEntries deletes records older than the given number of days.
func (s *Store) CleanupOldEntries(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	e := &Entry{}
	var inputFormat, settings, errorMessage, outputPath sql.NullString
	var confidence sql.NullFloat64
	var completedAt sql.NullTime
	var fileSize sql.NullInt64

	err := row.Scan(
		&e.ID, &e.Filename, &e.OriginalFilename, &inputFormat, &e.Status,
		&confidence, &e.CreatedAt, &completedAt, &settings, &errorMessage,
		&outputPath, &fileSize,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	e.InputFormat = inputFormat.String
	e.Settings = settings.String
	e.ErrorMessage = errorMessage.String
	e.OutputPath = outputPath.String
	if confidence.Valid {
		e.Confidence = &confidence.Float64
	}
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	if fileSize.Valid {
		e.FileSize = &fileSize.Int64
	}
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	entries := []*Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
