// Package sqlite persists the run ledger in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tappedai/event-crawler/internal/domain"
	apperr "github.com/tappedai/event-crawler/internal/errors"
)

//go:embed schema.sql
var schemaSQL string

// timeLayout is fixed width so stored times sort chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Sentinel errors.
var (
	ErrRunNotFound = apperr.NotFound("run not found")
	ErrRunSealed   = &apperr.Error{Code: apperr.CodeConflict, Message: "run already sealed"}
)

// Store provides SQLite-backed persistence for run records.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates a new SQLite store at the given path.
// It configures WAL mode, sets pragmas, and applies the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const runColumns = `id, scraper_id, start_time, end_time, heartbeat_at, error, candidate_count, new_event_count`

// InsertRun appends a new open run.
func (s *Store) InsertRun(ctx context.Context, r *domain.RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		r.ScraperID,
		formatTime(r.StartTime),
		nullTimeString(r.EndTime),
		nullTimeString(r.HeartbeatAt),
		nullableString(r.Error),
		r.CandidateCount,
		r.NewEventCount,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

// SealRun stores the terminal fields of r. Only open runs can be sealed.
func (s *Store) SealRun(ctx context.Context, r *domain.RunRecord) error {
	if r.EndTime == nil {
		return fmt.Errorf("seal run %s: end time is not set", r.ID)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET end_time = ?, error = ?, candidate_count = ?, new_event_count = ?
		 WHERE id = ? AND end_time IS NULL`,
		formatTime(*r.EndTime),
		nullableString(r.Error),
		r.CandidateCount,
		r.NewEventCount,
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("seal run %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("seal run %s: %w", r.ID, err)
	}
	if n == 0 {
		if _, err := s.GetRun(ctx, r.ID); err != nil {
			return err
		}
		return ErrRunSealed
	}
	return nil
}

// UpdateCandidates records the frontier size of an open run.
func (s *Store) UpdateCandidates(ctx context.Context, runID string, count int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET candidate_count = ? WHERE id = ? AND end_time IS NULL`, count, runID)
	if err != nil {
		return fmt.Errorf("update candidates for %s: %w", runID, err)
	}
	return nil
}

// Heartbeat marks an open run as alive at t.
func (s *Store) Heartbeat(ctx context.Context, runID string, t time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET heartbeat_at = ? WHERE id = ? AND end_time IS NULL`, formatTime(t), runID)
	if err != nil {
		return fmt.Errorf("heartbeat %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun returns a run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return r, err
}

// LatestSucceeded returns the most recent sealed run with no error.
func (s *Store) LatestSucceeded(ctx context.Context, scraperID string) (*domain.RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE scraper_id = ? AND end_time IS NOT NULL AND error IS NULL
		 ORDER BY start_time DESC LIMIT 1`, scraperID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return r, err
}

// ListRuns returns a target's runs, most recent first.
func (s *Store) ListRuns(ctx context.Context, scraperID string, limit int) ([]*domain.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE scraper_id = ? ORDER BY start_time DESC LIMIT ?`,
		scraperID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SealStale fails every open run whose last sign of life (heartbeat, or start
// when it never beat) is older than cutoff. Returns the sealed run ids.
func (s *Store) SealStale(ctx context.Context, cutoff, now time.Time, reason string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin sweep: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM runs WHERE end_time IS NULL AND COALESCE(heartbeat_at, start_time) < ?`,
		formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("find stale runs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		// max() keeps end_time >= start_time when clocks disagree.
		if _, err := tx.ExecContext(ctx,
			`UPDATE runs SET end_time = max(start_time, ?), error = ? WHERE id = ? AND end_time IS NULL`,
			formatTime(now), reason, id); err != nil {
			return nil, fmt.Errorf("seal stale run %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit sweep: %w", err)
	}
	return ids, nil
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*domain.RunRecord, error) {
	var (
		r         domain.RunRecord
		startTime string
		endTime   sql.NullString
		heartbeat sql.NullString
		runErr    sql.NullString
	)
	if err := scanner.Scan(&r.ID, &r.ScraperID, &startTime, &endTime, &heartbeat, &runErr,
		&r.CandidateCount, &r.NewEventCount); err != nil {
		return nil, err
	}

	var err error
	if r.StartTime, err = parseTime(startTime); err != nil {
		return nil, fmt.Errorf("parse start_time: %w", err)
	}
	if r.EndTime, err = parseNullableTime(endTime); err != nil {
		return nil, fmt.Errorf("parse end_time: %w", err)
	}
	if r.HeartbeatAt, err = parseNullableTime(heartbeat); err != nil {
		return nil, fmt.Errorf("parse heartbeat_at: %w", err)
	}
	if runErr.Valid {
		msg := runErr.String
		r.Error = &msg
	}
	return &r, nil
}

// formatTime formats a time for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses a stored time.
func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// parseNullableTime parses an optional time string.
func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullableString returns a sql.NullString from a *string.
func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullTimeString returns a sql.NullString from a *time.Time.
func nullTimeString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
