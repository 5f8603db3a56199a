// Package archive keeps publishable quality reports in SQLite so downstream
// publishing can read them back.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	// Registers the sqlite3 database/sql driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/aethelgard/qualitycheck/internal/domain"
)

// ErrNotFound is returned by Get for an unknown item.
var ErrNotFound = errors.New("report not found")

const schema = `
CREATE TABLE IF NOT EXISTS publishable_reports (
	item_id           TEXT PRIMARY KEY,
	item_type         TEXT NOT NULL,
	overall_score     INTEGER NOT NULL,
	validator_version TEXT NOT NULL,
	validated_at      INTEGER NOT NULL,
	report            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_publishable_score ON publishable_reports(overall_score);
`

// Store is a SQLite-backed archive. Only reports that pass the storage rule
// (passes_quality and overall score at least 85) are written.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize archive: %w", err)
		}
	}

	logger := slog.Default().With("component", "archive")
	logger.Info("archive opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Persist writes r if it is publishable and reports whether it did. A newer
// report for the same item replaces the stored one.
func (s *Store) Persist(ctx context.Context, r *domain.QualityReport) (bool, error) {
	if r == nil || !r.Publishable() {
		return false, nil
	}
	body, err := json.Marshal(r)
	if err != nil {
		return false, fmt.Errorf("failed to encode report: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO publishable_reports (item_id, item_type, overall_score, validator_version, validated_at, report)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			item_type = excluded.item_type,
			overall_score = excluded.overall_score,
			validator_version = excluded.validator_version,
			validated_at = excluded.validated_at,
			report = excluded.report
		WHERE excluded.validated_at >= publishable_reports.validated_at`,
		r.ItemID, string(r.ItemType), r.OverallScore, r.ValidatorVersion, r.ValidatedAt.UnixMilli(), string(body))
	if err != nil {
		return false, fmt.Errorf("failed to persist report %q: %w", r.ItemID, err)
	}
	return true, nil
}

// Get returns the archived report for itemID.
func (s *Store) Get(ctx context.Context, itemID string) (*domain.QualityReport, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM publishable_reports WHERE item_id = ?`, itemID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report %q: %w", itemID, err)
	}
	return decode(body)
}

// ListPublishable returns archived reports scoring at least minScore, best
// first. minScore below the pass threshold is raised to it. A non-positive
// limit means no limit.
func (s *Store) ListPublishable(ctx context.Context, minScore, limit int) ([]*domain.QualityReport, error) {
	minScore = max(minScore, domain.PassThreshold)
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT report FROM publishable_reports
		WHERE overall_score >= ?
		ORDER BY overall_score DESC, item_id ASC
		LIMIT ?`, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var out []*domain.QualityReport
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		r, err := decode(body)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// decode re-validates stored JSON through QualityReport.UnmarshalJSON.
func decode(body string) (*domain.QualityReport, error) {
	var r domain.QualityReport
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("archived report is invalid: %w", err)
	}
	return &r, nil
}
