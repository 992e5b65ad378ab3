// Package database persists scans, findings and detector failures through
// sqlx on sqlite3 or postgres.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/config"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/logger"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

type Store struct {
	db     *sqlx.DB
	cfg    config.DatabaseConfig
	logger *logger.Logger
}

var _ core.ResultStore = (*Store)(nil)

func NewStore(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("database")

	start := time.Now()
	ctx, span := log.StartOperation(ctx, "database.NewStore",
		"driver", cfg.Driver,
		"dsn_masked", maskDSN(cfg.DSN),
	)
	var err error
	defer func() {
		log.FinishOperation(ctx, span, "database.NewStore", start, err)
	}()

	db, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		err = fmt.Errorf("failed to connect to database: %w", err)
		return nil, err
	}

	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if cfg.Driver == "sqlite3" {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
		if _, err = db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
			db.Close()
			err = fmt.Errorf("failed to enable foreign keys: %w", err)
			return nil, err
		}
	}

	if err = NewMigrationRunner(db, log).RunMigrations(ctx); err != nil {
		db.Close()
		err = fmt.Errorf("failed to run migrations: %w", err)
		return nil, err
	}

	log.WithContext(ctx).Infow("Database store initialized",
		"driver", cfg.Driver,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Store{db: db, cfg: cfg, logger: log}, nil
}

// maskDSN masks sensitive information in DSN for logging
func maskDSN(dsn string) string {
	if len(dsn) > 10 {
		return dsn[:5] + "***" + dsn[len(dsn)-5:]
	}
	return "***"
}

func (s *Store) SaveScan(ctx context.Context, scan *types.Scan) error {
	start := time.Now()
	query := `
		INSERT INTO scans (
			id, target_url, profile, status, error_message,
			created_at, started_at, completed_at
		) VALUES (
			:id, :target_url, :profile, :status, :error_message,
			:created_at, :started_at, :completed_at
		)
	`

	result, err := s.db.NamedExecContext(ctx, query, scan)
	if err != nil {
		s.logger.LogError(ctx, err, "database.SaveScan", "scan_id", scan.ID)
		return fmt.Errorf("failed to save scan %s: %w", scan.ID, err)
	}

	rowsAffected, _ := result.RowsAffected()
	s.logger.LogDatabaseOperation(ctx, "INSERT", "scans", rowsAffected, time.Since(start),
		"scan_id", scan.ID,
		"target", scan.TargetURL,
	)
	return nil
}

// UpdateScanStatus moves a scan to status. started_at is set on the first
// transition to running, completed_at on any terminal status.
func (s *Store) UpdateScanStatus(ctx context.Context, scanID string, status types.ScanStatus, errorMessage string) error {
	start := time.Now()
	now := time.Now().UTC()

	var startedAt, completedAt *time.Time
	if status == types.ScanStatusRunning {
		startedAt = &now
	}
	if status.Terminal() {
		completedAt = &now
	}

	query := s.db.Rebind(`
		UPDATE scans SET
			status = ?,
			error_message = ?,
			started_at = COALESCE(started_at, ?),
			completed_at = COALESCE(?, completed_at)
		WHERE id = ?
	`)

	result, err := s.db.ExecContext(ctx, query, status, errorMessage, startedAt, completedAt, scanID)
	if err != nil {
		return fmt.Errorf("failed to update scan %s: %w", scanID, err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("scan %s: %w", scanID, core.ErrNotFound)
	}

	s.logger.LogDatabaseOperation(ctx, "UPDATE", "scans", rowsAffected, time.Since(start),
		"scan_id", scanID,
		"status", status,
	)
	return nil
}

const scanColumns = `id, target_url, profile, status, error_message, created_at, started_at, completed_at`

func (s *Store) GetScan(ctx context.Context, scanID string) (*types.Scan, error) {
	var scan types.Scan
	query := s.db.Rebind(`SELECT ` + scanColumns + ` FROM scans WHERE id = ?`)

	if err := s.db.GetContext(ctx, &scan, query, scanID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("scan %s: %w", scanID, core.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get scan %s: %w", scanID, err)
	}
	return &scan, nil
}

func (s *Store) ListScans(ctx context.Context, filter core.ScanFilter) ([]*types.Scan, error) {
	query := `SELECT ` + scanColumns + ` FROM scans WHERE 1=1`
	var args []interface{}

	if filter.Target != "" {
		query += " AND target_url = ?"
		args = append(args, filter.Target)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	scans := []*types.Scan{}
	if err := s.db.SelectContext(ctx, &scans, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	return scans, nil
}

// findingRow is the storage shape of a finding; evidence is a JSON document.
type findingRow struct {
	ID             string    `db:"id"`
	ScanID         string    `db:"scan_id"`
	Sequence       int       `db:"sequence"`
	Detector       string    `db:"detector"`
	Category       string    `db:"category"`
	Severity       string    `db:"severity"`
	CVSSScore      float64   `db:"cvss_score"`
	Title          string    `db:"title"`
	Description    string    `db:"description"`
	Recommendation string    `db:"recommendation"`
	Evidence       string    `db:"evidence"`
	Fingerprint    string    `db:"fingerprint"`
	CreatedAt      time.Time `db:"created_at"`
}

func toRow(f types.Finding) (findingRow, error) {
	evidence := f.Evidence
	if evidence == nil {
		evidence = types.Evidence{}
	}
	data, err := json.Marshal(evidence)
	if err != nil {
		return findingRow{}, fmt.Errorf("failed to marshal evidence: %w", err)
	}
	return findingRow{
		ID:             f.ID,
		ScanID:         f.ScanID,
		Sequence:       f.Sequence,
		Detector:       f.Detector,
		Category:       string(f.Category),
		Severity:       string(f.Severity),
		CVSSScore:      f.CVSSScore,
		Title:          f.Title,
		Description:    f.Description,
		Recommendation: f.Recommendation,
		Evidence:       string(data),
		Fingerprint:    f.Fingerprint,
		CreatedAt:      f.CreatedAt,
	}, nil
}

func (r findingRow) toFinding() (types.Finding, error) {
	var evidence types.Evidence
	if r.Evidence != "" {
		if err := json.Unmarshal([]byte(r.Evidence), &evidence); err != nil {
			return types.Finding{}, fmt.Errorf("failed to unmarshal evidence of finding %s: %w", r.ID, err)
		}
	}
	return types.Finding{
		ID:             r.ID,
		ScanID:         r.ScanID,
		Sequence:       r.Sequence,
		Detector:       r.Detector,
		Category:       types.Category(r.Category),
		Severity:       types.Severity(r.Severity),
		CVSSScore:      r.CVSSScore,
		Title:          r.Title,
		Description:    r.Description,
		Recommendation: r.Recommendation,
		Evidence:       evidence,
		Fingerprint:    r.Fingerprint,
		CreatedAt:      r.CreatedAt,
	}, nil
}

// SaveFinding inserts one finding. A missing fingerprint is derived from
// the finding itself.
func (s *Store) SaveFinding(ctx context.Context, finding types.Finding) error {
	start := time.Now()
	if finding.Fingerprint == "" {
		finding.Fingerprint = Fingerprint(finding)
	}
	if finding.CreatedAt.IsZero() {
		finding.CreatedAt = time.Now().UTC()
	}

	row, err := toRow(finding)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO findings (
			id, scan_id, sequence, detector, category, severity, cvss_score,
			title, description, recommendation, evidence, fingerprint, created_at
		) VALUES (
			:id, :scan_id, :sequence, :detector, :category, :severity, :cvss_score,
			:title, :description, :recommendation, :evidence, :fingerprint, :created_at
		)
	`

	result, err := s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		s.logger.LogError(ctx, err, "database.SaveFinding",
			"scan_id", finding.ScanID,
			"finding_id", finding.ID,
		)
		return fmt.Errorf("failed to save finding %s: %w", finding.ID, err)
	}

	rowsAffected, _ := result.RowsAffected()
	s.logger.LogDatabaseOperation(ctx, "INSERT", "findings", rowsAffected, time.Since(start),
		"scan_id", finding.ScanID,
		"sequence", finding.Sequence,
	)
	return nil
}

// GetFindings returns a scan's findings in insertion order.
func (s *Store) GetFindings(ctx context.Context, scanID string) ([]types.Finding, error) {
	query := s.db.Rebind(`
		SELECT id, scan_id, sequence, detector, category, severity, cvss_score,
			   title, description, recommendation, evidence, fingerprint, created_at
		FROM findings
		WHERE scan_id = ?
		ORDER BY sequence ASC
	`)

	var rows []findingRow
	if err := s.db.SelectContext(ctx, &rows, query, scanID); err != nil {
		return nil, fmt.Errorf("failed to get findings for scan %s: %w", scanID, err)
	}

	findings := make([]types.Finding, 0, len(rows))
	for _, r := range rows {
		f, err := r.toFinding()
		if err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}
	return findings, nil
}

func (s *Store) SaveDetectorFailure(ctx context.Context, failure types.DetectorFailure) error {
	if failure.CreatedAt.IsZero() {
		failure.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO detector_failures (scan_id, detector, reason, created_at)
		VALUES (:scan_id, :detector, :reason, :created_at)
	`
	if _, err := s.db.NamedExecContext(ctx, query, failure); err != nil {
		return fmt.Errorf("failed to save detector failure for scan %s: %w", failure.ScanID, err)
	}
	return nil
}

func (s *Store) GetDetectorFailures(ctx context.Context, scanID string) ([]types.DetectorFailure, error) {
	query := s.db.Rebind(`
		SELECT scan_id, detector, reason, created_at
		FROM detector_failures
		WHERE scan_id = ?
		ORDER BY created_at ASC
	`)

	failures := []types.DetectorFailure{}
	if err := s.db.SelectContext(ctx, &failures, query, scanID); err != nil {
		return nil, fmt.Errorf("failed to get detector failures for scan %s: %w", scanID, err)
	}
	return failures, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the underlying handle for migration tooling.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}
