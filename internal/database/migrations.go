package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/logger"
)

// Migration represents a single database migration
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// MigrationRunner applies versioned migrations and records them in
// schema_migrations.
type MigrationRunner struct {
	db  *sqlx.DB
	log *logger.Logger
}

func NewMigrationRunner(db *sqlx.DB, log *logger.Logger) *MigrationRunner {
	return &MigrationRunner{
		db:  db,
		log: log,
	}
}

// GetAllMigrations returns all available migrations in order. The SQL is
// shared by sqlite3 and postgres.
func GetAllMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create scans table",
			Up: `
				CREATE TABLE IF NOT EXISTS scans (
					id TEXT PRIMARY KEY,
					target_url TEXT NOT NULL,
					profile TEXT NOT NULL,
					status TEXT NOT NULL,
					error_message TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL,
					started_at TIMESTAMP,
					completed_at TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_scans_target ON scans(target_url);
				CREATE INDEX IF NOT EXISTS idx_scans_status ON scans(status);
				CREATE INDEX IF NOT EXISTS idx_scans_created_at ON scans(created_at);
			`,
			Down: `DROP TABLE IF EXISTS scans;`,
		},
		{
			Version:     2,
			Description: "Create findings table",
			Up: `
				CREATE TABLE IF NOT EXISTS findings (
					id TEXT PRIMARY KEY,
					scan_id TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
					sequence INTEGER NOT NULL,
					detector TEXT NOT NULL,
					category TEXT NOT NULL,
					severity TEXT NOT NULL,
					cvss_score DOUBLE PRECISION NOT NULL,
					title TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					recommendation TEXT NOT NULL DEFAULT '',
					evidence TEXT NOT NULL DEFAULT '{}',
					fingerprint TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_findings_scan_seq ON findings(scan_id, sequence);
				CREATE INDEX IF NOT EXISTS idx_findings_severity ON findings(severity);
				CREATE INDEX IF NOT EXISTS idx_findings_fingerprint ON findings(fingerprint);
			`,
			Down: `DROP TABLE IF EXISTS findings;`,
		},
		{
			Version:     3,
			Description: "Create detector_failures table",
			Up: `
				CREATE TABLE IF NOT EXISTS detector_failures (
					scan_id TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
					detector TEXT NOT NULL,
					reason TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_detector_failures_scan_id ON detector_failures(scan_id);
			`,
			Down: `DROP TABLE IF EXISTS detector_failures;`,
		},
	}
}

// ensureMigrationsTable creates the migrations tracking table if it doesn't exist
func (mr *MigrationRunner) ensureMigrationsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			checksum TEXT NOT NULL
		);
	`

	if _, err := mr.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	return nil
}

func (mr *MigrationRunner) getAppliedMigrations(ctx context.Context) (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := mr.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

// RunMigrations applies all pending migrations
func (mr *MigrationRunner) RunMigrations(ctx context.Context) error {
	if err := mr.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	applied, err := mr.getAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	migrations := GetAllMigrations()
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	pendingCount := 0
	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if err := mr.applyMigration(ctx, migration); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Description, err)
		}
		pendingCount++
	}

	if pendingCount > 0 {
		mr.log.Infow("All migrations applied successfully",
			"component", "migrations",
			"migrations_applied", pendingCount,
		)
	}

	return nil
}

func (mr *MigrationRunner) applyMigration(ctx context.Context, migration Migration) error {
	mr.log.Infow("Applying migration",
		"component", "migrations",
		"version", migration.Version,
		"description", migration.Description,
	)

	tx, err := mr.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
		mr.log.Errorw("Migration failed",
			"component", "migrations",
			"version", migration.Version,
			"error", err,
		)
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	checksum := fmt.Sprintf("%x", migration.Version)
	recordQuery := tx.Rebind(`
		INSERT INTO schema_migrations (version, description, applied_at, checksum)
		VALUES (?, ?, ?, ?)
	`)
	if _, err := tx.ExecContext(ctx, recordQuery, migration.Version, migration.Description, time.Now().UTC(), checksum); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	return nil
}

// GetMigrationStatus returns the current migration status
func (mr *MigrationRunner) GetMigrationStatus(ctx context.Context) (map[string]interface{}, error) {
	if err := mr.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}

	appliedMigrations, err := mr.getAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	allMigrations := GetAllMigrations()
	latestVersion := 0
	if len(allMigrations) > 0 {
		latestVersion = allMigrations[len(allMigrations)-1].Version
	}

	appliedVersion := 0
	for version := range appliedMigrations {
		if version > appliedVersion {
			appliedVersion = version
		}
	}

	pendingCount := 0
	for _, migration := range allMigrations {
		if !appliedMigrations[migration.Version] {
			pendingCount++
		}
	}

	return map[string]interface{}{
		"current_version": appliedVersion,
		"latest_version":  latestVersion,
		"pending_count":   pendingCount,
		"is_up_to_date":   pendingCount == 0,
	}, nil
}

// RollbackMigration rolls back one applied migration
func (mr *MigrationRunner) RollbackMigration(ctx context.Context, version int) error {
	var migration *Migration
	for _, m := range GetAllMigrations() {
		if m.Version == version {
			m := m
			migration = &m
			break
		}
	}

	if migration == nil {
		return fmt.Errorf("migration version %d not found", version)
	}
	if migration.Down == "" {
		return fmt.Errorf("migration version %d has no rollback SQL", version)
	}

	mr.log.Warnw("Rolling back migration",
		"component", "migrations",
		"version", version,
	)

	tx, err := mr.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to execute rollback SQL: %w", err)
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM schema_migrations WHERE version = ?"), version); err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}

	return tx.Commit()
}
