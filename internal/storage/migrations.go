package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Migration represents a single database migration with version and implementation
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, tx *sql.Tx) error
	Down        func(ctx context.Context, tx *sql.Tx) error
}

// MigrationStatus represents the current state of database migrations
type MigrationStatus struct {
	CurrentVersion      int                `json:"current_version"`
	LatestVersion       int                `json:"latest_version"`
	AppliedMigrations   []AppliedMigration `json:"applied_migrations"`
	PendingMigrations   int                `json:"pending_migrations"`
	TotalMigrations     int                `json:"total_migrations"`
	DatabaseInitialized bool               `json:"database_initialized"`
}

// AppliedMigration represents a migration that has been successfully applied
type AppliedMigration struct {
	Version       int           `json:"version"`
	Description   string        `json:"description"`
	AppliedAt     time.Time     `json:"applied_at"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// MigrationManager handles schema migrations for the SQL backends
type MigrationManager struct {
	db         *sql.DB
	dialect    Dialect
	logger     *slog.Logger
	migrations []Migration
}

// NewMigrationManager creates a new migration manager instance
func NewMigrationManager(db *sql.DB, dialect Dialect, logger *slog.Logger) *MigrationManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &MigrationManager{
		db:         db,
		dialect:    dialect,
		logger:     logger,
		migrations: getAllMigrations(dialect),
	}
}

// LatestVersion returns the highest known migration version.
func (m *MigrationManager) LatestVersion() int {
	if len(m.migrations) == 0 {
		return 0
	}
	return m.migrations[len(m.migrations)-1].Version
}

// Initialize creates the migrations table if it doesn't exist
func (m *MigrationManager) Initialize(ctx context.Context) error {
	createMigrationsTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description VARCHAR NOT NULL,
			applied_at %s NOT NULL,
			execution_time BIGINT NOT NULL DEFAULT 0
		)`, m.dialect.TimestampType)

	if _, err := m.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// Migrate runs all pending migrations up to the target version
func (m *MigrationManager) Migrate(ctx context.Context, targetVersion int) error {
	if targetVersion < 1 || targetVersion > m.LatestVersion() {
		return fmt.Errorf("invalid migration version %d: must be between 1 and %d", targetVersion, m.LatestVersion())
	}
	if err := m.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize migration manager: %w", err)
	}

	currentVersion, err := m.getCurrentVersion(ctx)
	if err != nil {
		return err
	}

	if currentVersion >= targetVersion {
		m.logger.Debug("no migrations to run", "current_version", currentVersion)
		return nil
	}

	m.logger.Info("starting migration",
		"dialect", m.dialect.Name,
		"current_version", currentVersion,
		"target_version", targetVersion)

	applied := 0
	for _, migration := range m.migrations {
		if migration.Version <= currentVersion || migration.Version > targetVersion {
			continue
		}
		if err := m.runMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", migration.Version, err)
		}
		applied++
	}

	m.logger.Info("migrations completed",
		"final_version", targetVersion,
		"migrations_run", applied)
	return nil
}

// MigrateToLatest runs all available migrations
func (m *MigrationManager) MigrateToLatest(ctx context.Context) error {
	return m.Migrate(ctx, m.LatestVersion())
}

// Rollback rolls back migrations down to the target version
func (m *MigrationManager) Rollback(ctx context.Context, targetVersion int) error {
	if err := m.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize migration manager: %w", err)
	}

	currentVersion, err := m.getCurrentVersion(ctx)
	if err != nil {
		return err
	}
	if currentVersion <= targetVersion {
		return nil
	}

	m.logger.Info("starting rollback",
		"current_version", currentVersion,
		"target_version", targetVersion)

	for i := len(m.migrations) - 1; i >= 0; i-- {
		migration := m.migrations[i]
		if migration.Version <= targetVersion || migration.Version > currentVersion {
			continue
		}
		if err := m.rollbackMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", migration.Version, err)
		}
	}
	return nil
}

// GetStatus returns the current migration status
func (m *MigrationManager) GetStatus(ctx context.Context) (*MigrationStatus, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize migration manager: %w", err)
	}

	currentVersion, err := m.getCurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	pending := 0
	for _, migration := range m.migrations {
		if migration.Version > currentVersion {
			pending++
		}
	}

	return &MigrationStatus{
		CurrentVersion:      currentVersion,
		LatestVersion:       m.LatestVersion(),
		AppliedMigrations:   applied,
		PendingMigrations:   pending,
		TotalMigrations:     len(m.migrations),
		DatabaseInitialized: currentVersion >= 1,
	}, nil
}

// runMigration executes a single migration and records it in one transaction
func (m *MigrationManager) runMigration(ctx context.Context, migration Migration) error {
	start := time.Now()

	m.logger.Info("applying migration",
		"version", migration.Version,
		"description", migration.Description)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := migration.Up(ctx, tx); err != nil {
		return fmt.Errorf("migration execution failed: %w", err)
	}

	insertQuery := `
		INSERT INTO schema_migrations (version, description, applied_at, execution_time)
		VALUES ($1, $2, $3, $4)`
	if _, err := tx.ExecContext(ctx, insertQuery,
		migration.Version,
		migration.Description,
		start.UTC(),
		time.Since(start).Nanoseconds()); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	m.logger.Info("migration applied",
		"version", migration.Version,
		"duration", time.Since(start))
	return nil
}

// rollbackMigration executes a single migration rollback
func (m *MigrationManager) rollbackMigration(ctx context.Context, migration Migration) error {
	if migration.Down == nil {
		return fmt.Errorf("migration %d has no rollback function", migration.Version)
	}

	m.logger.Info("rolling back migration",
		"version", migration.Version,
		"description", migration.Description)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start rollback transaction: %w", err)
	}
	defer tx.Rollback()

	if err := migration.Down(ctx, tx); err != nil {
		return fmt.Errorf("rollback execution failed: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = $1", migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollback: %w", err)
	}
	return nil
}

// getCurrentVersion returns the highest applied migration version
func (m *MigrationManager) getCurrentVersion(ctx context.Context) (int, error) {
	var version int
	if err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

// getAppliedMigrations returns list of applied migrations with metadata
func (m *MigrationManager) getAppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT version, description, applied_at, execution_time
		FROM schema_migrations
		ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var migrations []AppliedMigration
	for rows.Next() {
		var migration AppliedMigration
		var executionTime int64
		if err := rows.Scan(&migration.Version, &migration.Description, &migration.AppliedAt, &executionTime); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		migration.AppliedAt = migration.AppliedAt.UTC()
		migration.ExecutionTime = time.Duration(executionTime)
		migrations = append(migrations, migration)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migration rows: %w", err)
	}
	return migrations, nil
}

// getAllMigrations returns the schema history for the dialect
func getAllMigrations(d Dialect) []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create raw_data table for hourly points",
			Up: execAll(fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS raw_data (
					timestamp %s NOT NULL,
					user_id VARCHAR NOT NULL,
					metric_type VARCHAR NOT NULL,
					value %s NOT NULL,
					is_imputed BOOLEAN NOT NULL DEFAULT FALSE,
					imputation_method VARCHAR,
					gap_duration_hours INTEGER,
					PRIMARY KEY (timestamp, user_id, metric_type)
				)`, d.TimestampType, d.DoubleType)),
			Down: execAll("DROP TABLE IF EXISTS raw_data"),
		},
		{
			Version:     2,
			Description: "Create users table for enrollments",
			Up: execAll(fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS users (
					user_id VARCHAR PRIMARY KEY,
					enrollment_date %[1]s NOT NULL,
					created_at %[1]s NOT NULL
				)`, d.TimestampType)),
			Down: execAll("DROP TABLE IF EXISTS users"),
		},
		{
			Version:     3,
			Description: "Index raw_data by series",
			Up: execAll(
				"CREATE INDEX IF NOT EXISTS idx_raw_data_series ON raw_data (user_id, metric_type, timestamp)",
			),
			Down: execAll("DROP INDEX IF EXISTS idx_raw_data_series"),
		},
	}
}

func execAll(statements ...string) func(ctx context.Context, tx *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute %q: %w", firstLine(stmt), err)
			}
		}
		return nil
	}
}

func firstLine(stmt string) string {
	head, _, _ := strings.Cut(strings.TrimSpace(stmt), "(")
	return strings.TrimSpace(head)
}
