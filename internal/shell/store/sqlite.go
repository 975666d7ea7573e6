package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Backup Operations
// =============================================================================

// backupRow represents a backup record row in the database.
type backupRow struct {
	ID         string `db:"id"`
	Project    string `db:"project"`
	BundlePath string `db:"bundle_path"`
	Compressed bool   `db:"compressed"`
	Volumes    string `db:"volumes"`
	CreatedAt  string `db:"created_at"`
}

func (s *SQLiteStore) SaveBackup(ctx context.Context, record *BackupRecord) error {
	volumesJSON, err := json.Marshal(record.Volumes)
	if err != nil {
		return NewStoreError("SaveBackup", "backup", record.ID, "failed to serialize volumes", ErrInvalidData)
	}

	query := `
		INSERT INTO backups (
			id, project, bundle_path, compressed, volumes, created_at
		) VALUES (
			:id, :project, :bundle_path, :compressed, :volumes, :created_at
		)`

	row := map[string]any{
		"id":          record.ID,
		"project":     record.Project,
		"bundle_path": record.BundlePath,
		"compressed":  record.Compressed,
		"volumes":     string(volumesJSON),
		"created_at":  record.CreatedAt.UTC().Format(time.RFC3339),
	}

	_, err = s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: backups.id") {
			return NewStoreError("SaveBackup", "backup", record.ID, "backup with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("SaveBackup", "backup", record.ID, err.Error(), err)
	}

	return nil
}

func (s *SQLiteStore) GetBackup(ctx context.Context, id string) (*BackupRecord, error) {
	query := `SELECT * FROM backups WHERE id = ?`

	var row backupRow
	err := s.db.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetBackup", "backup", id, "backup not found", ErrNotFound)
		}
		return nil, NewStoreError("GetBackup", "backup", id, err.Error(), err)
	}

	return rowToBackup(&row)
}

func (s *SQLiteStore) ListBackups(ctx context.Context, opts ListOptions) ([]BackupRecord, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM backups ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []backupRow
	err := s.db.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListBackups", "backup", "", err.Error(), err)
	}

	return rowsToBackups(rows)
}

func (s *SQLiteStore) ListBackupsByProject(ctx context.Context, project string, opts ListOptions) ([]BackupRecord, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM backups WHERE project = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []backupRow
	err := s.db.SelectContext(ctx, &rows, query, project, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListBackupsByProject", "backup", "", err.Error(), err)
	}

	return rowsToBackups(rows)
}

// =============================================================================
// Row Conversion Functions
// =============================================================================

// rowToBackup converts a database row to a BackupRecord.
func rowToBackup(row *backupRow) (*BackupRecord, error) {
	createdAt, _ := time.Parse(time.RFC3339, row.CreatedAt)

	var volumes []string
	if row.Volumes != "" && row.Volumes != "null" {
		if err := json.Unmarshal([]byte(row.Volumes), &volumes); err != nil {
			return nil, NewStoreError("rowToBackup", "backup", row.ID, "failed to parse volumes", ErrInvalidData)
		}
	}

	return &BackupRecord{
		ID:         row.ID,
		Project:    row.Project,
		BundlePath: row.BundlePath,
		Compressed: row.Compressed,
		Volumes:    volumes,
		CreatedAt:  createdAt,
	}, nil
}

func rowsToBackups(rows []backupRow) ([]BackupRecord, error) {
	records := make([]BackupRecord, 0, len(rows))
	for _, row := range rows {
		record, err := rowToBackup(&row)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, nil
}
