package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Run status values
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	// StatusPartial marks a run that committed a manifest but skipped unreadable files
	StatusPartial = "partial"
)

// Operation values
const (
	OperationBackup  = "backup"
	OperationRestore = "restore"
	OperationDelete  = "delete"
)

// Manager keeps the history of backup, restore and retention runs
type Manager struct {
	db *sql.DB
}

// RunRecord represents a single run of one job
type RunRecord struct {
	ID            int64
	Prefix        string
	Operation     string
	BackupType    string
	StartTime     time.Time
	EndTime       time.Time
	Status        string
	FilesArchived int
	BytesArchived int64
	FailedFiles   int
	Manifest      string
	Error         string
}

// Duration returns how long the run took
func (r RunRecord) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// NewManager opens or creates the history database in dataDir
func NewManager(dataDir string) (*Manager, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "cargoback.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit connection pool to prevent "database is locked" errors
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode and busy timeout: %w", err)
	}

	manager := &Manager{db: db}
	if err := manager.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return manager, nil
}

func (m *Manager) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS backup_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		prefix TEXT NOT NULL,
		operation TEXT NOT NULL,
		backup_type TEXT,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		files_archived INTEGER DEFAULT 0,
		bytes_archived INTEGER DEFAULT 0,
		failed_files INTEGER DEFAULT 0,
		manifest TEXT,
		error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_backup_runs_prefix_time ON backup_runs(prefix, start_time DESC);
	CREATE INDEX IF NOT EXISTS idx_backup_runs_status ON backup_runs(status);
	`

	_, err := m.db.Exec(schema)
	return err
}

// SaveRun records a finished run
func (m *Manager) SaveRun(record RunRecord) error {
	switch record.Status {
	case StatusSuccess, StatusFailed, StatusPartial:
	default:
		return fmt.Errorf("invalid status: %s (must be 'success', 'failed', or 'partial')", record.Status)
	}
	switch record.Operation {
	case OperationBackup, OperationRestore, OperationDelete:
	default:
		return fmt.Errorf("invalid operation: %s", record.Operation)
	}
	if record.Prefix == "" {
		return fmt.Errorf("prefix cannot be empty")
	}

	query := `
		INSERT INTO backup_runs (prefix, operation, backup_type, start_time, end_time, status,
			files_archived, bytes_archived, failed_files, manifest, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := m.db.Exec(query,
		record.Prefix,
		record.Operation,
		record.BackupType,
		record.StartTime.UTC(),
		record.EndTime.UTC(),
		record.Status,
		record.FilesArchived,
		record.BytesArchived,
		record.FailedFiles,
		record.Manifest,
		record.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save run record: %w", err)
	}

	return nil
}

const selectRuns = `
	SELECT id, prefix, operation, COALESCE(backup_type, ''), start_time, end_time, status,
		files_archived, bytes_archived, failed_files, COALESCE(manifest, ''), COALESCE(error, '')
	FROM backup_runs
`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var record RunRecord
	err := row.Scan(
		&record.ID,
		&record.Prefix,
		&record.Operation,
		&record.BackupType,
		&record.StartTime,
		&record.EndTime,
		&record.Status,
		&record.FilesArchived,
		&record.BytesArchived,
		&record.FailedFiles,
		&record.Manifest,
		&record.Error,
	)
	return record, err
}

func (m *Manager) queryRuns(query string, args ...any) ([]RunRecord, error) {
	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// GetHistory retrieves the newest runs of one prefix
func (m *Manager) GetHistory(prefix string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	return m.queryRuns(selectRuns+" WHERE prefix = ? ORDER BY start_time DESC, id DESC LIMIT ?", prefix, limit)
}

// GetAllHistory retrieves the newest runs of every prefix
func (m *Manager) GetAllHistory(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	return m.queryRuns(selectRuns+" ORDER BY start_time DESC, id DESC LIMIT ?", limit)
}

// GetLastSuccess retrieves the last successful backup of a prefix
func (m *Manager) GetLastSuccess(prefix string) (*RunRecord, error) {
	row := m.db.QueryRow(selectRuns+` WHERE prefix = ? AND operation = ? AND status = ?
		ORDER BY start_time DESC, id DESC LIMIT 1`, prefix, OperationBackup, StatusSuccess)

	record, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // No successful backup found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last success: %w", err)
	}

	return &record, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
