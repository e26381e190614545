package persistence

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// RunStatus enumerates how a recorded run ended.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusKilled    RunStatus = "killed"
	RunStatusRejected  RunStatus = "rejected"
)

// RunRecord is the persisted history entry for one script run.
type RunRecord struct {
	ID         string    `json:"id"`
	Language   string    `json:"language"`
	Content    string    `json:"content"`
	Status     RunStatus `json:"status"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	ExitCode   int       `json:"exit_code"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration reports how long the run took.
func (r RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunStore persists run history between sessions.
type RunStore interface {
	Save(ctx context.Context, record RunRecord) error
	Get(ctx context.Context, id string) (*RunRecord, bool, error)
	List(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

// SQLiteRunStore stores run history in a SQLite database.
type SQLiteRunStore struct {
	db *sql.DB
}

// NewSQLiteRunStore opens/creates the database at dbPath.
func NewSQLiteRunStore(dbPath string) (*SQLiteRunStore, error) {
	if dbPath == "" {
		return nil, errors.New("run store path required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// serialize writers; concurrent runs finish at arbitrary times
	db.SetMaxOpenConns(1)
	store := &SQLiteRunStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteRunStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		language TEXT NOT NULL,
		content TEXT,
		status TEXT NOT NULL,
		error_kind TEXT,
		error TEXT,
		exit_code INTEGER,
		started_at TIMESTAMP,
		finished_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteRunStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts record.
func (s *SQLiteRunStore) Save(ctx context.Context, record RunRecord) error {
	if record.ID == "" {
		return errors.New("run id required")
	}
	query := `
	INSERT INTO runs (
		id, language, content, status, error_kind, error, exit_code, started_at, finished_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		language=excluded.language,
		content=excluded.content,
		status=excluded.status,
		error_kind=excluded.error_kind,
		error=excluded.error,
		exit_code=excluded.exit_code,
		started_at=excluded.started_at,
		finished_at=excluded.finished_at
	`
	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.Language,
		record.Content,
		string(record.Status),
		record.ErrorKind,
		record.Error,
		record.ExitCode,
		record.StartedAt.UTC(),
		record.FinishedAt.UTC(),
	)
	return err
}

// Get loads a single record.
func (s *SQLiteRunStore) Get(ctx context.Context, id string) (*RunRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, language, content, status, error_kind, error,
		exit_code, started_at, finished_at FROM runs WHERE id = ?`, id)
	record, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// List returns the most recent runs first. A non-positive limit returns all.
func (s *SQLiteRunStore) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, language, content, status, error_kind, error,
		exit_code, started_at, finished_at FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *record)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		record     RunRecord
		status     string
		content    sql.NullString
		errorKind  sql.NullString
		errText    sql.NullString
		exitCode   sql.NullInt64
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)
	if err := row.Scan(
		&record.ID,
		&record.Language,
		&content,
		&status,
		&errorKind,
		&errText,
		&exitCode,
		&startedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}
	record.Status = RunStatus(status)
	record.Content = content.String
	record.ErrorKind = errorKind.String
	record.Error = errText.String
	record.ExitCode = int(exitCode.Int64)
	if startedAt.Valid {
		record.StartedAt = startedAt.Time
	}
	if finishedAt.Valid {
		record.FinishedAt = finishedAt.Time
	}
	return &record, nil
}
