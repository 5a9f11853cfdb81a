package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pbk-go/internal/database/migrations"
	"pbk-go/internal/pbk"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements the Database interface using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

var _ pbk.Database = (*SQLiteDatabase)(nil)

// NewSQLiteDatabase opens the database at path, creating its directory if
// needed, and migrates it to the latest schema.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database %s: %w", path, err)
	}

	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured
// and migrated.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" gets its own empty database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// CheckMigrations reports whether the schema is at the latest version.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

const runColumns = `id, operation, project, device, step, status, started_at, finished_at,
	added, unchanged, deleted, missing, bytes, error`

// Run operations

func (s *SQLiteDatabase) CreateRun(run *pbk.Run) error {
	if run.ID == "" {
		return fmt.Errorf("creating run: id is required")
	}
	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Operation, run.Project, run.Device, run.Step, run.Status,
		run.StartedAt.UnixNano(), nullTime(run.FinishedAt),
		run.Added, run.Unchanged, run.Deleted, run.Missing, run.Bytes, run.Error,
	)
	if err != nil {
		return fmt.Errorf("creating run %s: %w", run.ID, err)
	}
	return nil
}

func (s *SQLiteDatabase) FinishRun(run *pbk.Run) error {
	res, err := s.db.ExecContext(context.Background(),
		`UPDATE runs SET step = ?, status = ?, finished_at = ?, added = ?, unchanged = ?,
			deleted = ?, missing = ?, bytes = ?, error = ?
		WHERE id = ?`,
		run.Step, run.Status, nullTime(run.FinishedAt), run.Added, run.Unchanged,
		run.Deleted, run.Missing, run.Bytes, run.Error,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", run.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", run.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("finishing run %s: run not found", run.ID)
	}
	return nil
}

func (s *SQLiteDatabase) ListRuns(limit int) ([]*pbk.Run, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as no limit
	}
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*pbk.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

func (s *SQLiteDatabase) LastRun(operation, project, device, status string) (*pbk.Run, error) {
	row := s.db.QueryRowContext(context.Background(),
		`SELECT `+runColumns+` FROM runs
		WHERE operation = ? AND project = ? AND device = ? AND status = ?
		ORDER BY started_at DESC, id DESC LIMIT 1`,
		operation, project, device, status)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding last %s run of %s on %s: %w", operation, project, device, err)
	}
	return run, nil
}

func (s *SQLiteDatabase) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*pbk.Run, error) {
	var (
		run        pbk.Run
		startedAt  int64
		finishedAt sql.NullInt64
	)
	err := row.Scan(&run.ID, &run.Operation, &run.Project, &run.Device, &run.Step, &run.Status,
		&startedAt, &finishedAt,
		&run.Added, &run.Unchanged, &run.Deleted, &run.Missing, &run.Bytes, &run.Error)
	if err != nil {
		return nil, err
	}
	run.StartedAt = time.Unix(0, startedAt).UTC()
	if finishedAt.Valid {
		run.FinishedAt = time.Unix(0, finishedAt.Int64).UTC()
	}
	return &run, nil
}

func nullTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
