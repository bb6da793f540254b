// Package journal records finished load runs in a SQL database: a sqlite
// file for plain paths, postgres for postgres:// URLs.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Status of a finished run.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one journal entry.
type Run struct {
	ID         string
	Index      string
	Source     string
	StartedAt  time.Time
	FinishedAt time.Time
	Attempted  int
	Indexed    int
	Failed     int
	Status     string
	Error      string
	Failures   []RowFailure
}

// RowFailure is a document the search engine rejected.
type RowFailure struct {
	Row        int
	Line       int
	StatusCode int
	Response   string
}

// Journal wraps the database connection.
type Journal struct {
	db     *sql.DB
	driver string
}

func driverFor(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

// Open connects to dsn and creates the journal tables if needed.
func Open(ctx context.Context, dsn string) (*Journal, error) {
	driver := driverFor(dsn)
	if driver == "sqlite" && !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// SQLite only supports one writer.
		db.SetMaxOpenConns(1)
	}

	j := &Journal{db: db, driver: driver}
	if err := j.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			index_name TEXT NOT NULL,
			source TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL,
			docs_attempted INTEGER NOT NULL DEFAULT 0,
			docs_indexed INTEGER NOT NULL DEFAULT 0,
			docs_failed INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS row_failures (
			run_id TEXT NOT NULL REFERENCES runs(id),
			row_no INTEGER NOT NULL,
			line_no INTEGER NOT NULL,
			status_code INTEGER NOT NULL,
			response TEXT NOT NULL,
			PRIMARY KEY (run_id, row_no)
		)`,
	}
	for _, m := range migrations {
		if _, err := j.db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (j *Journal) rebind(query string) string {
	if j.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Record stores a run and its failures in one transaction.
func (j *Journal) Record(ctx context.Context, run Run) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, j.rebind(
		`INSERT INTO runs (id, index_name, source, started_at, finished_at, docs_attempted, docs_indexed, docs_failed, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.Index, run.Source, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.Attempted, run.Indexed, run.Failed, run.Status, run.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	for _, f := range run.Failures {
		_, err := tx.ExecContext(ctx, j.rebind(
			`INSERT INTO row_failures (run_id, row_no, line_no, status_code, response) VALUES (?, ?, ?, ?, ?)`),
			run.ID, f.Row, f.Line, f.StatusCode, f.Response,
		)
		if err != nil {
			return fmt.Errorf("inserting failure of row %d: %w", f.Row, err)
		}
	}
	return tx.Commit()
}

// Get loads a run and its failures, ordered by row.
func (j *Journal) Get(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := j.db.QueryRowContext(ctx, j.rebind(
		`SELECT id, index_name, source, started_at, finished_at, docs_attempted, docs_indexed, docs_failed, status, error_message
		FROM runs WHERE id = ?`), id,
	).Scan(&run.ID, &run.Index, &run.Source, &run.StartedAt, &run.FinishedAt,
		&run.Attempted, &run.Indexed, &run.Failed, &run.Status, &run.Error)
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}

	rows, err := j.db.QueryContext(ctx, j.rebind(
		`SELECT row_no, line_no, status_code, response FROM row_failures WHERE run_id = ? ORDER BY row_no`), id)
	if err != nil {
		return nil, fmt.Errorf("loading failures of run %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var f RowFailure
		if err := rows.Scan(&f.Row, &f.Line, &f.StatusCode, &f.Response); err != nil {
			return nil, err
		}
		run.Failures = append(run.Failures, f)
	}
	return &run, rows.Err()
}
