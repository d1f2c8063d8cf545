// Package history provides SQLite-backed records of finished deploy
// tasks. Uses WAL mode for crash-safe writes. The queue document stays
// the source of truth for pending work; history only records outcomes.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/sim-publish/buildserver/internal/domain"
)

// Outcome is the terminal state of a deploy task.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeAborted   Outcome = "aborted"
)

// Record is one finished deploy.
type Record struct {
	ID         string    `json:"id"`
	SimName    string    `json:"simName"`
	Version    string    `json:"version"`
	Brands     string    `json:"brands"`
	Servers    string    `json:"servers"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// DB wraps the SQLite connection holding deploy history.
type DB struct {
	db *sql.DB
}

// Open creates or opens the history database at dir/history.db.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "history.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS deploys (
			id          TEXT PRIMARY KEY,
			sim_name    TEXT NOT NULL,
			version     TEXT NOT NULL,
			brands      TEXT NOT NULL,
			servers     TEXT NOT NULL,
			outcome     TEXT NOT NULL,
			error       TEXT,
			enqueued_at INTEGER NOT NULL,
			started_at  INTEGER,
			finished_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deploys_finished ON deploys(finished_at)`,
		`CREATE INDEX IF NOT EXISTS idx_deploys_sim ON deploys(sim_name)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// RecordOutcome stores the terminal state of a task.
func (d *DB) RecordOutcome(task domain.Task, outcome Outcome, taskErr error) error {
	brands := make([]string, len(task.Brands))
	for i, b := range task.Brands {
		brands[i] = string(b)
	}
	servers := make([]string, len(task.Servers))
	for i, s := range task.Servers {
		servers[i] = string(s)
	}
	errText := ""
	if taskErr != nil {
		errText = taskErr.Error()
	}

	_, err := d.db.Exec(
		`INSERT INTO deploys (id, sim_name, version, brands, servers, outcome, error, enqueued_at, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			outcome=excluded.outcome,
			error=excluded.error,
			finished_at=excluded.finished_at`,
		task.ID, task.SimName, task.Version,
		strings.Join(brands, ","), strings.Join(servers, ","),
		string(outcome), errText,
		task.EnqueueTime.Unix(), nullableUnix(task.StartTime), time.Now().Unix(),
	)
	return err
}

// Recent returns the n most recently finished deploys, newest first.
func (d *DB) Recent(n int) ([]Record, error) {
	rows, err := d.db.Query(
		`SELECT id, sim_name, version, brands, servers, outcome, error, enqueued_at, started_at, finished_at
		 FROM deploys ORDER BY finished_at DESC LIMIT ?`, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var errText sql.NullString
		var enqueued, finished int64
		var started sql.NullInt64

		err := rows.Scan(&r.ID, &r.SimName, &r.Version, &r.Brands, &r.Servers,
			(*string)(&r.Outcome), &errText, &enqueued, &started, &finished)
		if err != nil {
			return nil, err
		}
		r.Error = errText.String
		r.EnqueuedAt = time.Unix(enqueued, 0)
		if started.Valid {
			r.StartedAt = time.Unix(started.Int64, 0)
		}
		r.FinishedAt = time.Unix(finished, 0)
		records = append(records, r)
	}
	return records, rows.Err()
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
