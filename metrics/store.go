// Package metrics persists training runs and the values reported while
// they train in a SQLite database.
package metrics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrRunNotFound is returned when no run matches an id.
var ErrRunNotFound = errors.New("metrics: run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	config TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS scalars (
	run_id TEXT NOT NULL,
	step INTEGER NOT NULL,
	tag TEXT NOT NULL,
	value REAL NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_scalars_run_tag ON scalars(run_id, tag, step);

CREATE TABLE IF NOT EXISTS samples (
	run_id TEXT NOT NULL,
	step INTEGER NOT NULL,
	temperature REAL NOT NULL,
	path TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_samples_run ON samples(run_id, step);
`

// Store wraps the SQLite connection. SQLite serializes writers itself, so
// a Store and the Runs it hands out are safe for concurrent use.
type Store struct {
	conn *sql.DB
	now  func() time.Time
}

// Run is one training run.
type Run struct {
	ID        string
	Name      string
	CreatedAt time.Time
	Config    string

	store *Store
}

// Scalar is one recorded value.
type Scalar struct {
	Step  int
	Tag   string
	Value float64
}

// Sample references a generated audio file.
type Sample struct {
	Step        int
	Temperature float64
	Path        string
}

// ===========================================================================
// Runs
// ===========================================================================

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	return &Store{conn: conn, now: time.Now}, nil
}

// Close checkpoints the write-ahead log and closes the database.
func (s *Store) Close() error {
	_, _ = s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return s.conn.Close()
}

// CreateRun registers a new run. config is stored verbatim.
func (s *Store) CreateRun(ctx context.Context, name, config string) (*Run, error) {
	r := &Run{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: s.now().UTC().Truncate(time.Second),
		Config:    config,
		store:     s,
	}
	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO runs (id, name, created_at, config) VALUES (?, ?, ?, ?)",
		r.ID, r.Name, r.CreatedAt, r.Config)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return r, nil
}

// Run looks up a run by id.
func (s *Store) Run(ctx context.Context, id string) (*Run, error) {
	r := &Run{store: s}
	err := s.conn.QueryRowContext(ctx,
		"SELECT id, name, created_at, config FROM runs WHERE id = ?", id).
		Scan(&r.ID, &r.Name, &r.CreatedAt, &r.Config)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// Runs lists all runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]*Run, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT id, name, created_at, config FROM runs ORDER BY created_at DESC, rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r := &Run{store: s}
		if err := rows.Scan(&r.ID, &r.Name, &r.CreatedAt, &r.Config); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Scalars returns the values recorded for a run ordered by step. An empty
// tag selects every tag.
func (s *Store) Scalars(ctx context.Context, runID, tag string) ([]Scalar, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT step, tag, value FROM scalars
		WHERE run_id = ? AND (? = '' OR tag = ?)
		ORDER BY step, rowid`, runID, tag, tag)
	if err != nil {
		return nil, fmt.Errorf("query scalars: %w", err)
	}
	defer rows.Close()

	var out []Scalar
	for rows.Next() {
		var sc Scalar
		if err := rows.Scan(&sc.Step, &sc.Tag, &sc.Value); err != nil {
			return nil, fmt.Errorf("scan scalar: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Samples returns the generated files recorded for a run.
func (s *Store) Samples(ctx context.Context, runID string) ([]Sample, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT step, temperature, path FROM samples WHERE run_id = ? ORDER BY step, temperature", runID)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var sm Sample
		if err := rows.Scan(&sm.Step, &sm.Temperature, &sm.Path); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// DeleteRun removes a run with everything recorded for it.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// ===========================================================================
// Recording
// ===========================================================================

// Scalar records a value for the run.
func (r *Run) Scalar(step int, tag string, value float64) error {
	_, err := r.store.conn.Exec(
		"INSERT INTO scalars (run_id, step, tag, value) VALUES (?, ?, ?, ?)",
		r.ID, step, tag, value)
	if err != nil {
		return fmt.Errorf("record %s at step %d: %w", tag, step, err)
	}
	return nil
}

// Sample records a generated audio file for the run.
func (r *Run) Sample(step int, temperature float64, path string) error {
	_, err := r.store.conn.Exec(
		"INSERT INTO samples (run_id, step, temperature, path) VALUES (?, ?, ?, ?)",
		r.ID, step, temperature, path)
	if err != nil {
		return fmt.Errorf("record sample at step %d: %w", step, err)
	}
	return nil
}
