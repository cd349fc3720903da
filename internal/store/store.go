// Package store persists runs and snapshots in SQLite or PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // postgres driver
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/routesim/routesim/sim/cluster"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrNotFound is returned when a run has no stored snapshot.
var ErrNotFound = errors.New("not found")

// Run is one simulator session.
type Run struct {
	ID        string       `json:"id"`
	Mode      cluster.Mode `json:"mode"`
	Seed      int64        `json:"seed"`
	StartedAt time.Time    `json:"started_at"`
}

// SnapshotRecord is a stored snapshot with its position in the run.
type SnapshotRecord struct {
	RunID    string           `json:"run_id"`
	Step     int64            `json:"step"`
	Clock    float64          `json:"clock"`
	Snapshot cluster.Snapshot `json:"snapshot"`
}

// SQLStore writes through database/sql. Queries use ? placeholders and are
// rebound for postgres.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// Open connects to driver at dsn and creates the schema. For sqlite the
// parent directory of dsn is created when missing.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite:
		if dir := filepath.Dir(dsn); dsn != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unknown db driver %q; valid: %s, %s", driver, DriverSQLite, DriverPostgres)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	s := New(db, driver)
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schemas: %w", err)
	}
	logrus.Infof("store: %s ready", driver)
	return s, nil
}

// New wraps an open handle without touching the schema.
func New(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

// Ping checks the connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping %s database: %w", s.driver, err)
	}
	return nil
}

// Migrate creates the tables when they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			seed BIGINT NOT NULL,
			started_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			run_id TEXT NOT NULL REFERENCES runs(id),
			step BIGINT NOT NULL,
			clock DOUBLE PRECISION NOT NULL,
			data TEXT NOT NULL,
			PRIMARY KEY (run_id, step)
		)`,
	}
	for _, q := range schemas {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// CreateRun registers a new run with a fresh id.
func (s *SQLStore) CreateRun(ctx context.Context, mode cluster.Mode, seed int64) (Run, error) {
	run := Run{
		ID:        uuid.NewString(),
		Mode:      mode,
		Seed:      seed,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO runs (id, mode, seed, started_at) VALUES (?, ?, ?, ?)`),
		run.ID, string(run.Mode), run.Seed, run.StartedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// SaveSnapshot stores snap under runID at its step. Saving the same step
// twice overwrites it.
func (s *SQLStore) SaveSnapshot(ctx context.Context, runID string, snap cluster.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO snapshots (run_id, step, clock, data) VALUES (?, ?, ?, ?)
			ON CONFLICT (run_id, step) DO UPDATE SET clock = excluded.clock, data = excluded.data`),
		runID, snap.Steps, snap.Clock, string(data))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the highest-step snapshot of runID.
func (s *SQLStore) LatestSnapshot(ctx context.Context, runID string) (SnapshotRecord, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT step, clock, data FROM snapshots WHERE run_id = ? ORDER BY step DESC LIMIT 1`),
		runID)
	rec := SnapshotRecord{RunID: runID}
	var data string
	if err := row.Scan(&rec.Step, &rec.Clock, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, fmt.Errorf("snapshot for run %s: %w", runID, ErrNotFound)
		}
		return rec, fmt.Errorf("select snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &rec.Snapshot); err != nil {
		return rec, fmt.Errorf("decode snapshot: %w", err)
	}
	return rec, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *SQLStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT id, mode, seed, started_at FROM runs ORDER BY started_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var mode, started string
		if err := rows.Scan(&r.ID, &mode, &r.Seed, &started); err != nil {
			return nil, err
		}
		r.Mode = cluster.Mode(mode)
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("run %s: bad started_at %q: %w", r.ID, started, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close closes the underlying handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders as $1, $2, ... for postgres.
func (s *SQLStore) rebind(q string) string {
	if s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
