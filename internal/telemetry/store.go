// Package telemetry persists run history to SQLite. The store implements
// engine.Sink; writes are best-effort and never fail a run.
package telemetry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"autoscope/internal/engine"
	"autoscope/internal/instrument"
	"autoscope/internal/logging"
	"autoscope/internal/perception"
)

// Store records runs, actions, and observations in a SQLite database.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	log *zap.Logger
}

// Open initializes the telemetry database at the given path, creating the
// parent directory and schema as needed.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, log: logging.Get("telemetry")}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		initial_state TEXT,
		iterations INTEGER DEFAULT 0,
		energy_cost REAL DEFAULT 0,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		name TEXT NOT NULL,
		status TEXT,
		started_at DATETIME NOT NULL,
		duration_ms REAL,
		energy_cost REAL,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_actions_run ON actions(run_id);

	CREATE TABLE IF NOT EXISTS observations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		entity_type TEXT,
		observed_at DATETIME NOT NULL,
		x REAL, y REAL, z REAL,
		metrics TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_observations_run ON observations(run_id);
	CREATE INDEX IF NOT EXISTS idx_observations_entity ON observations(entity_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunStarted records the start of a run with its initial instrument state.
func (s *Store) RunStarted(runID string, state instrument.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, _ := json.Marshal(state)
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO runs (id, started_at, initial_state) VALUES (?, ?, ?)`,
		runID, time.Now().UTC(), string(payload),
	)
	if err != nil {
		s.log.Warn("record run start", zap.String("run_id", runID), zap.Error(err))
	}
}

// ActionStarted records a pending action row; ActionFinished fills it in.
func (s *Store) ActionStarted(runID string, iteration int, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO actions (run_id, iteration, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		runID, iteration, name, string(engine.StatusRunning), time.Now().UTC(),
	)
	if err != nil {
		s.log.Warn("record action start", zap.String("run_id", runID), zap.Error(err))
	}
}

// ActionFinished records the action's outcome against its pending row.
func (s *Store) ActionFinished(runID string, iteration int, name string, result engine.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errText sql.NullString
	if result.Err != "" {
		errText = sql.NullString{String: result.Err, Valid: true}
	}
	_, err := s.db.Exec(
		`UPDATE actions SET status = ?, duration_ms = ?, energy_cost = ?, error = ?
		 WHERE id = (SELECT id FROM actions WHERE run_id = ? AND iteration = ? AND name = ? ORDER BY id DESC LIMIT 1)`,
		string(result.Status), float64(result.Duration)/float64(time.Millisecond),
		result.EnergyCost, errText,
		runID, iteration, name,
	)
	if err != nil {
		s.log.Warn("record action finish", zap.String("run_id", runID), zap.Error(err))
	}
}

// ObservationRecorded appends one observation row.
func (s *Store) ObservationRecorded(runID string, obs perception.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var x, y, z sql.NullFloat64
	if obs.Position != nil {
		x = sql.NullFloat64{Float64: obs.Position.X, Valid: true}
		y = sql.NullFloat64{Float64: obs.Position.Y, Valid: true}
		z = sql.NullFloat64{Float64: obs.Position.Z, Valid: true}
	}
	metrics, _ := json.Marshal(obs.QualityMetrics)
	_, err := s.db.Exec(
		`INSERT INTO observations (run_id, entity_id, entity_type, observed_at, x, y, z, metrics)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, obs.EntityID, obs.EntityType, obs.Timestamp.UTC(), x, y, z, string(metrics),
	)
	if err != nil {
		s.log.Warn("record observation", zap.String("run_id", runID), zap.Error(err))
	}
}

// RunFinished closes out the run row.
func (s *Store) RunFinished(runID string, iterations int, energyCost float64, runErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errText sql.NullString
	if runErr != nil {
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, iterations = ?, energy_cost = ?, error = ? WHERE id = ?`,
		time.Now().UTC(), iterations, energyCost, errText, runID,
	)
	if err != nil {
		s.log.Warn("record run finish", zap.String("run_id", runID), zap.Error(err))
	}
}

// RunSummary is one row of run history.
type RunSummary struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Iterations int
	EnergyCost float64
	Error      string
}

// RecentRuns returns the most recent runs, newest first.
func (s *Store) RecentRuns(limit int) ([]RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, started_at, COALESCE(finished_at, started_at), iterations, energy_cost, COALESCE(error, '')
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Iterations, &r.EnergyCost, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
