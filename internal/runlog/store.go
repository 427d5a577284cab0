// Package runlog keeps a history of evaluation and training runs and the
// metric values recorded for each epoch in SQLite.
package runlog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var ErrUnknownRun = errors.New("unknown run")

const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id          TEXT PRIMARY KEY,
	backbone        TEXT NOT NULL,
	hyperparameters TEXT NOT NULL,
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS epoch_metrics (
	run_id      TEXT NOT NULL,
	epoch       INTEGER NOT NULL,
	name        TEXT NOT NULL,
	value       REAL NOT NULL,
	recorded_at TEXT NOT NULL,
	PRIMARY KEY (run_id, epoch, name),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

type Run struct {
	ID              string
	Backbone        string
	Hyperparameters map[string]interface{}
	CreatedAt       time.Time
}

type MetricRecord struct {
	RunID      string
	Epoch      int
	Name       string
	Value      float64
	RecordedAt time.Time
}

// Store is safe for concurrent use.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) StartRun(backbone string, hyperparameters map[string]interface{}) (Run, error) {
	if hyperparameters == nil {
		hyperparameters = map[string]interface{}{}
	}
	hpJSON, err := json.Marshal(hyperparameters)
	if err != nil {
		return Run{}, fmt.Errorf("marshal hyperparameters: %w", err)
	}

	run := Run{
		ID:              uuid.New().String(),
		Backbone:        backbone,
		Hyperparameters: hyperparameters,
		CreatedAt:       time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`INSERT INTO runs (run_id, backbone, hyperparameters, created_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Backbone, string(hpJSON), run.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// RecordMetrics stores one epoch's values. Recording the same metric for the
// same epoch again overwrites it.
func (s *Store) RecordMetrics(runID string, epoch int, values map[string]float64) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	now := time.Now().UTC().Format(timeFormat)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM runs WHERE run_id = ?`, runID).Scan(&exists); err != nil {
		return fmt.Errorf("lookup run: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}

	for _, name := range names {
		_, err := tx.Exec(
			`INSERT INTO epoch_metrics (run_id, epoch, name, value, recorded_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(run_id, epoch, name) DO UPDATE SET value = excluded.value, recorded_at = excluded.recorded_at`,
			runID, epoch, name, values[name], now,
		)
		if err != nil {
			return fmt.Errorf("insert metric %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Metrics returns every value recorded for runID ordered by epoch then name.
func (s *Store) Metrics(runID string) ([]MetricRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT run_id, epoch, name, value, recorded_at FROM epoch_metrics
		 WHERE run_id = ? ORDER BY epoch, name`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var records []MetricRecord
	for rows.Next() {
		var rec MetricRecord
		var recordedAt string
		if err := rows.Scan(&rec.RunID, &rec.Epoch, &rec.Name, &rec.Value, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		rec.RecordedAt, _ = time.Parse(timeFormat, recordedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Runs lists every run, oldest first.
func (s *Store) Runs() ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT run_id, backbone, hyperparameters, created_at FROM runs ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var hpJSON, createdAt string
		if err := rows.Scan(&run.ID, &run.Backbone, &hpJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(hpJSON), &run.Hyperparameters); err != nil {
			return nil, fmt.Errorf("unmarshal hyperparameters for %s: %w", run.ID, err)
		}
		run.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
