// Package store persists simulation results (time series and reachability
// estimates) in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sibilla-sim/sibilla/sim"
	"github.com/sibilla-sim/sibilla/sim/sampling"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = eris.New("run not found")

// timeLayout keeps a fixed-width fraction so timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run describes one stored simulation job.
type Run struct {
	ID         uuid.UUID          `json:"id"`
	Kind       string             `json:"kind"`
	Model      string             `json:"model"`
	Params     map[string]float64 `json:"params,omitempty"`
	Seed       int64              `json:"seed"`
	Deadline   float64            `json:"deadline"`
	Iterations int                `json:"iterations,omitempty"`
	Stats      sim.ReplicaStats   `json:"stats"`
	CreatedAt  time.Time          `json:"created_at"`
}

// Reachability is a stored reachability estimate with the predicates it answers.
type Reachability struct {
	Phi string `json:"phi"`
	Psi string `json:"psi"`
	sim.ReachabilityResult
}

// SQLiteStore stores runs in one SQLite file.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, eris.Wrapf(err, "failed to create %s", dir)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, eris.Wrap(err, "failed to open database")
	}
	db.SetMaxOpenConns(1) // single writer

	if err := InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to initialize schema")
	}
	return &SQLiteStore{db: db}, nil
}

// SaveRun stores a time-series run and its aggregated series. A nil run ID is
// replaced by a new one; the stored run is returned.
func (s *SQLiteStore) SaveRun(ctx context.Context, run Run, series []*sampling.TimeSeries) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.Kind == "" {
		run.Kind = "timeseries"
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return run, eris.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if run, err = insertRun(ctx, tx, run); err != nil {
		return run, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO series_points (run_id, name, idx, time, n, mean, m2, min, max)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return run, eris.Wrap(err, "failed to prepare series insert")
	}
	defer stmt.Close()

	for _, ts := range series {
		for i, p := range ts.Points {
			if _, err := stmt.ExecContext(ctx, run.ID.String(), ts.Name, i, ts.Times[i],
				p.N, p.Mean, p.M2, p.Min, p.Max); err != nil {
				return run, eris.Wrapf(err, "failed to insert point %d of %s", i, ts.Name)
			}
		}
	}
	return run, eris.Wrap(tx.Commit(), "failed to commit series")
}

// SaveReachability stores a reachability run.
func (s *SQLiteStore) SaveReachability(ctx context.Context, run Run, res Reachability) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run.Kind = "reachability"
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return run, eris.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if run, err = insertRun(ctx, tx, run); err != nil {
		return run, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO reachability (run_id, phi, psi, probability, samples, successes, bound, delta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), res.Phi, res.Psi, res.Probability, res.Samples, res.Successes,
		res.Bound, res.Delta); err != nil {
		return run, eris.Wrap(err, "failed to insert reachability")
	}
	return run, eris.Wrap(tx.Commit(), "failed to commit reachability")
}

func insertRun(ctx context.Context, tx *sql.Tx, run Run) (Run, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	params, err := json.Marshal(run.Params)
	if err != nil {
		return run, eris.Wrap(err, "failed to encode params")
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, kind, model, params, seed, deadline, iterations,
		                  completed, absorbed, cancelled, failed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.Kind, run.Model, string(params), run.Seed, run.Deadline, run.Iterations,
		run.Stats.Completed, run.Stats.Absorbed, run.Stats.Cancelled, run.Stats.Failed,
		run.CreatedAt.UTC().Format(timeLayout)); err != nil {
		return run, eris.Wrapf(err, "failed to insert run %s", run.ID)
	}
	return run, nil
}

// GetRun returns one run.
func (s *SQLiteStore) GetRun(ctx context.Context, id uuid.UUID) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, runSelect+` WHERE id = ?`, id.String())
	run, err := scanRun(row)
	if eris.Is(err, sql.ErrNoRows) {
		return Run{}, eris.Wrapf(ErrRunNotFound, "%s", id)
	}
	return run, err
}

// ListRuns returns every run, oldest first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, runSelect+` ORDER BY created_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "failed to query runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, eris.Wrap(rows.Err(), "failed to iterate runs")
}

const runSelect = `
	SELECT id, kind, model, params, seed, deadline, iterations,
	       completed, absorbed, cancelled, failed, created_at
	FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run              Run
		id, params, when string
	)
	if err := row.Scan(&id, &run.Kind, &run.Model, &params, &run.Seed, &run.Deadline, &run.Iterations,
		&run.Stats.Completed, &run.Stats.Absorbed, &run.Stats.Cancelled, &run.Stats.Failed, &when); err != nil {
		if err == sql.ErrNoRows {
			return run, err
		}
		return run, eris.Wrap(err, "failed to scan run")
	}
	var err error
	if run.ID, err = uuid.Parse(id); err != nil {
		return run, eris.Wrapf(err, "malformed run id %q", id)
	}
	if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
		return run, eris.Wrapf(err, "malformed params of run %s", id)
	}
	if run.CreatedAt, err = time.Parse(timeLayout, when); err != nil {
		return run, eris.Wrapf(err, "malformed timestamp of run %s", id)
	}
	return run, nil
}

// LoadSeries returns the series of a time-series run, ordered by name.
func (s *SQLiteStore) LoadSeries(ctx context.Context, id uuid.UUID) ([]*sampling.TimeSeries, error) {
	if _, err := s.GetRun(ctx, id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, time, n, mean, m2, min, max FROM series_points
		WHERE run_id = ? ORDER BY name, idx`, id.String())
	if err != nil {
		return nil, eris.Wrap(err, "failed to query series")
	}
	defer rows.Close()

	var (
		out     []*sampling.TimeSeries
		current *sampling.TimeSeries
	)
	for rows.Next() {
		var (
			name string
			t    float64
			p    sampling.Summary
		)
		if err := rows.Scan(&name, &t, &p.N, &p.Mean, &p.M2, &p.Min, &p.Max); err != nil {
			return nil, eris.Wrap(err, "failed to scan series point")
		}
		if current == nil || current.Name != name {
			current = &sampling.TimeSeries{Name: name}
			out = append(out, current)
		}
		current.Times = append(current.Times, t)
		current.Points = append(current.Points, p)
	}
	return out, eris.Wrap(rows.Err(), "failed to iterate series")
}

// LoadReachability returns the estimate of a reachability run.
func (s *SQLiteStore) LoadReachability(ctx context.Context, id uuid.UUID) (Reachability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res Reachability
	err := s.db.QueryRowContext(ctx, `
		SELECT phi, psi, probability, samples, successes, bound, delta
		FROM reachability WHERE run_id = ?`, id.String()).
		Scan(&res.Phi, &res.Psi, &res.Probability, &res.Samples, &res.Successes, &res.Bound, &res.Delta)
	if err == sql.ErrNoRows {
		return res, eris.Wrapf(ErrRunNotFound, "no reachability estimate for %s", id)
	}
	if err != nil {
		return res, eris.Wrap(err, "failed to load reachability")
	}
	return res, nil
}

// DeleteRun removes a run and its results.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id.String())
	if err != nil {
		return eris.Wrapf(err, "failed to delete run %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrRunNotFound, "%s", id)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
