package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/scenario-miner/internal/scenario"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	parent_run   TEXT,
	config_json  TEXT NOT NULL,
	seed_count   INTEGER NOT NULL,
	status       TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	finished_at  TEXT,
	FOREIGN KEY (parent_run) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS seeds (
	run_id       TEXT NOT NULL,
	idx          INTEGER NOT NULL,
	params_json  TEXT NOT NULL,
	PRIMARY KEY (run_id, idx),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS batches (
	batch_id     TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	generation   INTEGER NOT NULL,
	member       INTEGER NOT NULL,
	params_json  TEXT NOT NULL,
	dir          TEXT,
	fitness      REAL,
	created_at   TEXT NOT NULL,
	UNIQUE (run_id, generation, member),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS fingerprints (
	run_id       TEXT NOT NULL,
	fingerprint  TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	PRIMARY KEY (run_id, fingerprint),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS outcomes (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	fingerprint  TEXT NOT NULL,
	params_json  TEXT NOT NULL,
	result_type  TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS provenance_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	generation    INTEGER NOT NULL,
	trigger_type  TEXT NOT NULL,
	signals_json  TEXT,
	decision      TEXT NOT NULL,
	reason        TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// #endregion schema

// #region store-struct
// Store persists evolution runs in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
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

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region runs
// CreateRun inserts a run in running state together with its seeds.
// An empty RunID is replaced by a fresh UUID.
func (s *Store) CreateRun(rec RunRecord, seeds []scenario.Params) (RunRecord, error) {
	if rec.RunID == "" {
		rec.RunID = uuid.New().String()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	rec.Status = StatusRunning
	rec.SeedCount = len(seeds)

	tx, err := s.db.Begin()
	if err != nil {
		return RunRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (run_id, parent_run, config_json, seed_count, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RunID, nullIfEmpty(rec.ParentRun), rec.ConfigJSON, rec.SeedCount, rec.Status,
		rec.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}

	for i, p := range seeds {
		pj, err := json.Marshal(p)
		if err != nil {
			return RunRecord{}, fmt.Errorf("marshal seed %d: %w", i, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO seeds (run_id, idx, params_json) VALUES (?, ?, ?)`,
			rec.RunID, i, string(pj),
		); err != nil {
			return RunRecord{}, fmt.Errorf("insert seed %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return RunRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// FinishRun marks a run finished or failed.
func (s *Store) FinishRun(runID, status string) error {
	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, finished_at = ? WHERE run_id = ?`,
		status, time.Now().UTC().Format(time.RFC3339Nano), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(runID string) (RunRecord, error) {
	row := s.db.QueryRow(
		`SELECT run_id, parent_run, config_json, seed_count, status, started_at, finished_at
		 FROM runs WHERE run_id = ?`, runID,
	)
	rec, err := scanRun(row)
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return rec, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, parent_run, config_json, seed_count, status, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunRecord, error) {
	var rec RunRecord
	var parent, finished sql.NullString
	var started string
	if err := sc.Scan(&rec.RunID, &parent, &rec.ConfigJSON, &rec.SeedCount, &rec.Status, &started, &finished); err != nil {
		return RunRecord{}, err
	}
	if parent.Valid {
		rec.ParentRun = parent.String
	}
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if finished.Valid {
		rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
	}
	return rec, nil
}

// Seeds returns the seed scenarios a run started from, in order.
func (s *Store) Seeds(runID string) ([]scenario.Params, error) {
	rows, err := s.db.Query(`SELECT params_json FROM seeds WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("list seeds: %w", err)
	}
	defer rows.Close()

	var out []scenario.Params
	for rows.Next() {
		var pj string
		if err := rows.Scan(&pj); err != nil {
			return nil, fmt.Errorf("scan seed: %w", err)
		}
		var p scenario.Params
		if err := json.Unmarshal([]byte(pj), &p); err != nil {
			return nil, fmt.Errorf("unmarshal seed: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// #endregion runs

// #region batches
// SaveBatch inserts a population member. An empty BatchID is replaced by a
// fresh UUID.
func (s *Store) SaveBatch(rec BatchRecord) (BatchRecord, error) {
	if rec.BatchID == "" {
		rec.BatchID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	pj, err := json.Marshal(rec.Params)
	if err != nil {
		return BatchRecord{}, fmt.Errorf("marshal batch: %w", err)
	}

	var fitness any
	if rec.Fitness != nil {
		fitness = *rec.Fitness
	}
	_, err = s.db.Exec(
		`INSERT INTO batches (batch_id, run_id, generation, member, params_json, dir, fitness, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.BatchID, rec.RunID, rec.Generation, rec.Member, string(pj), nullIfEmpty(rec.Dir), fitness,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return BatchRecord{}, fmt.Errorf("insert batch: %w", err)
	}
	return rec, nil
}

// SetFitness records the evaluated fitness of a batch.
func (s *Store) SetFitness(batchID string, fitness float64) error {
	res, err := s.db.Exec(`UPDATE batches SET fitness = ? WHERE batch_id = ?`, fitness, batchID)
	if err != nil {
		return fmt.Errorf("set fitness: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("batch %s not found", batchID)
	}
	return nil
}

// Batches returns all members of a run ordered by generation and member.
func (s *Store) Batches(runID string) ([]BatchRecord, error) {
	rows, err := s.db.Query(
		`SELECT batch_id, run_id, generation, member, params_json, dir, fitness, created_at
		 FROM batches WHERE run_id = ? ORDER BY generation, member`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []BatchRecord
	for rows.Next() {
		var rec BatchRecord
		var pj, created string
		var dir sql.NullString
		var fitness sql.NullFloat64
		if err := rows.Scan(&rec.BatchID, &rec.RunID, &rec.Generation, &rec.Member, &pj, &dir, &fitness, &created); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		if err := json.Unmarshal([]byte(pj), &rec.Params); err != nil {
			return nil, fmt.Errorf("unmarshal batch %s: %w", rec.BatchID, err)
		}
		if dir.Valid {
			rec.Dir = dir.String
		}
		if fitness.Valid {
			f := fitness.Float64
			rec.Fitness = &f
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GenerationStats aggregates evaluated fitness per generation.
func (s *Store) GenerationStats(runID string) ([]GenerationStats, error) {
	rows, err := s.db.Query(
		`SELECT generation, COUNT(*), MAX(fitness), AVG(fitness), MIN(fitness)
		 FROM batches WHERE run_id = ? AND fitness IS NOT NULL
		 GROUP BY generation ORDER BY generation`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("generation stats: %w", err)
	}
	defer rows.Close()

	var out []GenerationStats
	for rows.Next() {
		var g GenerationStats
		if err := rows.Scan(&g.Generation, &g.Members, &g.Best, &g.Average, &g.Worst); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// #endregion batches

// #region fingerprints
// AddFingerprint records an explored fingerprint for a run. Re-adding is a no-op.
func (s *Store) AddFingerprint(runID string, fp scenario.Fingerprint) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO fingerprints (run_id, fingerprint, created_at) VALUES (?, ?, ?)`,
		runID, string(fp), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("add fingerprint: %w", err)
	}
	return nil
}

// Fingerprints returns every fingerprint explored by a run.
func (s *Store) Fingerprints(runID string) ([]scenario.Fingerprint, error) {
	rows, err := s.db.Query(`SELECT fingerprint FROM fingerprints WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	defer rows.Close()

	var out []scenario.Fingerprint
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		out = append(out, scenario.Fingerprint(fp))
	}
	return out, rows.Err()
}

// FingerprintSink binds AddFingerprint to one run, for use as a registry
// persister.
type FingerprintSink struct {
	store *Store
	runID string
}

// NewFingerprintSink returns a sink writing into runID.
func (s *Store) NewFingerprintSink(runID string) *FingerprintSink {
	return &FingerprintSink{store: s, runID: runID}
}

// AddFingerprint implements novelty.Persister.
func (f *FingerprintSink) AddFingerprint(fp scenario.Fingerprint) error {
	return f.store.AddFingerprint(f.runID, fp)
}

// #endregion fingerprints

// #region outcomes
// RecordOutcome stores one simulated scenario result.
func (s *Store) RecordOutcome(o Outcome) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	if o.Fingerprint == "" {
		o.Fingerprint = o.Params.Fingerprint()
	}
	pj, err := json.Marshal(o.Params)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO outcomes (run_id, fingerprint, params_json, result_type, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		o.RunID, string(o.Fingerprint), string(pj), o.ResultType, o.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// Outcomes returns a run's recorded outcomes in insertion order.
func (s *Store) Outcomes(runID string) ([]Outcome, error) {
	rows, err := s.db.Query(
		`SELECT run_id, fingerprint, params_json, result_type, created_at
		 FROM outcomes WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		var fp, pj, created string
		if err := rows.Scan(&o.RunID, &fp, &pj, &o.ResultType, &created); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Fingerprint = scenario.Fingerprint(fp)
		if err := json.Unmarshal([]byte(pj), &o.Params); err != nil {
			return nil, fmt.Errorf("unmarshal outcome: %w", err)
		}
		o.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, o)
	}
	return out, rows.Err()
}

// #endregion outcomes

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers

// #region outcome-sink
// OutcomeSink binds RecordOutcome to one run.
type OutcomeSink struct {
	store *Store
	runID string
}

// NewOutcomeSink returns a sink writing into runID.
func (s *Store) NewOutcomeSink(runID string) *OutcomeSink {
	return &OutcomeSink{store: s, runID: runID}
}

// RecordOutcome implements oracle.OutcomeSink.
func (o *OutcomeSink) RecordOutcome(p scenario.Params, resultType string) error {
	return o.store.RecordOutcome(Outcome{RunID: o.runID, Params: p, ResultType: resultType})
}

// #endregion outcome-sink
