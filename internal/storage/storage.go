package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"astrored/internal/orbit"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a job or orbit is not recorded.
var ErrNotFound = errors.New("not found")

// Store wraps SQLite-backed persistence for solve jobs and their orbits.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection serializes writers from the worker pool
	db.SetMaxOpenConns(1)
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS solve_jobs (
            id TEXT PRIMARY KEY,
            target TEXT,
            source TEXT,
            status TEXT NOT NULL,
            observations INTEGER,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS job_results (
            job_id TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS orbit_elements (
            job_id TEXT PRIMARY KEY,
            target TEXT NOT NULL,
            epoch_jd REAL NOT NULL,
            a REAL, a_sigma REAL,
            e REAL, e_sigma REAL,
            i REAL, i_sigma REAL,
            node REAL, node_sigma REAL,
            peri REAL, peri_sigma REAL,
            m REAL, m_sigma REAL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS solve_attempts (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            job_id TEXT NOT NULL,
            scope TEXT NOT NULL,
            year INTEGER,
            observations INTEGER,
            outcome TEXT NOT NULL,
            error_message TEXT,
            duration_ms INTEGER
        );`,
		`CREATE INDEX IF NOT EXISTS idx_orbit_elements_target ON orbit_elements(target);`,
		`CREATE INDEX IF NOT EXISTS idx_solve_attempts_job_id ON solve_attempts(job_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// JobRecord captures persisted job info.
type JobRecord struct {
	ID           string     `json:"id"`
	Target       string     `json:"target"`
	Source       string     `json:"source"`
	Status       string     `json:"status"`
	Observations int        `json:"observations"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// AttemptRecord is one persisted solver invocation.
type AttemptRecord struct {
	Scope        string `json:"scope"`
	Year         int    `json:"year,omitempty"`
	Observations int    `json:"observations"`
	Outcome      string `json:"outcome"`
	Error        string `json:"error,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO solve_jobs (id, target, source, status, observations) VALUES (?, ?, ?, ?, ?);`,
		rec.ID, rec.Target, rec.Source, rec.Status, rec.Observations)
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE solve_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a job with status and meta.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	if _, err := s.DB.Exec(`UPDATE solve_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id); err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO job_results (job_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

const jobColumns = `id, target, source, status, observations, created_at, started_at, completed_at, error_message`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (JobRecord, error) {
	var rec JobRecord
	var target, source, errorMsg sql.NullString
	var observations sql.NullInt64
	var started, completed sql.NullTime
	if err := row.Scan(&rec.ID, &target, &source, &rec.Status, &observations, &rec.CreatedAt, &started, &completed, &errorMsg); err != nil {
		return JobRecord{}, err
	}
	rec.Target = target.String
	rec.Source = source.String
	rec.Observations = int(observations.Int64)
	rec.Error = errorMsg.String
	if started.Valid {
		rec.StartedAt = &started.Time
	}
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	return rec, nil
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT `+jobColumns+` FROM solve_jobs ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Job fetches one job by ID.
func (s *Store) Job(id string) (JobRecord, error) {
	if s == nil {
		return JobRecord{}, errors.New("store not initialized")
	}
	rec, err := scanJob(s.DB.QueryRow(`SELECT `+jobColumns+` FROM solve_jobs WHERE id=?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return JobRecord{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// JobMeta fetches the last meta blob for a job.
func (s *Store) JobMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1;`, id).Scan(&metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s meta: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// RecordOrbit stores the estimate a job converged to.
func (s *Store) RecordOrbit(jobID, target string, est orbit.Estimate) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO orbit_elements (job_id, target, epoch_jd, a, a_sigma, e, e_sigma, i, i_sigma, node, node_sigma, peri, peri_sigma, m, m_sigma)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		jobID, target, est.Epoch,
		est.SemimajorAxis.Value, est.SemimajorAxis.Sigma,
		est.Eccentricity.Value, est.Eccentricity.Sigma,
		est.Inclination.Value, est.Inclination.Sigma,
		est.Node.Value, est.Node.Sigma,
		est.ArgPerihelion.Value, est.ArgPerihelion.Sigma,
		est.MeanAnomaly.Value, est.MeanAnomaly.Sigma)
	return err
}

// LatestOrbit returns the most recently recorded estimate for target.
func (s *Store) LatestOrbit(target string) (orbit.Estimate, string, error) {
	if s == nil {
		return orbit.Estimate{}, "", errors.New("store not initialized")
	}
	var est orbit.Estimate
	var jobID string
	err := s.DB.QueryRow(`SELECT job_id, epoch_jd, a, a_sigma, e, e_sigma, i, i_sigma, node, node_sigma, peri, peri_sigma, m, m_sigma
        FROM orbit_elements WHERE target=? ORDER BY created_at DESC, rowid DESC LIMIT 1;`, target).Scan(
		&jobID, &est.Epoch,
		&est.SemimajorAxis.Value, &est.SemimajorAxis.Sigma,
		&est.Eccentricity.Value, &est.Eccentricity.Sigma,
		&est.Inclination.Value, &est.Inclination.Sigma,
		&est.Node.Value, &est.Node.Sigma,
		&est.ArgPerihelion.Value, &est.ArgPerihelion.Sigma,
		&est.MeanAnomaly.Value, &est.MeanAnomaly.Sigma)
	if errors.Is(err, sql.ErrNoRows) {
		return orbit.Estimate{}, "", fmt.Errorf("orbit for %s: %w", target, ErrNotFound)
	}
	return est, jobID, err
}

// RecordAttempts stores the solver invocations of a job.
func (s *Store) RecordAttempts(jobID string, attempts []AttemptRecord) error {
	if s == nil || len(attempts) == 0 {
		return nil
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.Prepare(`INSERT INTO solve_attempts (job_id, scope, year, observations, outcome, error_message, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, a := range attempts {
		if _, err := stmt.Exec(jobID, a.Scope, a.Year, a.Observations, a.Outcome, a.Error, a.DurationMS); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Attempts lists a job's solver invocations in the order they ran.
func (s *Store) Attempts(jobID string) ([]AttemptRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT scope, year, observations, outcome, error_message, duration_ms FROM solve_attempts WHERE job_id=? ORDER BY id;`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AttemptRecord
	for rows.Next() {
		var a AttemptRecord
		var errMsg sql.NullString
		if err := rows.Scan(&a.Scope, &a.Year, &a.Observations, &a.Outcome, &errMsg, &a.DurationMS); err != nil {
			return nil, err
		}
		a.Error = errMsg.String
		out = append(out, a)
	}
	return out, rows.Err()
}
