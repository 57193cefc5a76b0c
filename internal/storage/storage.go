package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"asterism/internal/match"
	"asterism/internal/star"
)

// Drivers accepted by New. "sqlite" is the pure Go driver, "sqlite3" the cgo one.
const (
	DriverPureGo = "sqlite"
	DriverCgo    = "sqlite3"
)

// ErrNotInitialized is returned by read methods on a nil Store.
var ErrNotInitialized = errors.New("store not initialized")

// Store wraps SQLite-backed persistence for jobs and their results.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema. An empty
// driver selects the pure Go driver.
func New(driver, path string) (*Store, error) {
	if driver == "" {
		driver = DriverPureGo
	}
	if driver != DriverPureGo && driver != DriverCgo {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY between workers.
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
		`CREATE TABLE IF NOT EXISTS processing_jobs (
            id TEXT PRIMARY KEY,
            job_type TEXT NOT NULL,
            status TEXT NOT NULL,
            input_path TEXT,
            output_path TEXT,
            options_json TEXT,
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
		`CREATE TABLE IF NOT EXISTS detected_stars (
            job_id TEXT NOT NULL,
            frame TEXT NOT NULL,
            idx INTEGER NOT NULL,
            x REAL NOT NULL,
            y REAL NOT NULL,
            r REAL NOT NULL,
            b REAL NOT NULL,
            PRIMARY KEY (job_id, frame, idx)
        );`,
		`CREATE TABLE IF NOT EXISTS correspondences (
            job_id TEXT NOT NULL,
            idx INTEGER NOT NULL,
            quad_a TEXT NOT NULL,
            quad_b TEXT NOT NULL,
            PRIMARY KEY (job_id, idx)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_job_results_job_id ON job_results(job_id);`,
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
	ID          string     `json:"id"`
	JobType     string     `json:"job_type"`
	Status      string     `json:"status"`
	InputPath   string     `json:"input_path"`
	OutputPath  string     `json:"output_path"`
	OptionsJSON string     `json:"options_json"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// QuadPair is a stored correspondence.
type QuadPair struct {
	A star.Quad `json:"a"`
	B star.Quad `json:"b"`
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO processing_jobs (id, job_type, status, input_path, output_path, options_json) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.JobType, rec.Status, rec.InputPath, rec.OutputPath, rec.OptionsJSON)
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
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
	_, err = s.DB.Exec(`UPDATE processing_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO job_results (job_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

const jobColumns = `id, job_type, status, input_path, output_path, options_json, created_at, started_at, completed_at, error_message`

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, ErrNotInitialized
	}
	rows, err := s.DB.Query(`SELECT `+jobColumns+` FROM processing_jobs ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
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

// Job fetches a single job. A missing id yields sql.ErrNoRows.
func (s *Store) Job(id string) (JobRecord, error) {
	if s == nil {
		return JobRecord{}, ErrNotInitialized
	}
	return scanJob(s.DB.QueryRow(`SELECT `+jobColumns+` FROM processing_jobs WHERE id=?;`, id))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (JobRecord, error) {
	var rec JobRecord
	var input, output, opts, errorMsg sql.NullString
	var started, completed sql.NullTime
	if err := row.Scan(&rec.ID, &rec.JobType, &rec.Status, &input, &output, &opts, &rec.CreatedAt, &started, &completed, &errorMsg); err != nil {
		return JobRecord{}, err
	}
	rec.InputPath = input.String
	rec.OutputPath = output.String
	rec.OptionsJSON = opts.String
	rec.Error = errorMsg.String
	if started.Valid {
		rec.StartedAt = &started.Time
	}
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	return rec, nil
}

// JobMeta fetches the last meta blob for a job.
func (s *Store) JobMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, ErrNotInitialized
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1;`, id).Scan(&metaJSON)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// RecordStars replaces the stars stored for one frame of a job.
func (s *Store) RecordStars(jobID, frame string, stars []star.Star) error {
	if s == nil {
		return nil
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM detected_stars WHERE job_id=? AND frame=?;`, jobID, frame); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO detected_stars (job_id, frame, idx, x, y, r, b) VALUES (?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, st := range stars {
		if _, err := stmt.Exec(jobID, frame, i, st.X, st.Y, st.R, st.B); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Stars returns the stars stored for one frame of a job, in detection order.
func (s *Store) Stars(jobID, frame string) ([]star.Star, error) {
	if s == nil {
		return nil, ErrNotInitialized
	}
	rows, err := s.DB.Query(`SELECT x, y, r, b FROM detected_stars WHERE job_id=? AND frame=? ORDER BY idx;`, jobID, frame)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []star.Star
	for rows.Next() {
		var st star.Star
		if err := rows.Scan(&st.X, &st.Y, &st.R, &st.B); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// RecordCorrespondences replaces the correspondences stored for a job.
func (s *Store) RecordCorrespondences(jobID string, corrs []match.Correspondence) error {
	if s == nil {
		return nil
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM correspondences WHERE job_id=?;`, jobID); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO correspondences (job_id, idx, quad_a, quad_b) VALUES (?, ?, ?, ?);`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, c := range corrs {
		qa, qb := c.Quads()
		a, err := json.Marshal(qa)
		if err != nil {
			return err
		}
		b, err := json.Marshal(qb)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(jobID, i, string(a), string(b)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Correspondences returns the stored quads of a job in match order.
func (s *Store) Correspondences(jobID string) ([]QuadPair, error) {
	if s == nil {
		return nil, ErrNotInitialized
	}
	rows, err := s.DB.Query(`SELECT quad_a, quad_b FROM correspondences WHERE job_id=? ORDER BY idx;`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QuadPair
	for rows.Next() {
		var a, b string
		if err := rows.Scan(&a, &b); err != nil {
			return nil, err
		}
		var p QuadPair
		if err := json.Unmarshal([]byte(a), &p.A); err != nil {
			return nil, fmt.Errorf("unmarshal quad: %w", err)
		}
		if err := json.Unmarshal([]byte(b), &p.B); err != nil {
			return nil, fmt.Errorf("unmarshal quad: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
