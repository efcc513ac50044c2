// Package store persists jobs, their chunks, glossaries, and critiques in
// SQLite. A job snapshot written with SaveSnapshot is restored whole by
// GetJob; the store is the source of truth the event hub's live updates
// are a view of.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/valpere/turjuman/internal/domain"
)

// ErrNotFound is returned when a job or glossary does not exist.
var ErrNotFound = errors.New("not found")

// Store is a SQLite-backed job repository. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dbPath and applies the
// schema. Use ":memory:" for an ephemeral store.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc.org/sqlite serializes access per connection; a single
	// connection avoids SQLITE_BUSY under concurrent jobs.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                TEXT PRIMARY KEY,
	filename          TEXT NOT NULL DEFAULT '',
	original_content  TEXT NOT NULL,
	config            TEXT NOT NULL,
	status            TEXT NOT NULL,
	current_step      TEXT NOT NULL,
	progress          REAL NOT NULL DEFAULT 0,
	glossary_source   TEXT NOT NULL DEFAULT 'none',
	final_document    TEXT,
	error_info        TEXT NOT NULL DEFAULT '',
	metrics           TEXT NOT NULL DEFAULT '{}',
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS job_chunks (
	job_id           TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	chunk_index      INTEGER NOT NULL,
	source_text      TEXT NOT NULL,
	translated_text  TEXT NOT NULL DEFAULT '',
	refined_text     TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	error            TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (job_id, chunk_index)
);

CREATE TABLE IF NOT EXISTS job_glossary (
	job_id        TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	term_key      TEXT NOT NULL,
	source_term   TEXT NOT NULL,
	translations  TEXT NOT NULL,
	PRIMARY KEY (job_id, term_key)
);

CREATE TABLE IF NOT EXISTS job_critiques (
	job_id    TEXT PRIMARY KEY REFERENCES jobs(id) ON DELETE CASCADE,
	verdict   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_glossaries (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	terms       TEXT NOT NULL,
	is_default  INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_user_glossaries_default
	ON user_glossaries(is_default) WHERE is_default = 1;

CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at DESC);
`
	if _, err := s.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// CreateJob inserts a new job with its chunks (if already split).
func (s *Store) CreateJob(job *domain.Job) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	metrics, err := json.Marshal(job.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO jobs (id, filename, original_content, config, status, current_step,
			progress, glossary_source, final_document, error_info, metrics, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Filename, job.OriginalContent, string(cfg), job.Status, job.CurrentStep,
		job.Progress, job.GlossarySource, job.FinalDocument, job.ErrorInfo, string(metrics),
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	if err := saveChunks(tx, job.ID, job.Chunks); err != nil {
		return err
	}
	if err := saveGlossary(tx, job.ID, job.Glossary); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveSnapshot persists the job's current state atomically: job row,
// chunk upserts, critique replacement. The glossary is written separately
// with ReplaceGlossary; it does not change between snapshots, and per-chunk
// progress snapshots are too frequent to rewrite it every time.
func (s *Store) SaveSnapshot(job *domain.Job) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	metrics, err := json.Marshal(job.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	res, err := tx.Exec(`
		UPDATE jobs SET config = ?, status = ?, current_step = ?, progress = ?,
			glossary_source = ?, final_document = ?, error_info = ?, metrics = ?, updated_at = ?
		WHERE id = ?`,
		string(cfg), job.Status, job.CurrentStep, job.Progress,
		job.GlossarySource, job.FinalDocument, job.ErrorInfo, string(metrics), job.UpdatedAt,
		job.ID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if err := saveChunks(tx, job.ID, job.Chunks); err != nil {
		return err
	}
	if err := saveCritique(tx, job.ID, job.Critique); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceGlossary writes the job's resolved glossary, replacing any
// previous terms. Called once when terminology resolution finishes.
func (s *Store) ReplaceGlossary(jobID string, gloss domain.Glossary) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := saveGlossary(tx, jobID, gloss); err != nil {
		return err
	}
	return tx.Commit()
}

func saveChunks(tx *sql.Tx, jobID string, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`
		INSERT INTO job_chunks (job_id, chunk_index, source_text, translated_text, refined_text, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id, chunk_index) DO UPDATE SET
			translated_text = excluded.translated_text,
			refined_text = excluded.refined_text,
			status = excluded.status,
			error = excluded.error`)
	if err != nil {
		return fmt.Errorf("prepare chunk upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.Exec(jobID, c.Index, c.SourceText, c.TranslatedText, c.RefinedText, c.Status, c.Error); err != nil {
			return fmt.Errorf("upsert chunk %d: %w", c.Index, err)
		}
	}
	return nil
}

func saveGlossary(tx *sql.Tx, jobID string, gloss domain.Glossary) error {
	if _, err := tx.Exec("DELETE FROM job_glossary WHERE job_id = ?", jobID); err != nil {
		return fmt.Errorf("clear glossary: %w", err)
	}
	for key, term := range gloss {
		translations, err := json.Marshal(term.Translations)
		if err != nil {
			return fmt.Errorf("marshal term %q: %w", term.SourceTerm, err)
		}
		_, err = tx.Exec(`
			INSERT INTO job_glossary (job_id, term_key, source_term, translations)
			VALUES (?, ?, ?, ?)`,
			jobID, key, term.SourceTerm, string(translations))
		if err != nil {
			return fmt.Errorf("insert term %q: %w", term.SourceTerm, err)
		}
	}
	return nil
}

func saveCritique(tx *sql.Tx, jobID string, critique *domain.Critique) error {
	if critique == nil {
		return nil
	}
	verdict, err := json.Marshal(critique)
	if err != nil {
		return fmt.Errorf("marshal critique: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO job_critiques (job_id, verdict) VALUES (?, ?)
		ON CONFLICT (job_id) DO UPDATE SET verdict = excluded.verdict`,
		jobID, string(verdict))
	if err != nil {
		return fmt.Errorf("save critique: %w", err)
	}
	return nil
}

// GetJob loads a full job snapshot, chunks in index order.
func (s *Store) GetJob(id string) (*domain.Job, error) {
	var (
		job          domain.Job
		cfgJSON      string
		metricsJSON  string
		finalDoc     sql.NullString
	)
	err := s.db.QueryRow(`
		SELECT id, filename, original_content, config, status, current_step,
			progress, glossary_source, final_document, error_info, metrics, created_at, updated_at
		FROM jobs WHERE id = ?`, id).Scan(
		&job.ID, &job.Filename, &job.OriginalContent, &cfgJSON, &job.Status, &job.CurrentStep,
		&job.Progress, &job.GlossarySource, &finalDoc, &job.ErrorInfo, &metricsJSON,
		&job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select job: %w", err)
	}

	if err := json.Unmarshal([]byte(cfgJSON), &job.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := json.Unmarshal([]byte(metricsJSON), &job.Metrics); err != nil {
		return nil, fmt.Errorf("unmarshal metrics: %w", err)
	}
	if finalDoc.Valid {
		job.FinalDocument = &finalDoc.String
	}

	if job.Chunks, err = s.loadChunks(id); err != nil {
		return nil, err
	}
	if job.Glossary, err = s.loadGlossary(id); err != nil {
		return nil, err
	}
	if job.Critique, err = s.loadCritique(id); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Store) loadChunks(jobID string) ([]domain.Chunk, error) {
	rows, err := s.db.Query(`
		SELECT chunk_index, source_text, translated_text, refined_text, status, error
		FROM job_chunks WHERE job_id = ? ORDER BY chunk_index`, jobID)
	if err != nil {
		return nil, fmt.Errorf("select chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(&c.Index, &c.SourceText, &c.TranslatedText, &c.RefinedText, &c.Status, &c.Error); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *Store) loadGlossary(jobID string) (domain.Glossary, error) {
	rows, err := s.db.Query(`
		SELECT term_key, source_term, translations FROM job_glossary WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, fmt.Errorf("select glossary: %w", err)
	}
	defer rows.Close()

	var gloss domain.Glossary
	for rows.Next() {
		var (
			key, source, translations string
		)
		if err := rows.Scan(&key, &source, &translations); err != nil {
			return nil, fmt.Errorf("scan term: %w", err)
		}
		term := domain.GlossaryTerm{SourceTerm: source}
		if err := json.Unmarshal([]byte(translations), &term.Translations); err != nil {
			return nil, fmt.Errorf("unmarshal term %q: %w", source, err)
		}
		if gloss == nil {
			gloss = domain.Glossary{}
		}
		gloss[key] = term
	}
	return gloss, rows.Err()
}

func (s *Store) loadCritique(jobID string) (*domain.Critique, error) {
	var verdict string
	err := s.db.QueryRow("SELECT verdict FROM job_critiques WHERE job_id = ?", jobID).Scan(&verdict)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select critique: %w", err)
	}
	var critique domain.Critique
	if err := json.Unmarshal([]byte(verdict), &critique); err != nil {
		return nil, fmt.Errorf("unmarshal critique: %w", err)
	}
	return &critique, nil
}

// JobSummary is the listing view of a job, without document bodies.
type JobSummary struct {
	ID          string           `json:"job_id"`
	Filename    string           `json:"original_filename,omitempty"`
	Status      domain.JobStatus `json:"status"`
	CurrentStep domain.Step      `json:"current_step"`
	Progress    float64          `json:"progress_percent"`
	ErrorInfo   string           `json:"error_info,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// ListJobs returns job summaries, newest first.
func (s *Store) ListJobs() ([]JobSummary, error) {
	rows, err := s.db.Query(`
		SELECT id, filename, status, current_step, progress, error_info, created_at, updated_at
		FROM jobs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}
	defer rows.Close()

	summaries := []JobSummary{}
	for rows.Next() {
		var js JobSummary
		if err := rows.Scan(&js.ID, &js.Filename, &js.Status, &js.CurrentStep,
			&js.Progress, &js.ErrorInfo, &js.CreatedAt, &js.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		summaries = append(summaries, js)
	}
	return summaries, rows.Err()
}

// DeleteJob removes a job and its dependents. Deleting a missing job is
// not an error.
func (s *Store) DeleteJob(id string) error {
	if _, err := s.db.Exec("DELETE FROM jobs WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// UserGlossary is a named, reusable glossary.
type UserGlossary struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Terms     domain.Glossary `json:"terms"`
	IsDefault bool            `json:"is_default"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SaveUserGlossary inserts or updates a user glossary. Setting IsDefault
// clears the default flag from any other glossary first.
func (s *Store) SaveUserGlossary(g *UserGlossary) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	terms, err := json.Marshal(g.Terms)
	if err != nil {
		return fmt.Errorf("marshal terms: %w", err)
	}

	if g.IsDefault {
		if _, err := tx.Exec("UPDATE user_glossaries SET is_default = 0 WHERE is_default = 1"); err != nil {
			return fmt.Errorf("clear default: %w", err)
		}
	}

	isDefault := 0
	if g.IsDefault {
		isDefault = 1
	}
	_, err = tx.Exec(`
		INSERT INTO user_glossaries (id, name, terms, is_default, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			terms = excluded.terms,
			is_default = excluded.is_default,
			updated_at = excluded.updated_at`,
		g.ID, g.Name, string(terms), isDefault, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save glossary: %w", err)
	}
	return tx.Commit()
}

// GetUserGlossary loads a user glossary by ID.
func (s *Store) GetUserGlossary(id string) (*UserGlossary, error) {
	return s.queryUserGlossary("SELECT id, name, terms, is_default, created_at, updated_at FROM user_glossaries WHERE id = ?", id)
}

// GetDefaultUserGlossary loads the glossary marked default, or ErrNotFound.
func (s *Store) GetDefaultUserGlossary() (*UserGlossary, error) {
	return s.queryUserGlossary("SELECT id, name, terms, is_default, created_at, updated_at FROM user_glossaries WHERE is_default = 1")
}

func (s *Store) queryUserGlossary(query string, args ...any) (*UserGlossary, error) {
	var (
		g         UserGlossary
		terms     string
		isDefault int
	)
	err := s.db.QueryRow(query, args...).Scan(&g.ID, &g.Name, &terms, &isDefault, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user glossary: %w", err)
	}
	if err := json.Unmarshal([]byte(terms), &g.Terms); err != nil {
		return nil, fmt.Errorf("unmarshal terms: %w", err)
	}
	g.IsDefault = isDefault == 1
	return &g, nil
}

// ListUserGlossaries returns all user glossaries ordered by name.
func (s *Store) ListUserGlossaries() ([]UserGlossary, error) {
	rows, err := s.db.Query("SELECT id, name, terms, is_default, created_at, updated_at FROM user_glossaries ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("select user glossaries: %w", err)
	}
	defer rows.Close()

	var out []UserGlossary
	for rows.Next() {
		var (
			g         UserGlossary
			terms     string
			isDefault int
		)
		if err := rows.Scan(&g.ID, &g.Name, &terms, &isDefault, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user glossary: %w", err)
		}
		if err := json.Unmarshal([]byte(terms), &g.Terms); err != nil {
			return nil, fmt.Errorf("unmarshal terms: %w", err)
		}
		g.IsDefault = isDefault == 1
		out = append(out, g)
	}
	return out, rows.Err()
}

// DeleteUserGlossary removes a user glossary; missing IDs are not errors.
func (s *Store) DeleteUserGlossary(id string) error {
	if _, err := s.db.Exec("DELETE FROM user_glossaries WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete user glossary: %w", err)
	}
	return nil
}
