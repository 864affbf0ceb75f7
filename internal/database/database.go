package database

import (
	"database/sql"
	"encoding/json"
	"time"
	"umod-repack/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// DB wraps the SQL database with helper methods
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dataSourceName string) (*DB, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, errors.Wrap(err, "error opening database")
	}
	// sqlite serialises writers anyway; one connection avoids busy errors
	db.SetMaxOpenConns(1)
	return &DB{db}, nil
}

// InitSchema initializes the database schema
func (db *DB) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		job_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		state TEXT NOT NULL,
		submit_time INTEGER NOT NULL,
		finished_at DATETIME NOT NULL,
		files TEXT NOT NULL,
		artifact_count INTEGER NOT NULL DEFAULT 0,
		document TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_state ON submissions(state);
	CREATE INDEX IF NOT EXISTS idx_submit_time ON submissions(submit_time);
	`

	_, err := db.Exec(schema)
	return errors.Wrap(err, "error initializing schema")
}

// Save records a processed submission, replacing any earlier record for the
// same job
func (db *DB) Save(record models.SubmissionRecord) error {
	document, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "error encoding submission")
	}
	files, err := json.Marshal(record.Job.Files)
	if err != nil {
		return errors.Wrap(err, "error encoding artifact names")
	}
	_, err = db.Exec(`
		INSERT INTO submissions (job_id, name, state, submit_time, finished_at, files, artifact_count, document)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			name = excluded.name,
			state = excluded.state,
			submit_time = excluded.submit_time,
			finished_at = excluded.finished_at,
			files = excluded.files,
			artifact_count = excluded.artifact_count,
			document = excluded.document
	`, record.Job.ID, record.Name, string(record.Job.State), record.SubmitTime,
		time.Now().UTC(), string(files), len(record.Job.Files), string(document))
	return errors.Wrapf(err, "error saving submission %s", record.Job.ID)
}

// GetSubmission retrieves the full record of a processed submission
func (db *DB) GetSubmission(jobID string) (*models.SubmissionRecord, error) {
	var document string
	err := db.QueryRow("SELECT document FROM submissions WHERE job_id = ?", jobID).Scan(&document)
	if err != nil {
		return nil, err
	}
	var record models.SubmissionRecord
	if err := json.Unmarshal([]byte(document), &record); err != nil {
		return nil, errors.Wrapf(err, "error decoding submission %s", jobID)
	}
	return &record, nil
}

// ListSubmissions retrieves the most recent submissions, optionally filtered
// by final state
func (db *DB) ListSubmissions(state string, limit int) ([]models.HistoryEntry, error) {
	query := `SELECT job_id, name, state, submit_time, finished_at, files
	          FROM submissions WHERE 1=1`
	args := []interface{}{}

	if state != "" {
		query += " AND state = ?"
		args = append(args, state)
	}

	query += " ORDER BY submit_time DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "error querying submissions")
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		var e models.HistoryEntry
		var files string
		if err := rows.Scan(&e.JobID, &e.Name, &e.State, &e.SubmitTime, &e.FinishedAt, &files); err != nil {
			return nil, errors.Wrap(err, "error scanning submission")
		}
		if err := json.Unmarshal([]byte(files), &e.Artifacts); err != nil {
			return nil, errors.Wrapf(err, "error decoding artifacts of %s", e.JobID)
		}
		entries = append(entries, e)
	}
	return entries, errors.Wrap(rows.Err(), "error reading submissions")
}

// GetMetrics retrieves submission counters
func (db *DB) GetMetrics() (*models.Metrics, error) {
	var metrics models.Metrics

	err := db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(artifact_count), 0)
		FROM submissions
	`, models.StateCompleted, models.StateNoUmod, models.StateFailed).Scan(
		&metrics.TotalSubmissions, &metrics.Completed, &metrics.NoUmod,
		&metrics.Failed, &metrics.Artifacts)
	if err != nil {
		return nil, errors.Wrap(err, "error querying metrics")
	}
	return &metrics, nil
}
