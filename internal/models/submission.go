package models

import "time"

// Submission is a pending unit of work: the input files for one job. The
// processor owns the files once the submission is accepted and deletes them
// after processing.
type Submission struct {
	Job        *Job
	SubmitTime int64 // ms since epoch
	Name       string
	Files      []string
}

// SubmissionRecord is the persisted form of a processed submission
type SubmissionRecord struct {
	Job        Snapshot `json:"job"`
	SubmitTime int64    `json:"submitTime"`
	Name       string   `json:"name"`
	Files      []string `json:"files"`
}

// PendingSubmission describes a queued submission that has not been picked up
type PendingSubmission struct {
	JobID      string `json:"jobId"`
	SubmitTime int64  `json:"submitTime"`
	Name       string `json:"name"`
	FileCount  int    `json:"fileCount"`
}

// Record returns the persisted form of the submission, including the job's
// complete log
func (s *Submission) Record() SubmissionRecord {
	return SubmissionRecord{
		Job:        s.Job.Snapshot(),
		SubmitTime: s.SubmitTime,
		Name:       s.Name,
		Files:      append([]string(nil), s.Files...),
	}
}

// Pending returns the observability view of a queued submission
func (s *Submission) Pending() PendingSubmission {
	return PendingSubmission{
		JobID:      s.Job.ID(),
		SubmitTime: s.SubmitTime,
		Name:       s.Name,
		FileCount:  len(s.Files),
	}
}

// HistoryEntry summarises a processed submission in the history database
type HistoryEntry struct {
	JobID      string    `json:"job_id"`
	Name       string    `json:"name"`
	State      JobState  `json:"state"`
	SubmitTime int64     `json:"submit_time"`
	FinishedAt time.Time `json:"finished_at"`
	Artifacts  []string  `json:"artifacts"`
}
