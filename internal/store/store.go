package store

import (
	"sort"
	"sync"
	"umod-repack/internal/models"
)

// JobStore is the concurrency-safe registry of tracked jobs
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

// New creates an empty JobStore
func New() *JobStore {
	return &JobStore{
		jobs: make(map[string]*models.Job),
	}
}

// Track registers a job. It returns false if a job with the same ID is
// already tracked.
func (s *JobStore) Track(job *models.Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID()]; exists {
		return false
	}
	s.jobs[job.ID()] = job
	return true
}

// Get returns a tracked job by ID
func (s *JobStore) Get(id string) (*models.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok
}

// List returns a point-in-time slice of all tracked jobs, ordered by ID
func (s *JobStore) List() []*models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID() < jobs[k].ID() })
	return jobs
}

// Remove stops tracking a job. It reports whether the job was tracked.
func (s *JobStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[id]; !exists {
		return false
	}
	delete(s.jobs, id)
	return true
}

// Count returns the number of tracked jobs
func (s *JobStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
