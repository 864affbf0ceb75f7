package reaper

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"
	"umod-repack/internal/store"
)

// Sweep timing. Ages are measured from each job's most recent log entry.
const (
	SweepPeriod = 120 * time.Second
	ArtifactAge = 12 * time.Hour
	JobAge      = 36 * time.Hour
)

// Reaper periodically deletes aged repacked files and forgets aged jobs
type Reaper struct {
	jobs   *store.JobStore
	period time.Duration
	now    func() time.Time
}

// New creates a Reaper sweeping jobs
func New(jobs *store.JobStore) *Reaper {
	return &Reaper{
		jobs:   jobs,
		period: SweepPeriod,
		now:    time.Now,
	}
}

// Start sweeps on a fixed period until ctx is done
func (r *Reaper) Start(ctx context.Context) {
	log.Printf("[REAPER] Started, sweeping every %s", r.period)

	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[REAPER] Shutting down")
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep runs one reaping pass over every tracked job
func (r *Reaper) Sweep() {
	now := r.now()
	for _, job := range r.jobs.List() {
		age := now.Sub(job.LastActivity())

		if age > ArtifactAge {
			for name, path := range job.TakeArtifacts() {
				// the mapping entry is dropped even when the delete fails
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					log.Printf("[REAPER] JobID=%s Failed to delete old file %s: %v", job.ID(), path, err)
					continue
				}
				// output directories hold a single zip; drop them once empty
				os.Remove(filepath.Dir(path))
				log.Printf("[REAPER] JobID=%s Deleted %s", job.ID(), name)
			}
		}

		if age > JobAge && r.jobs.Remove(job.ID()) {
			log.Printf("[REAPER] JobID=%s Removed after %s idle", job.ID(), age.Truncate(time.Second))
		}
	}
}
