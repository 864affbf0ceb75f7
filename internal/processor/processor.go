// Package processor ties together the job registry, the admission queue, the
// single submission worker and the reaper.
package processor

import (
	"context"
	"log"
	"sync"
	"time"
	"umod-repack/internal/models"
	"umod-repack/internal/queue"
	"umod-repack/internal/reaper"
	"umod-repack/internal/store"
	"umod-repack/internal/worker"
)

// Processor accepts submissions and processes them in the background
type Processor struct {
	jobs   *store.JobStore
	queue  *queue.Queue
	worker *worker.Worker
	reaper *reaper.Reaper
	wg     sync.WaitGroup

	hookMu   sync.RWMutex
	onUpdate func()
}

// New creates a Processor running submissions through pipeline and saving
// each processed submission with persister
func New(pipeline worker.Processor, persister worker.Persister) *Processor {
	p := &Processor{
		jobs:  store.New(),
		queue: queue.New(queue.DefaultCapacity),
	}
	p.worker = worker.New(p.queue, pipeline, persister, p.notify)
	p.reaper = reaper.New(p.jobs)
	return p
}

// OnUpdate registers a callback invoked whenever a submission is picked up
// or finished
func (p *Processor) OnUpdate(fn func()) {
	p.hookMu.Lock()
	defer p.hookMu.Unlock()
	p.onUpdate = fn
}

func (p *Processor) notify() {
	p.hookMu.RLock()
	fn := p.onUpdate
	p.hookMu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Start launches the worker and the reaper. Both stop when ctx is done; Wait
// blocks until they have.
func (p *Processor) Start(ctx context.Context) {
	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.worker.Start(ctx)
	}()
	go func() {
		defer p.wg.Done()
		p.reaper.Start(ctx)
	}()
	log.Printf("[INIT] Submission processor started")
}

// Wait blocks until the worker and reaper have stopped
func (p *Processor) Wait() {
	p.wg.Wait()
}

// CreateJob returns a new, untracked job
func (p *Processor) CreateJob() *models.Job {
	return models.NewJob()
}

// TrackJob registers a job. It returns false if the ID is already in use.
func (p *Processor) TrackJob(job *models.Job) bool {
	return p.jobs.Track(job)
}

// ForgetJob stops tracking a job, e.g. one whose submission was rejected
func (p *Processor) ForgetJob(id string) bool {
	return p.jobs.Remove(id)
}

// Add offers a submission for processing. It returns false when the queue is
// full; the caller keeps ownership of the files in that case.
func (p *Processor) Add(sub *models.Submission) bool {
	if !p.queue.Add(sub) {
		log.Printf("[QUEUE] JobID=%s Rejected, queue full", sub.Job.ID())
		return false
	}
	log.Printf("[QUEUE] JobID=%s Accepted, %d pending", sub.Job.ID(), p.queue.Len())
	p.notify()
	return true
}

// Job returns a tracked job
func (p *Processor) Job(id string) (*models.Job, bool) {
	return p.jobs.Get(id)
}

// Jobs returns snapshots of every tracked job
func (p *Processor) Jobs() []models.Snapshot {
	jobs := p.jobs.List()
	snapshots := make([]models.Snapshot, len(jobs))
	for i, j := range jobs {
		snapshots[i] = j.Snapshot()
	}
	return snapshots
}

// Pending describes the submissions queued but not yet picked up
func (p *Processor) Pending() []models.PendingSubmission {
	subs := p.queue.Pending()
	pending := make([]models.PendingSubmission, len(subs))
	for i, s := range subs {
		pending[i] = s.Pending()
	}
	return pending
}

// PollLog returns the log entries of a tracked job appended since the last
// poll, waiting up to timeout for one to arrive
func (p *Processor) PollLog(id string, timeout time.Duration) (models.Snapshot, bool) {
	job, ok := p.jobs.Get(id)
	if !ok {
		return models.Snapshot{}, false
	}
	return job.PollLog(timeout), true
}
