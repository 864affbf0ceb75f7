package worker

import (
	"context"
	"log"
	"os"
	"time"
	"umod-repack/internal/models"
	"umod-repack/internal/queue"

	"github.com/pkg/errors"
)

// PollWait bounds how long the worker waits for a submission before checking
// whether it has been stopped
const PollWait = 5 * time.Second

// Processor converts a submission's files and records the outcome on its job
type Processor interface {
	Process(job *models.Job, files []string) error
}

// ProcessorFunc adapts a function to Processor
type ProcessorFunc func(job *models.Job, files []string) error

// Process calls f
func (f ProcessorFunc) Process(job *models.Job, files []string) error {
	return f(job, files)
}

// Persister stores the record of a processed submission
type Persister interface {
	Save(record models.SubmissionRecord) error
}

// Worker processes queued submissions one at a time
type Worker struct {
	queue     *queue.Queue
	processor Processor
	persister Persister
	pollTime  time.Duration
	onUpdate  func() // Callback for broadcasting updates
}

// New creates a new worker
func New(q *queue.Queue, processor Processor, persister Persister, onUpdate func()) *Worker {
	return &Worker{
		queue:     q,
		processor: processor,
		persister: persister,
		pollTime:  PollWait,
		onUpdate:  onUpdate,
	}
}

// Start runs the worker loop until ctx is done. A submission already picked
// up is always finished before Start returns.
func (w *Worker) Start(ctx context.Context) {
	log.Printf("[WORKER] Started")

	for {
		select {
		case <-ctx.Done():
			log.Printf("[WORKER] Shutting down")
			return
		default:
		}

		if sub := w.queue.Next(ctx, w.pollTime); sub != nil {
			w.ProcessSubmission(sub)
		}
	}
}

// ProcessSubmission runs one submission through the processor. Failures,
// including panics, become a FAILED transition on the job; the record is
// persisted whatever the outcome.
func (w *Worker) ProcessSubmission(sub *models.Submission) {
	job := sub.Job
	log.Printf("[START] JobID=%s Name=%q Files=%d", job.ID(), sub.Name, len(sub.Files))

	defer func() {
		if r := recover(); r != nil {
			w.fail(job, errors.Errorf("panic: %v", r))
		}
		w.persist(sub)
		log.Printf("[FINISH] JobID=%s Status=%s", job.ID(), job.State())
		w.notify()
	}()

	if state := job.State(); state != models.StateCreated {
		job.Log(models.NewEntry(models.LogError, "Invalid processing state "+string(state)))
		removeFiles(job, sub.Files)
		return
	}
	if err := job.Transition(
		models.StateBusy,
		models.NewEntry(models.LogInfo, "Picked up for processing"),
	); err != nil {
		w.fail(job, err)
		removeFiles(job, sub.Files)
		return
	}
	w.notify()

	if err := w.processor.Process(job, sub.Files); err != nil {
		w.fail(job, err)
	}
}

func (w *Worker) fail(job *models.Job, err error) {
	log.Printf("[FAILED] JobID=%s Error=%v", job.ID(), err)
	entry := models.NewErrorEntry("Failed to process submission: "+err.Error(), err)
	if terr := job.Transition(models.StateFailed, entry); terr != nil {
		log.Printf("[ERROR] JobID=%s Failed to mark job failed: %v", job.ID(), terr)
	}
}

func (w *Worker) persist(sub *models.Submission) {
	if w.persister == nil {
		return
	}
	if err := w.persister.Save(sub.Record()); err != nil {
		log.Printf("[ERROR] JobID=%s Failed to persist submission: %v", sub.Job.ID(), err)
	}
}

func (w *Worker) notify() {
	if w.onUpdate != nil {
		w.onUpdate()
	}
}

func removeFiles(job *models.Job, files []string) {
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			log.Printf("[ERROR] JobID=%s Failed to delete file %s: %v", job.ID(), f, err)
		}
	}
}
