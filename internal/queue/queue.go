package queue

import (
	"context"
	"sync"
	"time"
	"umod-repack/internal/models"
)

// DefaultCapacity is the number of submissions held before new ones are
// rejected
const DefaultCapacity = 5

// Queue is a bounded FIFO of submissions awaiting the worker. Adding never
// blocks: a full queue rejects the submission.
type Queue struct {
	mu       sync.Mutex
	items    []*models.Submission
	capacity int
	ready    chan struct{}
}

// New creates a queue holding at most capacity submissions
func New(capacity int) *Queue {
	return &Queue{
		items:    make([]*models.Submission, 0, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// Add offers a submission. It returns false immediately when the queue is
// full.
func (q *Queue) Add(sub *models.Submission) bool {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, sub)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Next removes and returns the oldest submission, waiting up to wait for one
// to arrive. It returns nil when the wait expires or ctx is done.
func (q *Queue) Next(ctx context.Context, wait time.Duration) *models.Submission {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		if sub := q.pop(); sub != nil {
			return sub
		}
		select {
		case <-q.ready:
		case <-timer.C:
			return q.pop()
		case <-ctx.Done():
			return nil
		}
	}
}

func (q *Queue) pop() *models.Submission {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	sub := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return sub
}

// Pending returns a point-in-time copy of the queued submissions, oldest
// first
func (q *Queue) Pending() []*models.Submission {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*models.Submission(nil), q.items...)
}

// Len returns the number of queued submissions
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
