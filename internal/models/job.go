package models

import (
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// LiveEventCapacity bounds the number of undelivered live log notifications
// held per job. Notifications beyond it are dropped; the log itself keeps
// every entry.
const LiveEventCapacity = 20

// Job is the mutable record of one tracked unit of work. All access goes
// through its methods, which serialise on the job's own mutex, so the worker
// and the reaper can never mutate a job at the same time.
type Job struct {
	mu        sync.Mutex
	id        string
	created   time.Time
	log       []LogEntry
	state     JobState
	done      bool
	files     map[string]struct{}
	artifacts map[string]string
	events    chan LogEntry
}

// Snapshot is an immutable view of a job, used for persistence and for poll
// responses
type Snapshot struct {
	ID    string     `json:"id"`
	Log   []LogEntry `json:"log"`
	State JobState   `json:"state"`
	Done  bool       `json:"done"`
	Files []string   `json:"files"`
}

// NewJob creates a job with a random version 4 UUID, in state CREATED and with
// an empty log
func NewJob() *Job {
	return newJob(uuid.NewString(), nil, StateCreated, nil)
}

// RestoreJob rebuilds a job from a snapshot. Repacked artifact paths and live
// notifications are not part of a snapshot and start out empty.
func RestoreJob(s Snapshot) *Job {
	return newJob(s.ID, s.Log, s.State, s.Files)
}

func newJob(id string, entries []LogEntry, state JobState, files []string) *Job {
	j := &Job{
		id:        id,
		created:   time.Now(),
		log:       append([]LogEntry(nil), entries...),
		state:     state,
		files:     make(map[string]struct{}, len(files)),
		artifacts: make(map[string]string),
		events:    make(chan LogEntry, LiveEventCapacity),
	}
	for _, f := range files {
		j.files[f] = struct{}{}
	}
	return j
}

// NewEntry creates a log entry stamped with the current time
func NewEntry(t LogType, message string) LogEntry {
	return LogEntry{
		Time:    time.Now().UnixMilli(),
		Message: message,
		Type:    t,
	}
}

// NewErrorEntry creates an ERROR log entry carrying err's message
func NewErrorEntry(message string, err error) LogEntry {
	e := NewEntry(LogError, message)
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// ID returns the job's identifier
func (j *Job) ID() string {
	return j.id
}

// State returns the job's current state
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Log appends an entry without changing the job's state
func (j *Job) Log(entry LogEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.appendLocked(j.state, entry)
}

// Transition moves the job to state and appends entry. If the move is not
// allowed nothing is appended and ErrInvalidTransition is returned.
func (j *Job) Transition(state JobState, entry LogEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.CanTransitionTo(state) {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", j.state, state)
	}
	j.appendLocked(state, entry)
	return nil
}

func (j *Job) appendLocked(state JobState, entry LogEntry) {
	j.log = append(j.log, entry)
	j.state = state
	select {
	case j.events <- entry:
	default:
		// live channel full; the entry is still in the log
	}
	log.Printf("[JOB] %s %s: %s", j.id, state, entry)
}

// AddArtifact registers a repacked file and returns the name it is known by.
// The name is the file's base name, suffixed with -2, -3, ... before the
// extension when the job already holds a file of that name.
func (j *Job) AddArtifact(path string) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	name := j.uniqueNameLocked(filepath.Base(path))
	j.artifacts[name] = path
	j.files[name] = struct{}{}
	return name
}

func (j *Job) uniqueNameLocked(base string) string {
	if _, taken := j.files[base]; !taken {
		return base
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for n := 2; ; n++ {
		name := fmt.Sprintf("%s-%d%s", stem, n, ext)
		if _, taken := j.files[name]; !taken {
			return name
		}
	}
}

// Artifact returns the on-disk path of a repacked file, if it is still held
func (j *Job) Artifact(name string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	p, ok := j.artifacts[name]
	return p, ok
}

// TakeArtifacts removes every repacked file from the job's mapping and returns
// them. The caller becomes responsible for deleting the files.
func (j *Job) TakeArtifacts() map[string]string {
	j.mu.Lock()
	defer j.mu.Unlock()
	taken := j.artifacts
	j.artifacts = make(map[string]string)
	return taken
}

// LastActivity returns the time of the most recent log entry, or the job's
// creation time when the log is empty
func (j *Job) LastActivity() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.log) == 0 {
		return j.created
	}
	return time.UnixMilli(j.log[len(j.log)-1].Time)
}

// Snapshot returns the complete current view of the job
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked(append([]LogEntry(nil), j.log...))
}

// PollLog returns the entries appended since the previous poll, waiting up to
// timeout for the first one. The returned snapshot's Done flag becomes true on
// the first poll that observes a terminal state and stays true.
func (j *Job) PollLog(timeout time.Duration) Snapshot {
	polled := []LogEntry{}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case e := <-j.events:
		polled = append(polled, e)
	case <-timer.C:
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	// Entries are sent while the lock is held, so everything appended so far
	// is already in the channel.
	for {
		select {
		case e := <-j.events:
			polled = append(polled, e)
			continue
		default:
		}
		break
	}
	if !j.done && j.state.Done() {
		j.done = true
	}
	return j.snapshotLocked(polled)
}

func (j *Job) snapshotLocked(entries []LogEntry) Snapshot {
	files := make([]string, 0, len(j.files))
	for f := range j.files {
		files = append(files, f)
	}
	sort.Strings(files)
	return Snapshot{
		ID:    j.id,
		Log:   entries,
		State: j.state,
		Done:  j.done,
		Files: files,
	}
}
