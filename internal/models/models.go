package models

import (
	"fmt"

	"github.com/pkg/errors"
)

// LogType classifies a log entry
type LogType string

// Log type constants
const (
	LogInfo  LogType = "INFO"
	LogWarn  LogType = "WARN"
	LogError LogType = "ERROR"
	LogGood  LogType = "GOOD"
)

// JobState is the processing state of a job
type JobState string

// State constants
const (
	StateCreated   JobState = "CREATED"
	StateBusy      JobState = "BUSY"
	StateNoUmod    JobState = "NO_UMOD"
	StateFailed    JobState = "FAILED"
	StateCompleted JobState = "COMPLETED"
)

// ErrInvalidTransition is returned when a state change is not allowed by the
// job state graph
var ErrInvalidTransition = errors.New("invalid job state transition")

// Done reports whether the state is terminal
func (s JobState) Done() bool {
	switch s {
	case StateNoUmod, StateFailed, StateCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether a job in state s may move to next. Staying
// in the same state is always allowed.
func (s JobState) CanTransitionTo(next JobState) bool {
	if s == next {
		return true
	}
	switch s {
	case StateCreated:
		return next == StateBusy || next == StateFailed
	case StateBusy:
		return next.Done()
	}
	return false
}

// LogEntry is a single immutable line in a job's log
type LogEntry struct {
	Time    int64   `json:"time"` // ms since epoch
	Message string  `json:"message"`
	Error   string  `json:"error,omitempty"`
	Type    LogType `json:"type"`
}

func (e LogEntry) String() string {
	return fmt.Sprintf("[%d] %s %s", e.Time, e.Type, e.Message)
}

// Metrics holds submission history counters
type Metrics struct {
	TotalSubmissions int64 `json:"total_submissions"`
	Completed        int64 `json:"completed"`
	NoUmod           int64 `json:"no_umod"`
	Failed           int64 `json:"failed"`
	Artifacts        int64 `json:"artifacts"`
}
