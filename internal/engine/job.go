package engine

import (
	"context"
	"io"
	"sync"
	"time"
)

// JobState is the orchestrator-side state of an acquisition job.
type JobState int

const (
	JobQueued JobState = iota
	JobAuthorizing
	JobAdmitted
	JobFetching
	JobDecrypting
	JobPollingTransfer
	JobCompleted
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobQueued:
		return "queued"
	case JobAuthorizing:
		return "authorizing"
	case JobAdmitted:
		return "admitted"
	case JobFetching:
		return "fetching"
	case JobDecrypting:
		return "decrypting"
	case JobPollingTransfer:
		return "polling_transfer"
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the job has been reported and will not change again.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// FailureReason is the caller-visible classification of a terminal failure.
// Nothing below the orchestrator is exposed to callers directly.
type FailureReason string

const (
	ReasonNone      FailureReason = ""
	ReasonAuth      FailureReason = "auth"
	ReasonTransport FailureReason = "transport"
	ReasonTimeout   FailureReason = "timeout"
	ReasonNotFound  FailureReason = "not_found"
	ReasonSequence  FailureReason = "sequence"
	ReasonCancelled FailureReason = "cancelled"
	ReasonInternal  FailureReason = "internal"
)

// JobStatus is a non-blocking snapshot of a job, safe to read concurrently with
// job progress.
type JobStatus struct {
	JobID        string
	BackendID    string
	TrackRef     string
	State        JobState
	Reason       FailureReason
	Attempt      int
	BytesWritten int64
	LastError    string
	CreatedAt    time.Time
	FinishedAt   time.Time
}

// ProgressUpdate is emitted at job transitions and chunk boundaries. Delivery is
// best effort: updates are dropped rather than ever blocking job execution.
type ProgressUpdate struct {
	JobID        string
	BackendID    string
	TrackRef     string
	State        JobState
	Attempt      int
	BytesWritten int64
	Message      string
}

// acquisitionJob is the orchestrator's in-memory record of one request. The job
// goroutine is the sole owner of state and attempt mutation; everything else
// reads through snapshots under the job mutex.
type acquisitionJob struct {
	id        string
	backendID string
	trackRef  string
	sink      io.WriteCloser
	createdAt time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.Mutex
	state        JobState
	reason       FailureReason
	attempt      int
	bytesWritten int64
	lastErr      error
	finishedAt   time.Time
}

func (j *acquisitionJob) setState(state JobState) {
	j.mu.Lock()
	j.state = state
	j.mu.Unlock()
}

func (j *acquisitionJob) setAttempt(attempt int) {
	j.mu.Lock()
	j.attempt = attempt
	j.mu.Unlock()
}

func (j *acquisitionJob) addBytes(n int64) {
	j.mu.Lock()
	j.bytesWritten += n
	j.mu.Unlock()
}

// resetBytes zeroes the byte counter at the start of an attempt, since a
// retried attempt restages the whole stream.
func (j *acquisitionJob) resetBytes() {
	j.mu.Lock()
	j.bytesWritten = 0
	j.mu.Unlock()
}

func (j *acquisitionJob) finish(state JobState, reason FailureReason, err error) {
	j.mu.Lock()
	j.state = state
	j.reason = reason
	j.lastErr = err
	j.finishedAt = time.Now()
	j.mu.Unlock()
}

func (j *acquisitionJob) terminal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state.Terminal()
}

func (j *acquisitionJob) snapshot() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	status := JobStatus{
		JobID:        j.id,
		BackendID:    j.backendID,
		TrackRef:     j.trackRef,
		State:        j.state,
		Reason:       j.reason,
		Attempt:      j.attempt,
		BytesWritten: j.bytesWritten,
		CreatedAt:    j.createdAt,
		FinishedAt:   j.finishedAt,
	}
	if j.lastErr != nil {
		status.LastError = j.lastErr.Error()
	}
	return status
}
