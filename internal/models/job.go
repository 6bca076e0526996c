package models

import (
	"fmt"
	"time"
)

// ArchivedJob is the persistent record of a terminal acquisition job.
//
// Live jobs are owned entirely by the orchestrator in memory; once a job reaches a
// terminal state it is archived here so the CLI can report history across runs.
type ArchivedJob struct {
	id         string
	sequence   int
	backendID  string
	trackRef   string
	state      string
	reason     string
	attempts   int
	lastError  string
	createdAt  time.Time
	updatedAt  time.Time
	finishedAt time.Time
	deletedAt  *time.Time
}

// NewArchivedJob creates an ArchivedJob record for a terminal job.
func NewArchivedJob(sequence int, backendID, trackRef, state, reason string, attempts int) *ArchivedJob {
	now := time.Now()
	return &ArchivedJob{
		sequence:  sequence,
		backendID: backendID,
		trackRef:  trackRef,
		state:     state,
		reason:    reason,
		attempts:  attempts,
		createdAt: now,
		updatedAt: now,
	}
}

func (j *ArchivedJob) ID() string            { return j.id }
func (j *ArchivedJob) Sequence() int         { return j.sequence }
func (j *ArchivedJob) BackendID() string     { return j.backendID }
func (j *ArchivedJob) TrackRef() string      { return j.trackRef }
func (j *ArchivedJob) State() string         { return j.state }
func (j *ArchivedJob) Reason() string        { return j.reason }
func (j *ArchivedJob) Attempts() int         { return j.attempts }
func (j *ArchivedJob) LastError() string     { return j.lastError }
func (j *ArchivedJob) CreatedAt() time.Time  { return j.createdAt }
func (j *ArchivedJob) UpdatedAt() time.Time  { return j.updatedAt }
func (j *ArchivedJob) FinishedAt() time.Time { return j.finishedAt }
func (j *ArchivedJob) DeletedAt() *time.Time { return j.deletedAt }

func (j *ArchivedJob) SetID(id string)           { j.id = id }
func (j *ArchivedJob) SetSequence(seq int)       { j.sequence = seq }
func (j *ArchivedJob) SetLastError(msg string)   { j.lastError = msg }
func (j *ArchivedJob) SetCreatedAt(t time.Time)  { j.createdAt = t }
func (j *ArchivedJob) SetUpdatedAt(t time.Time)  { j.updatedAt = t }
func (j *ArchivedJob) SetFinishedAt(t time.Time) { j.finishedAt = t }
func (j *ArchivedJob) SetDeletedAt(t *time.Time) { j.deletedAt = t }

// Validate checks that the archive record identifies a job and its outcome.
func (j *ArchivedJob) Validate() error {
	if j.backendID == "" || j.trackRef == "" {
		return fmt.Errorf("archived job is missing backend id or track ref")
	}
	if j.state == "" {
		return fmt.Errorf("archived job is missing a terminal state")
	}
	return nil
}
