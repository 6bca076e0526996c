package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/trax/internal/backends"
	"github.com/desertthunder/trax/internal/models"
	"github.com/desertthunder/trax/internal/shared"
)

// JobArchive is the persistence collaborator for terminal jobs.
// Implemented by repositories.JobRepository.
type JobArchive interface {
	Create(job *models.ArchivedJob) error
}

// OrchestratorOpts contains the injected dependencies and policy for an [Orchestrator].
type OrchestratorOpts struct {
	Engine      shared.EngineConfig
	Backends    map[string]shared.BackendConfig
	Adapters    map[string]backends.Adapter
	Credentials *CredentialStore
	Governor    *RateGovernor
	Archive     JobArchive            // optional
	Logger      *log.Logger           // optional
	Progress    chan<- ProgressUpdate // optional, never blocks job execution
}

// Orchestrator is the per-request state machine of the acquisition engine.
//
// Each submitted job runs in its own goroutine and sequences authentication,
// rate-limited fetch, decryption or polling, and persistence. The orchestrator
// owns the retry/backoff policy and exposes job status snapshots to callers.
//
// Jobs for different backends proceed fully in parallel; jobs on the same
// backend are serialized only at the rate governor's admission point.
type Orchestrator struct {
	engine   shared.EngineConfig
	backends map[string]shared.BackendConfig
	adapters map[string]backends.Adapter
	creds    *CredentialStore
	governor *RateGovernor
	archive  JobArchive
	logger   *log.Logger
	progress chan<- ProgressUpdate

	mu     sync.Mutex
	jobs   map[string]*acquisitionJob // by job id
	active map[string]*acquisitionJob // by backend/track key, non-terminal only
}

// NewOrchestrator creates an orchestrator, validating that each configured
// backend's adapter matches its declared delivery mode and configuring the rate
// governor from the backend budgets.
func NewOrchestrator(opts OrchestratorOpts) (*Orchestrator, error) {
	if opts.Credentials == nil {
		return nil, fmt.Errorf("%w: orchestrator requires a credential store", shared.ErrInvalidConfig)
	}
	if opts.Governor == nil {
		opts.Governor = NewRateGovernor()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	applyEngineDefaults(&opts.Engine)

	for id, cfg := range opts.Backends {
		adapter, ok := opts.Adapters[id]
		if !ok {
			return nil, fmt.Errorf("%w: no adapter for configured backend %s", shared.ErrInvalidConfig, id)
		}

		mode, err := backends.ParseDeliveryMode(cfg.Delivery)
		if err != nil {
			return nil, err
		}
		if adapter.Delivery() != mode {
			return nil, fmt.Errorf("%w: backend %s configured as %s but adapter delivers %s",
				shared.ErrInvalidConfig, id, mode, adapter.Delivery())
		}

		switch mode {
		case backends.DeliveryStream:
			if _, ok := adapter.(backends.StreamAdapter); !ok {
				return nil, fmt.Errorf("%w: backend %s adapter lacks stream capabilities", shared.ErrInvalidConfig, id)
			}
		case backends.DeliveryPeer:
			if _, ok := adapter.(backends.PeerAdapter); !ok {
				return nil, fmt.Errorf("%w: backend %s adapter lacks peer capabilities", shared.ErrInvalidConfig, id)
			}
		}

		opts.Governor.Configure(id, cfg.MinInterval(), cfg.Burst)
	}

	return &Orchestrator{
		engine:   opts.Engine,
		backends: opts.Backends,
		adapters: opts.Adapters,
		creds:    opts.Credentials,
		governor: opts.Governor,
		archive:  opts.Archive,
		logger:   opts.Logger,
		progress: opts.Progress,
		jobs:     make(map[string]*acquisitionJob),
		active:   make(map[string]*acquisitionJob),
	}, nil
}

func applyEngineDefaults(cfg *shared.EngineConfig) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ChunkRetries < 0 {
		cfg.ChunkRetries = 0
	}
	if cfg.BackoffBaseMS <= 0 {
		cfg.BackoffBaseMS = 500
	}
	if cfg.BackoffCapMS <= 0 {
		cfg.BackoffCapMS = 30_000
	}
	if cfg.JobTimeoutMS <= 0 {
		cfg.JobTimeoutMS = 600_000
	}
}

// Submit creates an acquisition job for a track and returns its id.
//
// At most one non-terminal job exists per (backend, track) pair: a duplicate
// submission while the first job is active returns the existing job's id and
// leaves the provided sink untouched, so rate budget is not double-charged and
// output is not double-written.
func (o *Orchestrator) Submit(backendID, trackRef string, sink io.WriteCloser) (string, error) {
	if _, ok := o.adapters[backendID]; !ok {
		return "", fmt.Errorf("%w: %s", shared.ErrUnknownBackend, backendID)
	}

	key := jobKey(backendID, trackRef)

	o.mu.Lock()
	if existing, ok := o.active[key]; ok {
		o.mu.Unlock()
		return existing.id, nil
	}

	job := &acquisitionJob{
		id:        shared.GenerateID(),
		backendID: backendID,
		trackRef:  trackRef,
		sink:      sink,
		createdAt: time.Now(),
		state:     JobQueued,
		done:      make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.engine.JobTimeout())
	job.cancel = cancel

	o.jobs[job.id] = job
	o.active[key] = job
	o.mu.Unlock()

	o.logger.Info("job submitted", "job_id", job.id, "backend", backendID, "track", trackRef)

	go o.run(ctx, job)

	return job.id, nil
}

// Status returns a non-blocking snapshot of a job.
func (o *Orchestrator) Status(jobID string) (JobStatus, error) {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	o.mu.Unlock()

	if !ok {
		return JobStatus{}, fmt.Errorf("%w: %s", shared.ErrJobNotFound, jobID)
	}
	return job.snapshot(), nil
}

// Jobs returns snapshots of all jobs known to this orchestrator instance.
func (o *Orchestrator) Jobs() []JobStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	statuses := make([]JobStatus, 0, len(o.jobs))
	for _, job := range o.jobs {
		statuses = append(statuses, job.snapshot())
	}
	return statuses
}

// Cancel requests cancellation of a job. Cancellation is cooperative: it takes
// effect at the next suspension point (admission wait, chunk boundary, or poll
// interval); in-flight network calls finish but their results are discarded.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	o.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrJobNotFound, jobID)
	}
	if job.terminal() {
		return nil
	}

	job.cancel()
	return nil
}

// Wait blocks until the job reaches a terminal state or the caller's context ends.
func (o *Orchestrator) Wait(ctx context.Context, jobID string) (JobStatus, error) {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	o.mu.Unlock()

	if !ok {
		return JobStatus{}, fmt.Errorf("%w: %s", shared.ErrJobNotFound, jobID)
	}

	select {
	case <-job.done:
		return job.snapshot(), nil
	case <-ctx.Done():
		return job.snapshot(), ctx.Err()
	}
}

// run drives one job through all attempts to a terminal state.
func (o *Orchestrator) run(ctx context.Context, job *acquisitionJob) {
	logger := o.logger.With("job_id", job.id, "backend", job.backendID)

	defer func() {
		o.mu.Lock()
		key := jobKey(job.backendID, job.trackRef)
		if o.active[key] == job {
			delete(o.active, key)
		}
		o.mu.Unlock()

		if job.sink != nil {
			if err := job.sink.Close(); err != nil {
				logger.Warn("failed to close output sink", "err", err)
			}
		}

		o.archiveJob(job, logger)
		close(job.done)
		job.cancel()
	}()

	var err error
	for attempt := 1; attempt <= o.engine.MaxAttempts; attempt++ {
		job.setAttempt(attempt)

		err = o.runAttempt(ctx, job)
		if err == nil {
			job.finish(JobCompleted, ReasonNone, nil)
			o.sendProgress(job, "completed")
			logger.Info("job completed", "attempts", attempt, "bytes", job.snapshot().BytesWritten)
			return
		}

		reason, retryable := o.classify(ctx, err)
		if !retryable {
			job.finish(JobFailed, reason, err)
			o.sendProgress(job, string(reason))
			logger.Error("job failed", "reason", reason, "err", err)
			return
		}

		if attempt == o.engine.MaxAttempts {
			break
		}

		delay := o.backoff(attempt)
		logger.Warn("attempt failed, retrying", "attempt", attempt, "delay", delay, "err", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			reason, _ := o.classify(ctx, ctx.Err())
			job.finish(JobFailed, reason, err)
			o.sendProgress(job, string(reason))
			logger.Error("job failed during backoff", "reason", reason, "err", err)
			return
		}
	}

	reason, _ := o.classify(ctx, err)
	job.finish(JobFailed, reason, err)
	o.sendProgress(job, string(reason))
	logger.Error("job failed after all attempts", "attempts", o.engine.MaxAttempts, "reason", reason, "err", err)
}

// runAttempt performs one full pass from Authorizing to delivery. Each retry
// restarts here so credentials are re-validated and key material re-derived.
//
// Delivery output is staged per pass and flushed to the sink only on success,
// so a failed attempt never leaves partial bytes behind for the retry to
// duplicate.
//
// An authorization denial during fetch invalidates the credential and restarts
// from Authorizing exactly once; a second denial is terminal.
func (o *Orchestrator) runAttempt(ctx context.Context, job *acquisitionJob) error {
	authDenials := 0

	for {
		job.setState(JobAuthorizing)
		o.sendProgress(job, "authorizing")

		cred, err := o.creds.EnsureValid(ctx, job.backendID)
		if err != nil {
			return err
		}

		// Admission may suspend arbitrarily long; it never counts against
		// retry attempts.
		if err := o.governor.Admit(ctx, job.backendID); err != nil {
			return err
		}
		job.setState(JobAdmitted)

		job.setState(JobFetching)
		o.sendProgress(job, "fetching")

		staging := &bytes.Buffer{}
		job.resetBytes()

		adapter := o.adapters[job.backendID]
		switch adapter.Delivery() {
		case backends.DeliveryStream:
			err = o.runStream(ctx, job, adapter.(backends.StreamAdapter), cred, staging)
		case backends.DeliveryPeer:
			err = o.runPeer(ctx, job, adapter.(backends.PeerAdapter), cred, staging)
		default:
			return fmt.Errorf("%w: backend %s has no delivery mode", shared.ErrInvalidConfig, job.backendID)
		}

		if errors.Is(err, shared.ErrAuthDenied) {
			authDenials++
			if authDenials > 1 {
				return fmt.Errorf("%w: re-authentication also denied", shared.ErrAuthDenied)
			}
			if invErr := o.creds.Invalidate(job.backendID); invErr != nil {
				return fmt.Errorf("%w: %v", shared.ErrAuthDenied, invErr)
			}
			continue
		}
		if err != nil {
			return err
		}

		if _, err := staging.WriteTo(job.sink); err != nil {
			return fmt.Errorf("failed to write to output sink: %w", err)
		}
		return nil
	}
}

// runStream fetches and decrypts an encrypted chunk stream into the attempt's
// staging writer.
func (o *Orchestrator) runStream(ctx context.Context, job *acquisitionJob, adapter backends.StreamAdapter, cred *models.Credential, out io.Writer) error {
	info, err := adapter.StreamInfo(ctx, cred, job.trackRef)
	if err != nil {
		return err
	}

	cfg := o.backends[job.backendID]
	chunkSize := info.ChunkSize
	if chunkSize <= 0 {
		chunkSize = cfg.ChunkSize
	}

	sc, err := BeginStream(job.trackRef, info.KeyMaterial, chunkSize, cfg.StrictOrder)
	if err != nil {
		return err
	}

	job.setState(JobDecrypting)
	o.sendProgress(job, "decrypting")

	for index := 0; index < info.ChunkCount; index++ {
		// Chunk boundary is a cancellation point.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		chunk, err := o.fetchChunk(ctx, job, adapter, cred, index)
		if err != nil {
			return err
		}

		plaintext, err := sc.Decrypt(index, chunk)
		if err != nil {
			return err
		}

		n, err := out.Write(plaintext)
		if err != nil {
			return fmt.Errorf("failed to stage decrypted chunk: %w", err)
		}
		job.addBytes(int64(n))
		o.sendProgress(job, "chunk written")
	}

	return nil
}

// fetchChunk retrieves one chunk, retrying chunk-level transient failures up to
// the configured per-chunk budget before failing the whole attempt.
func (o *Orchestrator) fetchChunk(ctx context.Context, job *acquisitionJob, adapter backends.StreamAdapter, cred *models.Credential, index int) ([]byte, error) {
	var lastErr error

	for try := 0; try <= o.engine.ChunkRetries; try++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chunk, err := adapter.FetchChunk(ctx, cred, job.trackRef, index)
		if err == nil {
			return chunk, nil
		}

		lastErr = err
		if !isTransient(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: chunk %d failed after %d retries: %v", shared.ErrTransport, index, o.engine.ChunkRetries, lastErr)
}

// runPeer drives an asynchronous peer transfer to completion and streams the
// result into the attempt's staging writer.
func (o *Orchestrator) runPeer(ctx context.Context, job *acquisitionJob, adapter backends.PeerAdapter, cred *models.Credential, out io.Writer) error {
	poller := NewTransferPoller(adapter, o.logger)

	handle, err := poller.Initiate(ctx, cred, job.id, job.trackRef)
	if err != nil {
		return err
	}

	job.setState(JobPollingTransfer)
	o.sendProgress(job, "polling transfer")

	cfg := o.backends[job.backendID]
	interval := cfg.PollInterval()
	if interval <= 0 {
		interval = time.Second
	}

	stalls := 0
	for {
		// Poll interval sleep is a cancellation point.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		handle, err = poller.Poll(ctx, cred, handle)
		if err != nil {
			return err
		}

		switch handle.State {
		case TransferCompleted:
			return o.retrieve(ctx, job, adapter, cred, handle, out)
		case TransferNotFound:
			return fmt.Errorf("%w: remote transfer handle gone after %d polls", shared.ErrNotFound, handle.PollCount)
		case TransferFailed:
			return fmt.Errorf("%w: remote transfer failed: %s", shared.ErrTransport, handle.Message)
		case TransferTransferring:
			stalls = 0
			o.sendProgress(job, "transferring")
		default:
			stalls++
			if cfg.PollBudget > 0 && stalls >= cfg.PollBudget {
				return fmt.Errorf("%w: transfer still queued after %d polls", shared.ErrTimeout, handle.PollCount)
			}
		}
	}
}

// retrieve copies a completed transfer's bytes into the attempt's staging writer.
func (o *Orchestrator) retrieve(ctx context.Context, job *acquisitionJob, adapter backends.PeerAdapter, cred *models.Credential, handle *TransferHandle, out io.Writer) error {
	body, err := adapter.Retrieve(ctx, cred, handle.PeerRef, handle.RemoteFileRef)
	if err != nil {
		return err
	}
	defer body.Close()

	n, err := io.Copy(out, body)
	job.addBytes(n)
	if err != nil {
		return fmt.Errorf("%w: failed to stream transfer result: %v", shared.ErrTransport, err)
	}

	return nil
}

// classify translates component-local errors into the job-level failure taxonomy
// and decides retryability. User-visible failure is always a terminal job state
// plus one of these reasons, never a raw transport error.
func (o *Orchestrator) classify(ctx context.Context, err error) (FailureReason, bool) {
	switch {
	case errors.Is(err, shared.ErrCancelled) || errors.Is(ctx.Err(), context.Canceled):
		return ReasonCancelled, false
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		// The job-level wall-clock ceiling covers all attempts; once it fires
		// there is nothing left to retry with.
		return ReasonTimeout, false
	case errors.Is(err, shared.ErrOutOfSequenceChunk) || errors.Is(err, shared.ErrMisalignedChunk):
		return ReasonSequence, false
	case errors.Is(err, shared.ErrNotFound):
		return ReasonNotFound, false
	case errors.Is(err, shared.ErrAuthDenied) || errors.Is(err, shared.ErrAuthExpired) ||
		errors.Is(err, shared.ErrMissingCredentials) || errors.Is(err, shared.ErrInvalidCredentials) ||
		errors.Is(err, shared.ErrNoRefreshToken) || errors.Is(err, shared.ErrRefreshFailed):
		return ReasonAuth, false
	case errors.Is(err, shared.ErrTimeout):
		return ReasonTimeout, true
	case errors.Is(err, shared.ErrAdmissionCancelled):
		return ReasonCancelled, false
	case errors.Is(err, shared.ErrRateLimited) || errors.Is(err, shared.ErrTransport):
		return ReasonTransport, true
	case err == nil:
		return ReasonNone, false
	default:
		return ReasonInternal, false
	}
}

// backoff returns the delay before the next attempt: exponential from the
// configured base, capped.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	delay := o.engine.BackoffBase() << (attempt - 1)
	if ceiling := o.engine.BackoffCap(); delay > ceiling {
		delay = ceiling
	}
	return delay
}

func (o *Orchestrator) archiveJob(job *acquisitionJob, logger *log.Logger) {
	if o.archive == nil {
		return
	}

	status := job.snapshot()
	record := models.NewArchivedJob(0, status.BackendID, status.TrackRef, status.State.String(), string(status.Reason), status.Attempt)
	record.SetID(status.JobID)
	record.SetLastError(status.LastError)
	record.SetCreatedAt(status.CreatedAt)
	record.SetFinishedAt(status.FinishedAt)

	if err := o.archive.Create(record); err != nil {
		logger.Warn("failed to archive terminal job", "err", err)
	}
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func (o *Orchestrator) sendProgress(job *acquisitionJob, message string) {
	if o.progress == nil {
		return
	}

	status := job.snapshot()
	update := ProgressUpdate{
		JobID:        status.JobID,
		BackendID:    status.BackendID,
		TrackRef:     status.TrackRef,
		State:        status.State,
		Attempt:      status.Attempt,
		BytesWritten: status.BytesWritten,
		Message:      message,
	}

	select {
	case o.progress <- update:
		// Sent successfully
	default:
		// Channel full or closed, skip this update
	}
}

// isTransient reports whether an error is worth retrying at the chunk level.
func isTransient(err error) bool {
	return errors.Is(err, shared.ErrTransport) || errors.Is(err, shared.ErrRateLimited)
}

func jobKey(backendID, trackRef string) string {
	return backendID + "\x00" + trackRef
}
