package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/trax/internal/engine"
	"github.com/desertthunder/trax/internal/shared"
	"github.com/urfave/cli/v3"
)

// Fetch submits one acquisition job and blocks until it reaches a terminal state.
//
// SIGINT requests cooperative cancellation: the job stops at its next suspension
// point and the partial output file is removed.
func (r *Runner) Fetch(ctx context.Context, cmd *cli.Command) error {
	r.loadConfig(cmd)

	backendID := cmd.StringArg("backend")
	trackRef := cmd.StringArg("track")
	if backendID == "" || trackRef == "" {
		return fmt.Errorf("%w: backend and track arguments required", shared.ErrInvalidConfig)
	}

	outputPath := cmd.String("output")
	sink, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	progress := make(chan engine.ProgressUpdate, 64)
	orchestrator, _, err := r.buildEngine(db, progress)
	if err != nil {
		return err
	}

	jobID, err := orchestrator.Submit(backendID, trackRef, sink)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	go func() {
		<-sigs
		r.logger.Warn("cancellation requested", "job_id", jobID)
		orchestrator.Cancel(jobID)
	}()

	if !cmd.Bool("quiet") {
		go func() {
			for update := range progress {
				r.logger.Debug("progress", "state", update.State, "attempt", update.Attempt, "bytes", update.BytesWritten, "msg", update.Message)
			}
		}()
	}

	status, err := orchestrator.Wait(ctx, jobID)
	if err != nil {
		return err
	}

	switch status.State {
	case engine.JobCompleted:
		r.logger.Info("track acquired", "job_id", jobID, "bytes", status.BytesWritten, "path", outputPath)
		return nil
	default:
		os.Remove(outputPath)
		return fmt.Errorf("job %s failed (%s): %s", jobID, status.Reason, status.LastError)
	}
}

// Meta fetches catalog metadata for a track through a valid credential and a
// governor admission, so metadata calls charge the same budget as fetches.
func (r *Runner) Meta(ctx context.Context, cmd *cli.Command) error {
	r.loadConfig(cmd)

	backendID := cmd.StringArg("backend")
	trackRef := cmd.StringArg("track")
	if backendID == "" || trackRef == "" {
		return fmt.Errorf("%w: backend and track arguments required", shared.ErrInvalidConfig)
	}

	adapters, err := r.buildAdapters()
	if err != nil {
		return err
	}
	adapter, ok := adapters[backendID]
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrUnknownBackend, backendID)
	}

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	_, store, err := r.buildEngine(db, nil)
	if err != nil {
		return err
	}

	cred, err := store.EnsureValid(ctx, backendID)
	if err != nil {
		return err
	}

	// buildEngine configured the shared governor; metadata charges the same
	// per-backend budget as fetches.
	if err := r.governor.Admit(ctx, backendID); err != nil {
		return err
	}

	meta, err := adapter.FetchMetadata(ctx, cred, trackRef)
	if err != nil {
		return err
	}

	return r.writeJSON(meta, cmd.Bool("pretty"))
}
