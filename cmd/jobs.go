package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/trax/internal/models"
	"github.com/desertthunder/trax/internal/repositories"
	"github.com/desertthunder/trax/internal/shared"
	"github.com/urfave/cli/v3"
)

// jobRow is the CLI's JSON shape for one archived job.
type jobRow struct {
	ID        string `json:"id"`
	Backend   string `json:"backend"`
	TrackRef  string `json:"track_ref"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
	Finished  string `json:"finished_at,omitempty"`
}

// newJobRow converts an archived job into the CLI's JSON shape.
func newJobRow(job *models.ArchivedJob) jobRow {
	row := jobRow{
		ID:        job.ID(),
		Backend:   job.BackendID(),
		TrackRef:  job.TrackRef(),
		State:     job.State(),
		Reason:    job.Reason(),
		Attempts:  job.Attempts(),
		LastError: job.LastError(),
	}
	if !job.FinishedAt().IsZero() {
		row.Finished = job.FinishedAt().Format("2006-01-02 15:04:05")
	}
	return row
}

// Jobs lists terminal acquisition jobs from the archive.
func (r *Runner) Jobs(ctx context.Context, cmd *cli.Command) error {
	r.loadConfig(cmd)

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	repo := repositories.NewJobRepository(db)

	criteria := map[string]any{}
	if backend := cmd.String("backend"); backend != "" {
		criteria["backend_id"] = backend
	}
	if state := cmd.String("state"); state != "" {
		criteria["state"] = state
	}

	jobs, err := repo.List(criteria)
	if err != nil {
		return err
	}

	rows := make([]jobRow, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, newJobRow(job))
	}

	if cmd.Bool("json") {
		return r.writeJSON(rows, true)
	}

	if len(rows) == 0 {
		r.writePlainln("no archived jobs")
		return nil
	}

	for _, row := range rows {
		line := row.ID[:8] + "  " + row.Backend + "  " + row.TrackRef + "  " + row.State
		if row.Reason != "" {
			line += " (" + row.Reason + ")"
		}
		r.writePlainln("%s", line)
	}
	return nil
}

// Status reports one job by id from the archive.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	r.loadConfig(cmd)

	jobID := cmd.StringArg("job")
	if jobID == "" {
		return fmt.Errorf("%w: job argument required", shared.ErrInvalidConfig)
	}

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	job, err := repositories.NewJobRepository(db).Get(jobID)
	if err != nil {
		return err
	}

	return r.writeJSON(newJobRow(job), cmd.Bool("pretty"))
}

// CancelJob requests cancellation of a job by id.
//
// Jobs run inside the process that submitted them, so an in-flight fetch is
// cancelled by interrupting that process (SIGINT); a separate invocation only
// sees archived terminal jobs, which are reported as already finished.
func (r *Runner) CancelJob(ctx context.Context, cmd *cli.Command) error {
	r.loadConfig(cmd)

	jobID := cmd.StringArg("job")
	if jobID == "" {
		return fmt.Errorf("%w: job argument required", shared.ErrInvalidConfig)
	}

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	job, err := repositories.NewJobRepository(db).Get(jobID)
	if err != nil {
		return fmt.Errorf("%w: job %s is not archived; interrupt the fetch process to cancel an in-flight job", shared.ErrJobNotFound, jobID)
	}

	r.logger.Info("job already terminal, nothing to cancel", "job_id", jobID, "state", job.State())
	return nil
}
