package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/trax/internal/models"
	"github.com/desertthunder/trax/internal/shared"
)

// JobRepository implements [models.Repository] for [models.ArchivedJob] persistence.
//
// The orchestrator writes one row per terminal job; rows are never updated afterwards
// except for soft deletes via Delete.
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository creates a new [JobRepository] with the given database connection
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a terminal job record. The job's orchestrator-assigned id is kept
// when present so archive rows correlate with ids handed to callers.
func (r *JobRepository) Create(job *models.ArchivedJob) error {
	sequence, err := NextSequence(r.db, "jobs_archive")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	if job.ID() == "" {
		job.SetID(shared.GenerateID())
	}
	job.SetSequence(sequence)

	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO jobs_archive (id, sequence, backend_id, track_ref, state, reason, attempts, last_error, created_at, updated_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query, job.ID(), sequence, job.BackendID(), job.TrackRef(), job.State(),
		job.Reason(), job.Attempts(), job.LastError(), job.CreatedAt(), job.UpdatedAt(), nullableTime(job.FinishedAt()))
	if err != nil {
		return fmt.Errorf("failed to insert archived job: %w", err)
	}

	return nil
}

// Get retrieves an archived job by ID, excluding soft-deleted rows
func (r *JobRepository) Get(id string) (*models.ArchivedJob, error) {
	query := selectJobs + " WHERE id = ? AND deleted_at IS NULL"

	row := r.db.QueryRow(query, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", shared.ErrJobNotFound, id)
	}
	return job, err
}

// Update modifies an existing archived job record
func (r *JobRepository) Update(job *models.ArchivedJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	job.SetUpdatedAt(now)

	query := `
		UPDATE jobs_archive
		SET state = ?, reason = ?, attempts = ?, last_error = ?, updated_at = ?, finished_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query, job.State(), job.Reason(), job.Attempts(), job.LastError(),
		now, nullableTime(job.FinishedAt()), job.ID())
	if err != nil {
		return fmt.Errorf("failed to update archived job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("archived job not found or already deleted: %s", job.ID())
	}

	return nil
}

// Delete soft-deletes an archived job by ID
func (r *JobRepository) Delete(id string) error {
	now := time.Now()

	query := `
		UPDATE jobs_archive
		SET deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query, now, id)
	if err != nil {
		return fmt.Errorf("failed to delete archived job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("archived job not found or already deleted: %s", id)
	}

	return nil
}

// List retrieves archived jobs matching the given criteria, newest first.
func (r *JobRepository) List(criteria map[string]any) ([]*models.ArchivedJob, error) {
	query := selectJobs + " WHERE deleted_at IS NULL"

	args := []any{}

	if backendID, ok := criteria["backend_id"].(string); ok && backendID != "" {
		query += " AND backend_id = ?"
		args = append(args, backendID)
	}
	if state, ok := criteria["state"].(string); ok && state != "" {
		query += " AND state = ?"
		args = append(args, state)
	}

	query += " ORDER BY sequence DESC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ArchivedJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

const selectJobs = `
	SELECT id, sequence, backend_id, track_ref, state, reason, attempts, last_error, created_at, updated_at, finished_at, deleted_at
	FROM jobs_archive
`

func scanJob(row rowScanner) (*models.ArchivedJob, error) {
	var (
		id         string
		sequence   int
		backendID  string
		trackRef   string
		state      string
		reason     sql.NullString
		attempts   int
		lastError  sql.NullString
		createdAt  time.Time
		updatedAt  time.Time
		finishedAt sql.NullTime
		deletedAt  sql.NullTime
	)

	err := row.Scan(&id, &sequence, &backendID, &trackRef, &state, &reason, &attempts, &lastError,
		&createdAt, &updatedAt, &finishedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan archived job: %w", err)
	}

	job := models.NewArchivedJob(sequence, backendID, trackRef, state, reason.String, attempts)
	job.SetID(id)
	job.SetLastError(lastError.String)
	job.SetCreatedAt(createdAt)
	job.SetUpdatedAt(updatedAt)
	if finishedAt.Valid {
		job.SetFinishedAt(finishedAt.Time)
	}
	if deletedAt.Valid {
		job.SetDeletedAt(&deletedAt.Time)
	}

	return job, nil
}
