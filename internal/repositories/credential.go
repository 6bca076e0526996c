package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/trax/internal/models"
	"github.com/desertthunder/trax/internal/shared"
)

// CredentialRepository implements [models.Repository] for [models.Credential] persistence.
//
// It is the engine's persistence collaborator: the credential store loads through
// GetByBackend and writes through Upsert after refresh or re-authentication.
type CredentialRepository struct {
	db *sql.DB
}

// NewCredentialRepository creates a new [CredentialRepository] with the given database connection
func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Create inserts a new credential into the database with generated ID and sequence
func (r *CredentialRepository) Create(cred *models.Credential) error {
	sequence, err := NextSequence(r.db, "credentials")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()
	cred.SetID(id)
	cred.SetSequence(sequence)

	if err := cred.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO credentials (id, sequence, backend_id, access_token, refresh_token, token_scope, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query, id, sequence, cred.BackendID(), cred.AccessToken(), cred.RefreshToken(),
		cred.Scope(), nullableTime(cred.ExpiresAt()), cred.CreatedAt(), cred.UpdatedAt())
	if err != nil {
		return fmt.Errorf("failed to insert credential: %w", err)
	}

	return nil
}

// Get retrieves a credential by ID, excluding soft-deleted credentials
func (r *CredentialRepository) Get(id string) (*models.Credential, error) {
	query := `
		SELECT id, sequence, backend_id, access_token, refresh_token, token_scope, expires_at, created_at, updated_at, deleted_at
		FROM credentials
		WHERE id = ? AND deleted_at IS NULL
	`
	return r.scanOne(r.db.QueryRow(query, id))
}

// GetByBackend retrieves the live credential for a backend.
func (r *CredentialRepository) GetByBackend(backendID string) (*models.Credential, error) {
	query := `
		SELECT id, sequence, backend_id, access_token, refresh_token, token_scope, expires_at, created_at, updated_at, deleted_at
		FROM credentials
		WHERE backend_id = ? AND deleted_at IS NULL
	`
	return r.scanOne(r.db.QueryRow(query, backendID))
}

// Update modifies an existing credential in the database
func (r *CredentialRepository) Update(cred *models.Credential) error {
	if err := cred.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	cred.SetUpdatedAt(now)

	query := `
		UPDATE credentials
		SET access_token = ?, refresh_token = ?, token_scope = ?, expires_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query, cred.AccessToken(), cred.RefreshToken(), cred.Scope(),
		nullableTime(cred.ExpiresAt()), now, cred.ID())
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("credential not found or already deleted: %s", cred.ID())
	}

	return nil
}

// Upsert persists a credential for a backend, overwriting any prior one.
func (r *CredentialRepository) Upsert(cred *models.Credential) error {
	existing, err := r.GetByBackend(cred.BackendID())
	if err != nil {
		return r.Create(cred)
	}

	cred.SetID(existing.ID())
	cred.SetSequence(existing.Sequence())
	return r.Update(cred)
}

// Delete soft-deletes a credential by ID
func (r *CredentialRepository) Delete(id string) error {
	now := time.Now()

	query := `
		UPDATE credentials
		SET deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query, now, id)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("credential not found or already deleted: %s", id)
	}

	return nil
}

// List retrieves all credentials matching the given criteria, excluding soft-deleted credentials
func (r *CredentialRepository) List(criteria map[string]any) ([]*models.Credential, error) {
	query := `
		SELECT id, sequence, backend_id, access_token, refresh_token, token_scope, expires_at, created_at, updated_at, deleted_at
		FROM credentials
		WHERE deleted_at IS NULL
	`

	args := []any{}

	if backendID, ok := criteria["backend_id"].(string); ok && backendID != "" {
		query += " AND backend_id = ?"
		args = append(args, backendID)
	}

	query += " ORDER BY sequence ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.Credential
	for rows.Next() {
		cred, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}

	return creds, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *CredentialRepository) scanOne(row *sql.Row) (*models.Credential, error) {
	cred, err := r.scan(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no stored credential", shared.ErrMissingCredentials)
	}
	return cred, err
}

func (r *CredentialRepository) scanRow(rows *sql.Rows) (*models.Credential, error) {
	return r.scan(rows)
}

func (r *CredentialRepository) scan(row rowScanner) (*models.Credential, error) {
	var (
		id           string
		sequence     int
		backendID    string
		accessToken  string
		refreshToken sql.NullString
		scope        sql.NullString
		expiresAt    sql.NullTime
		createdAt    time.Time
		updatedAt    time.Time
		deletedAt    sql.NullTime
	)

	err := row.Scan(&id, &sequence, &backendID, &accessToken, &refreshToken, &scope, &expiresAt, &createdAt, &updatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan credential: %w", err)
	}

	var expiry time.Time
	if expiresAt.Valid {
		expiry = expiresAt.Time
	}

	cred := models.NewCredential(sequence, backendID, accessToken, refreshToken.String, scope.String, expiry)
	cred.SetID(id)
	cred.SetCreatedAt(createdAt)
	cred.SetUpdatedAt(updatedAt)
	if deletedAt.Valid {
		cred.SetDeletedAt(&deletedAt.Time)
	}

	return cred, nil
}

// nullableTime converts a zero time into a SQL NULL so "never expires" survives round trips.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
