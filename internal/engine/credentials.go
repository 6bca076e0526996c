package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/trax/internal/backends"
	"github.com/desertthunder/trax/internal/models"
	"github.com/desertthunder/trax/internal/shared"
	"golang.org/x/sync/singleflight"
)

// CredentialPersistence is the persistence collaborator for credentials.
// Implemented by repositories.CredentialRepository.
type CredentialPersistence interface {
	GetByBackend(backendID string) (*models.Credential, error)
	Upsert(cred *models.Credential) error
}

// CredentialStore owns the bearer/refresh tokens for all backends.
//
// Credentials are mutated only through refresh or re-authentication. Refreshes
// are coalesced per backend: concurrent EnsureValid calls during an in-flight
// refresh await the same result rather than issuing parallel refreshes, since
// most OAuth providers invalidate a refresh token after first use.
type CredentialStore struct {
	repo     CredentialPersistence
	adapters map[string]backends.Adapter
	skew     time.Duration
	logger   *log.Logger

	mu    sync.Mutex
	cache map[string]*models.Credential

	flight singleflight.Group
}

// NewCredentialStore creates a credential store over the given persistence
// collaborator and adapters. repo may be nil for in-memory only operation (tests).
func NewCredentialStore(repo CredentialPersistence, adapters map[string]backends.Adapter, skew time.Duration, logger *log.Logger) *CredentialStore {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &CredentialStore{
		repo:     repo,
		adapters: adapters,
		skew:     skew,
		logger:   logger,
		cache:    make(map[string]*models.Credential),
	}
}

// EnsureValid returns a credential guaranteed valid for at least one request.
//
// An expired or near-expiry credential with a refresh token is refreshed through
// the backend's adapter and persisted before returning. Without a refresh path,
// an expired credential fails with [shared.ErrAuthExpired].
func (s *CredentialStore) EnsureValid(ctx context.Context, backendID string) (*models.Credential, error) {
	cred, err := s.current(backendID)
	if err != nil {
		return nil, err
	}

	if !cred.Expired(s.skew) {
		return cred, nil
	}

	if !cred.Refreshable() {
		return nil, fmt.Errorf("%w: backend %s credential expired with no refresh path", shared.ErrAuthExpired, backendID)
	}

	result, err, _ := s.flight.Do(backendID, func() (any, error) {
		return s.refresh(ctx, backendID)
	})
	if err != nil {
		return nil, err
	}

	return result.(*models.Credential), nil
}

// Store persists a freshly obtained credential, overwriting any prior one for
// that backend.
func (s *CredentialStore) Store(backendID string, cred *models.Credential) error {
	if err := cred.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidCredentials, err)
	}

	if s.repo != nil {
		if err := s.repo.Upsert(cred); err != nil {
			return fmt.Errorf("failed to persist credential: %w", err)
		}
	}

	s.mu.Lock()
	s.cache[backendID] = cred
	s.mu.Unlock()

	return nil
}

// Invalidate marks the current credential unusable, forcing the next EnsureValid
// to refresh or fail. Called by the orchestrator upon an authorization-denied
// signal from a backend.
func (s *CredentialStore) Invalidate(backendID string) error {
	cred, err := s.current(backendID)
	if err != nil {
		return err
	}

	// Swap an expired copy into the cache; the instance already handed to
	// in-flight callers is never written to.
	expired := cred.Clone()
	expired.SetExpiresAt(time.Now().Add(-time.Second))

	if s.repo != nil {
		if err := s.repo.Upsert(expired); err != nil {
			s.logger.Warn("failed to persist credential invalidation", "backend", backendID, "err", err)
		}
	}

	s.mu.Lock()
	s.cache[backendID] = expired
	s.mu.Unlock()

	return nil
}

// current returns the cached credential for a backend, loading it from the
// persistence collaborator on first use.
func (s *CredentialStore) current(backendID string) (*models.Credential, error) {
	s.mu.Lock()
	cred, ok := s.cache[backendID]
	s.mu.Unlock()
	if ok {
		return cred, nil
	}

	if s.repo == nil {
		return nil, fmt.Errorf("%w: backend %s has no stored credential", shared.ErrMissingCredentials, backendID)
	}

	cred, err := s.repo.GetByBackend(backendID)
	if err != nil {
		return nil, fmt.Errorf("%w: backend %s", shared.ErrMissingCredentials, backendID)
	}

	s.mu.Lock()
	s.cache[backendID] = cred
	s.mu.Unlock()

	return cred, nil
}

// refresh performs one refresh round trip and persists the result. Runs inside
// the per-backend singleflight group.
func (s *CredentialStore) refresh(ctx context.Context, backendID string) (*models.Credential, error) {
	adapter, ok := s.adapters[backendID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrUnknownBackend, backendID)
	}

	cred, err := s.current(backendID)
	if err != nil {
		return nil, err
	}

	// Another waiter's refresh may have landed while this call queued.
	if !cred.Expired(s.skew) {
		return cred, nil
	}

	s.logger.Debug("refreshing credential", "backend", backendID)

	refreshed, err := adapter.Refresh(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("%w: backend %s: %v", shared.ErrAuthExpired, backendID, err)
	}

	if err := s.Store(backendID, refreshed); err != nil {
		return nil, err
	}

	return refreshed, nil
}
