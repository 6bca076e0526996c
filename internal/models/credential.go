package models

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// Credential holds the bearer and refresh token material for one backend.
//
// A credential is owned by the engine's credential store: it is mutated only
// through refresh or re-authentication, and is invalid once past its expiry or
// after an explicit revocation signal from the backend.
type Credential struct {
	id           string
	sequence     int
	backendID    string
	accessToken  string
	refreshToken string
	scope        string
	expiresAt    time.Time
	createdAt    time.Time
	updatedAt    time.Time
	deletedAt    *time.Time
}

// NewCredential creates a Credential for the given backend.
func NewCredential(sequence int, backendID, accessToken, refreshToken, scope string, expiresAt time.Time) *Credential {
	now := time.Now()
	return &Credential{
		sequence:     sequence,
		backendID:    backendID,
		accessToken:  accessToken,
		refreshToken: refreshToken,
		scope:        scope,
		expiresAt:    expiresAt,
		createdAt:    now,
		updatedAt:    now,
	}
}

// CredentialFromToken converts an [oauth2.Token] into a Credential for the given backend.
func CredentialFromToken(backendID string, token *oauth2.Token, scope string) *Credential {
	return NewCredential(0, backendID, token.AccessToken, token.RefreshToken, scope, token.Expiry)
}

func (c *Credential) ID() string            { return c.id }
func (c *Credential) Sequence() int         { return c.sequence }
func (c *Credential) BackendID() string     { return c.backendID }
func (c *Credential) AccessToken() string   { return c.accessToken }
func (c *Credential) RefreshToken() string  { return c.refreshToken }
func (c *Credential) Scope() string         { return c.scope }
func (c *Credential) ExpiresAt() time.Time  { return c.expiresAt }
func (c *Credential) CreatedAt() time.Time  { return c.createdAt }
func (c *Credential) UpdatedAt() time.Time  { return c.updatedAt }
func (c *Credential) DeletedAt() *time.Time { return c.deletedAt }

func (c *Credential) SetID(id string)             { c.id = id }
func (c *Credential) SetSequence(seq int)         { c.sequence = seq }
func (c *Credential) SetCreatedAt(t time.Time)    { c.createdAt = t }
func (c *Credential) SetUpdatedAt(t time.Time)    { c.updatedAt = t }
func (c *Credential) SetDeletedAt(t *time.Time)   { c.deletedAt = t }
func (c *Credential) SetExpiresAt(t time.Time)    { c.expiresAt = t }
func (c *Credential) SetAccessToken(token string) { c.accessToken = token }

// Clone returns a copy of the credential. The credential store swaps copies
// into its cache rather than mutating instances already handed to callers.
func (c *Credential) Clone() *Credential {
	clone := *c
	return &clone
}

// Validate checks that the credential has an owner and usable token material.
func (c *Credential) Validate() error {
	if c.backendID == "" {
		return fmt.Errorf("credential is missing a backend id")
	}
	if c.accessToken == "" {
		return fmt.Errorf("credential is missing an access token")
	}
	return nil
}

// Expired reports whether the credential is past its expiry, with the given skew
// treated as already expired. A zero expiry means the token never expires.
func (c *Credential) Expired(skew time.Duration) bool {
	if c.expiresAt.IsZero() {
		return false
	}
	return time.Now().Add(skew).After(c.expiresAt)
}

// Refreshable reports whether the credential carries a refresh token.
func (c *Credential) Refreshable() bool {
	return c.refreshToken != ""
}

// Token converts the credential into an [oauth2.Token] for use with OAuth2 transports.
func (c *Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.accessToken,
		RefreshToken: c.refreshToken,
		Expiry:       c.expiresAt,
	}
}
