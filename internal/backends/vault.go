// Encrypted-stream catalog implementation of [StreamAdapter]
//
// Vault-style backends are OAuth2-protected catalogs that deliver media as
// encrypted byte chunks keyed by track identity.
package backends

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/desertthunder/trax/internal/models"
	"github.com/desertthunder/trax/internal/shared"
	"golang.org/x/oauth2"
)

const (
	vaultAuthPath     = "/oauth/authorize"
	vaultTokenPath    = "/oauth/token"
	vaultDefaultScope = "catalog-read stream-read"
)

// vaultTrack is the catalog's track DTO.
type vaultTrack struct {
	Ref      string `json:"ref"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	Duration int    `json:"duration_seconds"`
	ISRC     string `json:"isrc"`
	Size     int64  `json:"size_bytes"`
}

// vaultStreamInfo is the catalog's stream descriptor DTO.
type vaultStreamInfo struct {
	KeySeed    string `json:"key_seed"` // base64
	ChunkSize  int    `json:"chunk_size"`
	ChunkCount int    `json:"chunk_count"`
	TotalSize  int64  `json:"total_size"`
}

// VaultAdapter implements [StreamAdapter] for OAuth2 catalogs with encrypted chunk delivery.
// Uses [oauth2] for token exchange and refresh.
type VaultAdapter struct {
	name       string
	baseURL    string
	config     *oauth2.Config
	httpClient *http.Client
}

// NewVaultAdapter creates a new vault adapter from backend configuration.
func NewVaultAdapter(name string, cfg shared.BackendConfig) (*VaultAdapter, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("%w: missing client_id for backend %s", shared.ErrMissingCredentials, name)
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: missing client_secret for backend %s", shared.ErrMissingCredentials, name)
	}

	redirectURI := cfg.RedirectURI
	if redirectURI == "" {
		redirectURI = "http://localhost:8080/callback"
	}

	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       []string{"catalog-read", "stream-read"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.BaseURL + vaultAuthPath,
			TokenURL: cfg.BaseURL + vaultTokenPath,
		},
	}

	return &VaultAdapter{
		name:       name,
		baseURL:    cfg.BaseURL,
		config:     config,
		httpClient: http.DefaultClient,
	}, nil
}

func (v *VaultAdapter) Name() string {
	return v.name
}

func (v *VaultAdapter) Delivery() DeliveryMode {
	return DeliveryStream
}

// GetAuthURL returns the OAuth2 authorization URL for user login.
func (v *VaultAdapter) GetAuthURL(state string) string {
	return v.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Authenticate obtains a credential from a hint map. Expects either an
// "access_token" or an "auth_code" entry.
func (v *VaultAdapter) Authenticate(ctx context.Context, hint map[string]string) (*models.Credential, error) {
	if accessToken, ok := hint["access_token"]; ok && accessToken != "" {
		token := &oauth2.Token{AccessToken: accessToken}
		return models.CredentialFromToken(v.name, token, vaultDefaultScope), nil
	}

	if authCode, ok := hint["auth_code"]; ok && authCode != "" {
		token, err := v.config.Exchange(ctx, authCode)
		if err != nil {
			return nil, fmt.Errorf("failed to exchange auth code: %w", err)
		}
		return models.CredentialFromToken(v.name, token, vaultDefaultScope), nil
	}

	return nil, fmt.Errorf("%w: missing access_token or auth_code in hint", shared.ErrMissingCredentials)
}

// Refresh exchanges the credential's refresh token for new token material.
func (v *VaultAdapter) Refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	if !cred.Refreshable() {
		return nil, fmt.Errorf("%w: backend %s", shared.ErrNoRefreshToken, v.name)
	}

	// Force the token source to treat the access token as stale so it always
	// performs the refresh round trip.
	stale := cred.Token()
	stale.Expiry = time.Now().Add(-time.Minute)

	token, err := v.config.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrRefreshFailed, err)
	}

	refreshed := models.CredentialFromToken(v.name, token, cred.Scope())
	if refreshed.RefreshToken() == "" {
		// Providers that rotate refresh tokens omit the old one from the response.
		refreshed = models.NewCredential(0, v.name, token.AccessToken, cred.RefreshToken(), cred.Scope(), token.Expiry)
	}
	return refreshed, nil
}

// FetchMetadata retrieves catalog metadata for a track.
func (v *VaultAdapter) FetchMetadata(ctx context.Context, cred *models.Credential, trackRef string) (*models.TrackMetadata, error) {
	var track vaultTrack
	endpoint := fmt.Sprintf("/tracks/%s", trackRef)
	if err := v.doRequest(ctx, cred, endpoint, &track); err != nil {
		return nil, err
	}

	return &models.TrackMetadata{
		TrackRef: track.Ref,
		Title:    track.Title,
		Artist:   track.Artist,
		Album:    track.Album,
		Duration: track.Duration,
		ISRC:     track.ISRC,
		Size:     track.Size,
	}, nil
}

// StreamInfo retrieves the encrypted stream descriptor for a track.
func (v *VaultAdapter) StreamInfo(ctx context.Context, cred *models.Credential, trackRef string) (*StreamInfo, error) {
	var info vaultStreamInfo
	endpoint := fmt.Sprintf("/tracks/%s/stream", trackRef)
	if err := v.doRequest(ctx, cred, endpoint, &info); err != nil {
		return nil, err
	}

	seed, err := base64.StdEncoding.DecodeString(info.KeySeed)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed key seed: %v", shared.ErrTransport, err)
	}

	return &StreamInfo{
		KeyMaterial: seed,
		ChunkSize:   info.ChunkSize,
		ChunkCount:  info.ChunkCount,
		TotalSize:   info.TotalSize,
	}, nil
}

// FetchChunk retrieves one encrypted chunk by index.
func (v *VaultAdapter) FetchChunk(ctx context.Context, cred *models.Credential, trackRef string, index int) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/tracks/%s/chunks/%d", v.baseURL, trackRef, index)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken())

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrTransport, err)
	}
	defer resp.Body.Close()

	if err := StatusError(resp.StatusCode); err != nil {
		return nil, err
	}

	chunk, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read chunk body: %v", shared.ErrTransport, err)
	}

	return chunk, nil
}

// doRequest performs an authenticated GET against the catalog API and decodes the JSON response.
func (v *VaultAdapter) doRequest(ctx context.Context, cred *models.Credential, endpoint string, result any) error {
	if cred == nil {
		return fmt.Errorf("%w: no credential for backend %s", shared.ErrMissingCredentials, v.name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken())
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrTransport, err)
	}
	defer resp.Body.Close()

	if err := StatusError(resp.StatusCode); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", shared.ErrTransport, err)
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", shared.ErrTransport, err)
	}

	return nil
}
