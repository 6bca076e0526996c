// Peer-style catalog implementation of [PeerAdapter]
//
// Mesh-style backends hold media on remote peers; a transfer is requested once and
// then driven to completion purely by polling a hub-side status endpoint.
package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/desertthunder/trax/internal/models"
	"github.com/desertthunder/trax/internal/shared"
)

// Remote status vocabulary reported by mesh hubs.
const (
	MeshStateInit   = "init"
	MeshStateQueued = "queued"
	MeshStateBusy   = "busy"
	MeshStateMoving = "moving"
	MeshStateDone   = "done"
	MeshStateError  = "error"
	MeshStateGone   = "gone"
)

type meshSession struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

type meshTrack struct {
	Ref      string `json:"ref"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	Duration int    `json:"duration_seconds"`
	Size     int64  `json:"size_bytes"`
}

type meshTransfer struct {
	PeerRef string `json:"peer_ref"`
	FileRef string `json:"file_ref"`
}

type meshStatus struct {
	State    string `json:"state"`
	Progress int64  `json:"progress_bytes"`
	Message  string `json:"message"`
}

// MeshAdapter implements [PeerAdapter] for hub-mediated peer catalogs.
type MeshAdapter struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

// NewMeshAdapter creates a new mesh adapter from backend configuration.
func NewMeshAdapter(name string, cfg shared.BackendConfig) *MeshAdapter {
	return &MeshAdapter{
		name:       name,
		baseURL:    cfg.BaseURL,
		httpClient: http.DefaultClient,
	}
}

func (m *MeshAdapter) Name() string {
	return m.name
}

func (m *MeshAdapter) Delivery() DeliveryMode {
	return DeliveryPeer
}

// Authenticate exchanges an API key hint for a hub session token.
func (m *MeshAdapter) Authenticate(ctx context.Context, hint map[string]string) (*models.Credential, error) {
	apiKey, ok := hint["api_key"]
	if !ok || apiKey == "" {
		return nil, fmt.Errorf("%w: missing api_key in hint", shared.ErrMissingCredentials)
	}

	payload, _ := json.Marshal(map[string]string{"api_key": apiKey})

	var session meshSession
	if err := m.do(ctx, nil, http.MethodPost, "/session", payload, &session); err != nil {
		return nil, err
	}

	// Hub sessions carry no refresh token; expiry forces a re-key through the
	// same api_key hint.
	return models.NewCredential(0, m.name, session.Token, "", "transfer", expiryFromSeconds(session.ExpiresIn)), nil
}

// Refresh is unsupported: mesh sessions are re-keyed, not refreshed.
func (m *MeshAdapter) Refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	return nil, fmt.Errorf("%w: backend %s", shared.ErrNoRefreshToken, m.name)
}

// FetchMetadata retrieves hub-side metadata for a track.
func (m *MeshAdapter) FetchMetadata(ctx context.Context, cred *models.Credential, trackRef string) (*models.TrackMetadata, error) {
	var track meshTrack
	endpoint := fmt.Sprintf("/tracks/%s", trackRef)
	if err := m.do(ctx, cred, http.MethodGet, endpoint, nil, &track); err != nil {
		return nil, err
	}

	return &models.TrackMetadata{
		TrackRef: track.Ref,
		Title:    track.Title,
		Artist:   track.Artist,
		Album:    track.Album,
		Duration: track.Duration,
		Size:     track.Size,
	}, nil
}

// InitiateTransfer requests an asynchronous transfer and returns its handles.
func (m *MeshAdapter) InitiateTransfer(ctx context.Context, cred *models.Credential, trackRef string) (string, string, error) {
	payload, _ := json.Marshal(map[string]string{"track_ref": trackRef})

	var transfer meshTransfer
	if err := m.do(ctx, cred, http.MethodPost, "/transfers", payload, &transfer); err != nil {
		return "", "", err
	}

	if transfer.PeerRef == "" || transfer.FileRef == "" {
		return "", "", fmt.Errorf("%w: hub returned empty transfer handles", shared.ErrTransport)
	}

	return transfer.PeerRef, transfer.FileRef, nil
}

// PollTransfer issues one status query for an in-flight transfer.
func (m *MeshAdapter) PollTransfer(ctx context.Context, cred *models.Credential, peerRef, remoteFileRef string) (*RemoteTransferStatus, error) {
	var status meshStatus
	endpoint := fmt.Sprintf("/transfers/%s/%s", peerRef, remoteFileRef)
	if err := m.do(ctx, cred, http.MethodGet, endpoint, nil, &status); err != nil {
		return nil, err
	}

	return &RemoteTransferStatus{
		State:    status.State,
		Progress: status.Progress,
		Message:  status.Message,
	}, nil
}

// Retrieve opens the completed transfer's bytes.
func (m *MeshAdapter) Retrieve(ctx context.Context, cred *models.Credential, peerRef, remoteFileRef string) (io.ReadCloser, error) {
	endpoint := fmt.Sprintf("%s/transfers/%s/%s/content", m.baseURL, peerRef, remoteFileRef)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	m.authorize(req, cred)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrTransport, err)
	}

	if err := StatusError(resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return resp.Body, nil
}

// do performs an authenticated request against the hub API and decodes the JSON response.
func (m *MeshAdapter) do(ctx context.Context, cred *models.Credential, method, endpoint string, payload []byte, result any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	m.authorize(req, cred)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrTransport, err)
	}
	defer resp.Body.Close()

	if err := StatusError(resp.StatusCode); err != nil {
		return err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", shared.ErrTransport, err)
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("%w: failed to decode response: %v", shared.ErrTransport, err)
		}
	}

	return nil
}

func (m *MeshAdapter) authorize(req *http.Request, cred *models.Credential) {
	if cred != nil {
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken())
	}
}

// expiryFromSeconds converts a relative TTL into an absolute expiry. Zero or
// negative TTLs mean the session never expires.
func expiryFromSeconds(seconds int) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
