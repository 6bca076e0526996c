package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/trax/internal/backends"
	"github.com/desertthunder/trax/internal/models"
	"github.com/desertthunder/trax/internal/shared"
)

// mockPeerAdapter scripts remote transfer statuses for poller and orchestrator
// tests. Polls consume the script in order; the final entry repeats.
type mockPeerAdapter struct {
	mu           sync.Mutex
	name         string
	statuses     []backends.RemoteTransferStatus
	content      []byte
	initiateErr  error
	pollErrs     []error
	pollCalls    int
	refreshCalls int
}

func (m *mockPeerAdapter) Name() string { return m.name }

func (m *mockPeerAdapter) Delivery() backends.DeliveryMode { return backends.DeliveryPeer }

func (m *mockPeerAdapter) Authenticate(ctx context.Context, hint map[string]string) (*models.Credential, error) {
	return models.NewCredential(0, m.name, "session-token", "", "", time.Now().Add(time.Hour)), nil
}

func (m *mockPeerAdapter) Refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	m.mu.Lock()
	m.refreshCalls++
	m.mu.Unlock()
	return models.NewCredential(0, m.name, "refreshed-token", cred.RefreshToken(), cred.Scope(), time.Now().Add(time.Hour)), nil
}

func (m *mockPeerAdapter) FetchMetadata(ctx context.Context, cred *models.Credential, trackRef string) (*models.TrackMetadata, error) {
	return &models.TrackMetadata{}, nil
}

func (m *mockPeerAdapter) InitiateTransfer(ctx context.Context, cred *models.Credential, trackRef string) (string, string, error) {
	if m.initiateErr != nil {
		return "", "", m.initiateErr
	}
	return "peer-1", "file-" + trackRef, nil
}

func (m *mockPeerAdapter) PollTransfer(ctx context.Context, cred *models.Credential, peerRef, remoteFileRef string) (*backends.RemoteTransferStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := m.pollCalls
	m.pollCalls++

	if call < len(m.pollErrs) && m.pollErrs[call] != nil {
		return nil, m.pollErrs[call]
	}

	if len(m.statuses) == 0 {
		return &backends.RemoteTransferStatus{State: backends.MeshStateQueued}, nil
	}
	if call >= len(m.statuses) {
		call = len(m.statuses) - 1
	}
	status := m.statuses[call]
	return &status, nil
}

func (m *mockPeerAdapter) Retrieve(ctx context.Context, cred *models.Credential, peerRef, remoteFileRef string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.content)), nil
}

func (m *mockPeerAdapter) polls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pollCalls
}

func TestTransferPoller(t *testing.T) {
	ctx := context.Background()
	cred := models.NewCredential(0, "mesh", "token", "", "", time.Now().Add(time.Hour))

	t.Run("Initiate", func(t *testing.T) {
		adapter := &mockPeerAdapter{name: "mesh"}
		poller := NewTransferPoller(adapter, nil)

		handle, err := poller.Initiate(ctx, cred, "job-1", "track-1")
		if err != nil {
			t.Fatalf("failed to initiate: %v", err)
		}

		if handle.State != TransferInitiated {
			t.Errorf("expected state initiated, got %s", handle.State)
		}
		if handle.PeerRef != "peer-1" || handle.RemoteFileRef != "file-track-1" {
			t.Errorf("unexpected handle refs: %s/%s", handle.PeerRef, handle.RemoteFileRef)
		}
	})

	t.Run("Drives Transfer To Completion", func(t *testing.T) {
		adapter := &mockPeerAdapter{
			name: "mesh",
			statuses: []backends.RemoteTransferStatus{
				{State: backends.MeshStateQueued},
				{State: backends.MeshStateQueued},
				{State: backends.MeshStateMoving, Progress: 1024},
				{State: backends.MeshStateMoving, Progress: 4096},
				{State: backends.MeshStateDone, Progress: 8192},
			},
		}
		poller := NewTransferPoller(adapter, nil)

		handle, err := poller.Initiate(ctx, cred, "job-1", "track-1")
		if err != nil {
			t.Fatalf("failed to initiate: %v", err)
		}

		expected := []TransferState{
			TransferQueued,
			TransferQueued,
			TransferTransferring,
			TransferTransferring,
			TransferCompleted,
		}

		for i, want := range expected {
			handle, err = poller.Poll(ctx, cred, handle)
			if err != nil {
				t.Fatalf("poll %d failed: %v", i+1, err)
			}
			if handle.State != want {
				t.Errorf("poll %d: expected state %s, got %s", i+1, want, handle.State)
			}
		}

		if handle.PollCount != 5 {
			t.Errorf("expected exactly 5 polls, got %d", handle.PollCount)
		}
		if handle.Progress != 8192 {
			t.Errorf("expected progress 8192, got %d", handle.Progress)
		}
	})

	t.Run("Queued With Progress Is Transferring", func(t *testing.T) {
		adapter := &mockPeerAdapter{
			name:     "mesh",
			statuses: []backends.RemoteTransferStatus{{State: backends.MeshStateQueued, Progress: 512}},
		}
		poller := NewTransferPoller(adapter, nil)

		handle, _ := poller.Initiate(ctx, cred, "job-1", "track-1")
		handle, err := poller.Poll(ctx, cred, handle)
		if err != nil {
			t.Fatalf("poll failed: %v", err)
		}
		if handle.State != TransferTransferring {
			t.Errorf("expected transferring, got %s", handle.State)
		}
	})

	t.Run("Progress Never Regresses", func(t *testing.T) {
		adapter := &mockPeerAdapter{
			name: "mesh",
			statuses: []backends.RemoteTransferStatus{
				{State: backends.MeshStateMoving, Progress: 4096},
				{State: backends.MeshStateMoving, Progress: 1024},
			},
		}
		poller := NewTransferPoller(adapter, nil)

		handle, _ := poller.Initiate(ctx, cred, "job-1", "track-1")
		handle, _ = poller.Poll(ctx, cred, handle)
		handle, _ = poller.Poll(ctx, cred, handle)

		if handle.Progress != 4096 {
			t.Errorf("expected progress to hold at 4096, got %d", handle.Progress)
		}
	})

	t.Run("Remote Handle Gone", func(t *testing.T) {
		adapter := &mockPeerAdapter{
			name:     "mesh",
			pollErrs: []error{shared.ErrNotFound},
		}
		poller := NewTransferPoller(adapter, nil)

		handle, _ := poller.Initiate(ctx, cred, "job-1", "track-1")

		handle, err := poller.Poll(ctx, cred, handle)
		if err != nil {
			t.Fatalf("expected not-found to map to a state, got error: %v", err)
		}
		if handle.State != TransferNotFound {
			t.Errorf("expected not_found, got %s", handle.State)
		}

		// A gone handle cannot be re-polled.
		if _, err := poller.Poll(ctx, cred, handle); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound on re-poll, got %v", err)
		}
	})

	t.Run("Transport Failure Keeps Handle Alive", func(t *testing.T) {
		adapter := &mockPeerAdapter{
			name:     "mesh",
			pollErrs: []error{shared.ErrTransport},
			statuses: []backends.RemoteTransferStatus{
				{State: backends.MeshStateQueued},
				{State: backends.MeshStateDone},
			},
		}
		poller := NewTransferPoller(adapter, nil)

		handle, _ := poller.Initiate(ctx, cred, "job-1", "track-1")

		if _, err := poller.Poll(ctx, cred, handle); !errors.Is(err, shared.ErrTransport) {
			t.Fatalf("expected transport error, got %v", err)
		}

		handle, err := poller.Poll(ctx, cred, handle)
		if err != nil {
			t.Fatalf("expected handle to survive transport failure: %v", err)
		}
		if handle.State != TransferCompleted {
			t.Errorf("expected completed after recovery, got %s", handle.State)
		}
	})

	t.Run("Unknown Remote Vocabulary", func(t *testing.T) {
		adapter := &mockPeerAdapter{
			name:     "mesh",
			statuses: []backends.RemoteTransferStatus{{State: "reticulating"}},
		}
		poller := NewTransferPoller(adapter, shared.NewLogger(nil))

		handle, _ := poller.Initiate(ctx, cred, "job-1", "track-1")
		handle, err := poller.Poll(ctx, cred, handle)
		if err != nil {
			t.Fatalf("poll failed: %v", err)
		}
		if handle.State != TransferQueued {
			t.Errorf("expected unknown vocabulary to map to queued, got %s", handle.State)
		}
	})
}
