// package backends defines the transport adapter capability set for catalog backends
//
// One adapter per integrated catalog. Adapters perform the actual network calls;
// the acquisition engine treats them as capabilities and never touches HTTP itself.
package backends

import (
	"context"
	"fmt"
	"io"

	"github.com/desertthunder/trax/internal/models"
	"github.com/desertthunder/trax/internal/shared"
)

// DeliveryMode identifies how a backend delivers media bytes.
//
// The mode is fixed per backend configuration, never per job; the orchestrator
// dispatches on it at exactly one transition point.
type DeliveryMode int

const (
	// DeliveryStream backends return encrypted byte chunks synchronously.
	DeliveryStream DeliveryMode = iota
	// DeliveryPeer backends run asynchronous transfers discovered by polling.
	DeliveryPeer
)

func (m DeliveryMode) String() string {
	switch m {
	case DeliveryStream:
		return shared.DeliveryStream
	case DeliveryPeer:
		return shared.DeliveryPeer
	default:
		return "unknown"
	}
}

// ParseDeliveryMode converts a configuration string into a [DeliveryMode].
func ParseDeliveryMode(s string) (DeliveryMode, error) {
	switch s {
	case shared.DeliveryStream:
		return DeliveryStream, nil
	case shared.DeliveryPeer:
		return DeliveryPeer, nil
	default:
		return 0, fmt.Errorf("%w: delivery mode %q", shared.ErrInvalidConfig, s)
	}
}

// Adapter is the capability set every backend provides regardless of delivery mode.
type Adapter interface {
	// Name returns the backend identifier this adapter serves.
	Name() string

	// Delivery returns the backend's declared delivery mode.
	Delivery() DeliveryMode

	// Authenticate obtains a fresh credential from a credential hint
	// (e.g. an authorization code or a pre-issued access token).
	Authenticate(ctx context.Context, hint map[string]string) (*models.Credential, error)

	// Refresh exchanges a credential's refresh token for a new credential.
	Refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error)

	// FetchMetadata retrieves catalog metadata for a track.
	FetchMetadata(ctx context.Context, cred *models.Credential, trackRef string) (*models.TrackMetadata, error)
}

// StreamInfo describes one track's encrypted stream as reported by the backend.
type StreamInfo struct {
	KeyMaterial []byte // Backend-supplied key seed; per-track key is derived from this plus the track ref
	ChunkSize   int    // Encrypted chunk size in bytes
	ChunkCount  int    // Number of chunks; the final chunk may be short
	TotalSize   int64  // Plaintext size in bytes
}

// StreamAdapter is the capability set for encrypted-stream backends.
type StreamAdapter interface {
	Adapter

	// StreamInfo retrieves the stream descriptor for a track.
	StreamInfo(ctx context.Context, cred *models.Credential, trackRef string) (*StreamInfo, error)

	// FetchChunk retrieves one encrypted chunk by index.
	FetchChunk(ctx context.Context, cred *models.Credential, trackRef string, index int) ([]byte, error)
}

// RemoteTransferStatus is a snapshot of a peer-mediated transfer, authoritative
// only immediately after the poll that produced it.
type RemoteTransferStatus struct {
	State    string // Remote status vocabulary, mapped by the engine's poller
	Progress int64  // Bytes the remote reports transferred so far
	Message  string // Remote-supplied detail, diagnostic only
}

// PeerAdapter is the capability set for peer-style backends.
type PeerAdapter interface {
	Adapter

	// InitiateTransfer asks the backend to start an asynchronous transfer and
	// returns the peer and remote file handles used for polling.
	InitiateTransfer(ctx context.Context, cred *models.Credential, trackRef string) (peerRef, remoteFileRef string, err error)

	// PollTransfer issues one status query for an in-flight transfer.
	PollTransfer(ctx context.Context, cred *models.Credential, peerRef, remoteFileRef string) (*RemoteTransferStatus, error)

	// Retrieve opens the completed transfer's bytes for streaming to the caller's sink.
	Retrieve(ctx context.Context, cred *models.Credential, peerRef, remoteFileRef string) (io.ReadCloser, error)
}

// StatusError translates an HTTP status code into the engine's error taxonomy.
//
// 2xx codes return nil. Unrecognized client errors are treated as transport
// failures so the orchestrator's retry policy decides their fate.
func StatusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == 401 || code == 403:
		return fmt.Errorf("%w: status %d", shared.ErrAuthDenied, code)
	case code == 404:
		return fmt.Errorf("%w: status %d", shared.ErrNotFound, code)
	case code == 429:
		return fmt.Errorf("%w: status %d", shared.ErrRateLimited, code)
	default:
		return fmt.Errorf("%w: status %d", shared.ErrTransport, code)
	}
}
