package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/trax/internal/backends"
	"github.com/desertthunder/trax/internal/models"
	"github.com/desertthunder/trax/internal/shared"
)

// TransferState is the engine-side state of a peer-mediated transfer.
type TransferState int

const (
	TransferInitiated TransferState = iota
	TransferQueued
	TransferTransferring
	TransferCompleted
	TransferFailed
	TransferNotFound
)

func (s TransferState) String() string {
	switch s {
	case TransferInitiated:
		return "initiated"
	case TransferQueued:
		return "queued"
	case TransferTransferring:
		return "transferring"
	case TransferCompleted:
		return "completed"
	case TransferFailed:
		return "failed"
	case TransferNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Terminal reports whether the transfer can make no further progress.
func (s TransferState) Terminal() bool {
	return s == TransferCompleted || s == TransferFailed || s == TransferNotFound
}

// TransferHandle tracks one asynchronous transfer from initiation to a terminal
// state. State and Progress are snapshots, authoritative only immediately after
// the poll that produced them. PollCount is purely diagnostic.
type TransferHandle struct {
	JobID         string
	PeerRef       string
	RemoteFileRef string
	State         TransferState
	Progress      int64
	PollCount     int
	Message       string
}

// TransferPoller drives peer-mediated transfers by repeated status queries.
//
// The poller never schedules itself: the orchestrator calls Poll at its own
// interval so it retains control of overall backoff and the job timeout. The
// poller imposes no poll cap.
type TransferPoller struct {
	adapter backends.PeerAdapter
	logger  *log.Logger
}

// NewTransferPoller creates a poller over the given peer adapter.
func NewTransferPoller(adapter backends.PeerAdapter, logger *log.Logger) *TransferPoller {
	return &TransferPoller{adapter: adapter, logger: logger}
}

// Initiate requests a transfer and returns a handle in state [TransferInitiated].
func (p *TransferPoller) Initiate(ctx context.Context, cred *models.Credential, jobID, trackRef string) (*TransferHandle, error) {
	peerRef, fileRef, err := p.adapter.InitiateTransfer(ctx, cred, trackRef)
	if err != nil {
		return nil, err
	}

	return &TransferHandle{
		JobID:         jobID,
		PeerRef:       peerRef,
		RemoteFileRef: fileRef,
		State:         TransferInitiated,
	}, nil
}

// Poll issues one status query and returns the handle updated with the mapped
// remote state.
//
// A handle in [TransferNotFound] is not re-pollable: the remote side no longer
// knows the peer or file, so the caller must re-initiate from scratch if it
// retries at all. Transport failures are returned to the caller without
// consuming the handle.
func (p *TransferPoller) Poll(ctx context.Context, cred *models.Credential, handle *TransferHandle) (*TransferHandle, error) {
	if handle.State == TransferNotFound {
		return handle, fmt.Errorf("%w: transfer handle is gone, re-initiate", shared.ErrNotFound)
	}

	status, err := p.adapter.PollTransfer(ctx, cred, handle.PeerRef, handle.RemoteFileRef)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			handle.PollCount++
			handle.State = TransferNotFound
			return handle, nil
		}
		return handle, err
	}

	handle.PollCount++
	handle.Message = status.Message
	if status.Progress > handle.Progress {
		handle.Progress = status.Progress
	}
	handle.State = p.mapRemoteState(handle, status)

	return handle, nil
}

// mapRemoteState translates the remote status vocabulary into a [TransferState].
//
// Queued transfers move to Transferring on first observed progress even when the
// remote still reports a waiting state.
func (p *TransferPoller) mapRemoteState(handle *TransferHandle, status *backends.RemoteTransferStatus) TransferState {
	switch status.State {
	case backends.MeshStateInit:
		return TransferInitiated
	case backends.MeshStateQueued, backends.MeshStateBusy:
		if status.Progress > 0 {
			return TransferTransferring
		}
		return TransferQueued
	case backends.MeshStateMoving:
		return TransferTransferring
	case backends.MeshStateDone:
		return TransferCompleted
	case backends.MeshStateError:
		return TransferFailed
	case backends.MeshStateGone:
		return TransferNotFound
	default:
		if p.logger != nil {
			p.logger.Warn("unknown remote transfer state", "state", status.State, "job_id", handle.JobID)
		}
		return TransferQueued
	}
}
