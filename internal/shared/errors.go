package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig  = fmt.Errorf("configuration not found")
	ErrInvalidConfig  = fmt.Errorf("invalid configuration")
	ErrUnknownBackend = fmt.Errorf("unknown backend")

	// Credential errors
	ErrMissingCredentials = fmt.Errorf("missing credentials")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrAuthExpired        = fmt.Errorf("credential expired")
	ErrAuthDenied         = fmt.Errorf("authorization denied")
	ErrNoRefreshToken     = fmt.Errorf("no refresh token available")
	ErrRefreshFailed      = fmt.Errorf("token refresh failed")

	// Admission and transport errors
	ErrAdmissionCancelled = fmt.Errorf("admission cancelled")
	ErrRateLimited        = fmt.Errorf("rate limited by backend")
	ErrTransport          = fmt.Errorf("transport failure")
	ErrTimeout            = fmt.Errorf("operation timed out")
	ErrNotFound           = fmt.Errorf("remote entity not found")

	// Decryption contract errors
	ErrOutOfSequenceChunk = fmt.Errorf("chunk out of sequence")
	ErrMisalignedChunk    = fmt.Errorf("chunk not block aligned")

	// Job lifecycle errors
	ErrCancelled   = fmt.Errorf("cancelled by caller")
	ErrJobNotFound = fmt.Errorf("job not found")
)
