// Package engine implements the unified acquisition engine: the component that
// turns a "fetch this track" request into bytes on disk regardless of which
// backend serves it.
//
// The engine reconciles two incompatible delivery models behind one contract:
// synchronous encrypted chunk streaming (decrypted inline through [StreamContext])
// and asynchronous peer-mediated transfer (driven to completion by [TransferPoller]).
// The [Orchestrator] is the per-job state machine tying together credential
// lifecycle ([CredentialStore]), per-backend admission ([RateGovernor]), fetching,
// decryption or polling, and persistence of terminal outcomes.
//
// All stores are injected rather than process-global so independent backend
// configurations can run concurrently without interference.
package engine
