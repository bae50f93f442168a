package domain

import "errors"

// Connection error taxonomy. All connection-path failures funnel into the
// retrying state; ErrIdentityRejected additionally clears the cached token
// so the next attempt re-registers.
var (
	// ErrRegistration means the peer was unreachable during identity
	// registration or verification.
	ErrRegistration = errors.New("identity registration failed")

	// ErrIdentityRejected means the peer explicitly invalidated the token.
	ErrIdentityRejected = errors.New("identity token rejected")

	// ErrTransport covers generic handshake and session failures.
	ErrTransport = errors.New("transport failure")

	// ErrConnectionTimeout means no ready signal arrived within the ceiling.
	ErrConnectionTimeout = errors.New("connection timed out")

	// ErrCommunication covers failures during steady-state sends.
	ErrCommunication = errors.New("communication failure")

	// ErrConfigSync is non-fatal; configuration can be corrected later.
	ErrConfigSync = errors.New("configuration sync failed")
)
