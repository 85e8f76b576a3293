package server

import "errors"

// Error taxonomy surfaced by the token lifecycle and relay.
var (
	// ErrNotConfigured indicates required WHOOP credentials are missing.
	ErrNotConfigured = errors.New("whoop client not configured")

	// ErrInvalidState indicates an unknown or already-consumed CSRF state
	// token. No credential state is created or mutated on this path.
	ErrInvalidState = errors.New("invalid or expired state")

	// ErrExchangeFailed indicates the provider rejected a code exchange.
	ErrExchangeFailed = errors.New("token exchange failed")

	// ErrNotConnected indicates no credential record exists for the user;
	// the caller must restart authorization.
	ErrNotConnected = errors.New("user not connected")

	// ErrTokenExpired indicates a refresh was rejected by the provider and
	// the local record has been discarded.
	ErrTokenExpired = errors.New("token expired and refresh rejected")

	// ErrUpstream indicates a non-auth upstream failure on a relay call.
	ErrUpstream = errors.New("upstream request failed")
)
