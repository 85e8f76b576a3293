package server

import (
	"encoding/json"
	"time"
)

// Credential holds the WHOOP tokens stored for one application user.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	// RemoteUserID is the WHOOP-assigned user ID resolved from the profile
	// lookup at connection time. May be empty if the lookup failed.
	RemoteUserID string
}

// Profile mirrors the basic profile document returned by WHOOP.
type Profile struct {
	UserID    int64  `json:"user_id"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// AuthURLRequest is the caller payload for issuing an authorization URL.
type AuthURLRequest struct {
	UserID string `json:"user_id"`
}

// AuthURLResponse carries the provider authorization URL and CSRF state.
type AuthURLResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}

// CallbackRequest is the manual (POST) variant of the OAuth callback.
type CallbackRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// CallbackResponse reports the outcome of a manual code exchange.
type CallbackResponse struct {
	Success     bool   `json:"success"`
	WhoopUserID string `json:"whoop_user_id,omitempty"`
	ConnectedAt string `json:"connected_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ConnectionStatus describes whether a user has a live WHOOP connection.
type ConnectionStatus struct {
	Connected   bool   `json:"connected"`
	WhoopUserID string `json:"whoop_user_id,omitempty"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

// DisconnectResponse acknowledges a credential removal.
type DisconnectResponse struct {
	Success bool `json:"success"`
}

// HealthResponse is the service health document.
type HealthResponse struct {
	Status         string `json:"status"`
	Service        string `json:"service"`
	ConnectedUsers int    `json:"connected_users"`
}

// DataResponse aggregates the per-type relay results. Records are passed
// through from upstream unmodified; a failed resource type is left as its
// zero value rather than failing the whole response.
type DataResponse struct {
	Recovery        []json.RawMessage `json:"recovery"`
	Sleep           []json.RawMessage `json:"sleep"`
	Workouts        []json.RawMessage `json:"workouts"`
	Cycles          []json.RawMessage `json:"cycles"`
	Profile         json.RawMessage   `json:"profile,omitempty"`
	BodyMeasurement json.RawMessage   `json:"body_measurement,omitempty"`
}
