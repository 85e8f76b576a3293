package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// TokenManager owns the credential lifecycle: issuing authorization URLs,
// completing code exchanges, and serving access tokens with transparent
// refresh.
type TokenManager struct {
	store  Store
	whoop  *WhoopClient
	logger *slog.Logger
	now    func() time.Time

	// locks serializes refreshes per user ID so only one of two concurrent
	// refreshes wins the rotated refresh token.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTokenManager constructs a TokenManager.
func NewTokenManager(store Store, whoop *WhoopClient, logger *slog.Logger) *TokenManager {
	return &TokenManager{
		store:  store,
		whoop:  whoop,
		logger: logger,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// BeginAuthorization issues a provider authorization URL bound to a fresh
// CSRF state token. Earlier states issued for the same user stay honourable
// until consumed.
func (m *TokenManager) BeginAuthorization(userID string) (AuthURLResponse, error) {
	if userID == "" {
		return AuthURLResponse{}, errors.New("user_id required")
	}
	if !m.whoop.Configured() {
		return AuthURLResponse{}, ErrNotConfigured
	}

	state := NewState()
	m.store.SavePendingAuth(state, userID)

	m.logger.Info("generated auth url", "user_id", userID)

	return AuthURLResponse{
		AuthorizationURL: m.whoop.AuthCodeURL(state),
		State:            state,
	}, nil
}

// CompleteAuthorization consumes the state token, exchanges the code, and
// writes the credential record. Returns the application user ID the state was
// bound to and the resolved WHOOP user ID (empty when the profile lookup
// failed).
func (m *TokenManager) CompleteAuthorization(ctx context.Context, code, state string) (userID, remoteUserID string, err error) {
	userID, ok := m.store.ConsumePendingAuth(state)
	if !ok {
		return "", "", ErrInvalidState
	}

	tok, err := m.whoop.Exchange(ctx, code)
	if err != nil {
		m.logger.Error("token exchange failed", "user_id", userID, "error", err)
		return "", "", err
	}

	// Best effort: a failed profile lookup leaves the remote ID unset
	// rather than failing the connection.
	if profile, perr := m.whoop.FetchProfile(ctx, tok.AccessToken); perr == nil {
		remoteUserID = strconv.FormatInt(profile.UserID, 10)
	} else {
		m.logger.Warn("profile lookup failed", "user_id", userID, "error", perr)
	}

	if tok.RefreshToken == "" {
		// Anomalous: the offline scope is always requested.
		m.logger.Warn("exchange response carried no refresh token", "user_id", userID)
	}

	m.store.SaveCredential(userID, Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiryFrom(tok, m.now()),
		RemoteUserID: remoteUserID,
	})

	m.logger.Info("whoop connected", "user_id", userID, "whoop_user_id", remoteUserID)
	return userID, remoteUserID, nil
}

// AccessToken returns a currently valid access token for the user,
// refreshing against the provider when the stored token is within
// RefreshBuffer of expiry. A record whose refresh is rejected, or that
// expires without a refresh token, is deleted so the caller re-authorizes.
func (m *TokenManager) AccessToken(ctx context.Context, userID string) (string, error) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	cred, ok := m.store.GetCredential(userID)
	if !ok {
		return "", ErrNotConnected
	}

	if cred.ExpiresAt.After(m.now().Add(RefreshBuffer)) {
		return cred.AccessToken, nil
	}

	if cred.RefreshToken == "" {
		// Nothing to retry with; force re-authorization.
		m.store.DeleteCredential(userID)
		m.logger.Warn("credential expired without refresh token", "user_id", userID)
		return "", ErrNotConnected
	}

	tok, err := m.whoop.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			// The provider rejected the refresh token; keeping the record
			// would only repeat the dead exchange.
			m.store.DeleteCredential(userID)
			m.logger.Error("token refresh rejected",
				"user_id", userID,
				"status", retrieveErr.Response.StatusCode,
			)
			return "", fmt.Errorf("%w: provider returned status %d", ErrTokenExpired, retrieveErr.Response.StatusCode)
		}
		// Transport-level failure: the refresh token may still be valid, so
		// the record is retained.
		m.logger.Error("token refresh unreachable", "user_id", userID, "error", err)
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	// tok.RefreshToken is the rotated token when the provider issued one,
	// otherwise the previous token is carried forward.
	m.store.SaveCredential(userID, Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiryFrom(tok, m.now()),
		RemoteUserID: cred.RemoteUserID,
	})

	m.logger.Info("token refreshed", "user_id", userID)
	return tok.AccessToken, nil
}

// Status reports the connection state for a user without touching upstream.
func (m *TokenManager) Status(userID string) ConnectionStatus {
	cred, ok := m.store.GetCredential(userID)
	if !ok {
		return ConnectionStatus{Connected: false}
	}
	return ConnectionStatus{
		Connected:   true,
		WhoopUserID: cred.RemoteUserID,
		ExpiresAt:   cred.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

// Disconnect removes a user's credential record. Reports whether one existed.
func (m *TokenManager) Disconnect(userID string) bool {
	if _, ok := m.store.GetCredential(userID); !ok {
		return false
	}
	m.store.DeleteCredential(userID)
	m.logger.Info("whoop disconnected", "user_id", userID)
	return true
}

func (m *TokenManager) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[userID] = lock
	}
	return lock
}
