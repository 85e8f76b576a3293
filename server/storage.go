package server

import (
	"crypto/rand"
	"encoding/base64"
	"sort"
	"sync"
)

// Store abstracts the credential and pending-authorization registries so a
// real backing store can be swapped in. Implementations must provide
// last-write-wins overwrite semantics and read-once consumption of pending
// entries.
type Store interface {
	SaveCredential(userID string, cred Credential)
	GetCredential(userID string) (Credential, bool)
	DeleteCredential(userID string)
	CredentialCount() int
	UserIDs() []string

	SavePendingAuth(state, userID string)
	ConsumePendingAuth(state string) (string, bool)
}

// InMemoryStore keeps ephemeral state for credentials and pending
// authorizations. Everything is lost on restart.
type InMemoryStore struct {
	mu          sync.RWMutex
	credentials map[string]Credential
	pendingAuth map[string]string
}

// NewInMemoryStore constructs the store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		credentials: make(map[string]Credential),
		pendingAuth: make(map[string]string),
	}
}

// NewState generates a cryptographically random URL-safe state token.
func NewState() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in no shape to mint
		// CSRF tokens at all.
		panic("state generation: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// SaveCredential stores or replaces the credential record for a user.
func (s *InMemoryStore) SaveCredential(userID string, cred Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[userID] = cred
}

// GetCredential retrieves a credential record by application user ID.
func (s *InMemoryStore) GetCredential(userID string) (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.credentials[userID]
	return cred, ok
}

// DeleteCredential removes a credential record.
func (s *InMemoryStore) DeleteCredential(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.credentials, userID)
}

// CredentialCount reports how many users currently hold credentials.
func (s *InMemoryStore) CredentialCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.credentials)
}

// UserIDs lists connected application user IDs in stable order.
func (s *InMemoryStore) UserIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.credentials))
	for id := range s.credentials {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SavePendingAuth records a state token awaiting its OAuth callback.
func (s *InMemoryStore) SavePendingAuth(state, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingAuth[state] = userID
}

// ConsumePendingAuth retrieves and removes a pending authorization. A state
// token is honoured exactly once.
func (s *InMemoryStore) ConsumePendingAuth(state string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.pendingAuth[state]
	if !ok {
		return "", false
	}
	delete(s.pendingAuth, state)
	return userID, true
}
