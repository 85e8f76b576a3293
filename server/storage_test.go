package server

import (
	"testing"
	"time"
)

func TestCredentialOverwriteOnSet(t *testing.T) {
	store := NewInMemoryStore()

	store.SaveCredential("u1", Credential{AccessToken: "first", RemoteUserID: "999"})
	store.SaveCredential("u1", Credential{AccessToken: "second"})

	cred, ok := store.GetCredential("u1")
	if !ok {
		t.Fatalf("credential missing")
	}
	if cred.AccessToken != "second" {
		t.Fatalf("last write must win, got %q", cred.AccessToken)
	}
	if cred.RemoteUserID != "" {
		t.Fatalf("overwrite must not merge fields, got %q", cred.RemoteUserID)
	}
	if store.CredentialCount() != 1 {
		t.Fatalf("expected one record, got %d", store.CredentialCount())
	}
}

func TestDeleteCredential(t *testing.T) {
	store := NewInMemoryStore()
	store.SaveCredential("u1", Credential{AccessToken: "t", ExpiresAt: time.Now()})
	store.DeleteCredential("u1")
	if _, ok := store.GetCredential("u1"); ok {
		t.Fatalf("credential should be gone")
	}
	// Deleting a missing record is a no-op.
	store.DeleteCredential("u1")
}

func TestUserIDsSorted(t *testing.T) {
	store := NewInMemoryStore()
	store.SaveCredential("charlie", Credential{})
	store.SaveCredential("alice", Credential{})
	store.SaveCredential("bob", Credential{})

	ids := store.UserIDs()
	want := []string{"alice", "bob", "charlie"}
	if len(ids) != len(want) {
		t.Fatalf("unexpected length: got %d want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("element %d mismatch: got %q want %q", i, ids[i], want[i])
		}
	}
}

func TestPendingAuthConsumeOnce(t *testing.T) {
	store := NewInMemoryStore()
	store.SavePendingAuth("s1", "u1")

	userID, ok := store.ConsumePendingAuth("s1")
	if !ok || userID != "u1" {
		t.Fatalf("expected consume to yield u1, got %q %v", userID, ok)
	}
	if _, ok := store.ConsumePendingAuth("s1"); ok {
		t.Fatalf("state must not be consumable twice")
	}
	if _, ok := store.ConsumePendingAuth("never-issued"); ok {
		t.Fatalf("unknown state must not consume")
	}
}

func TestNewStateEntropy(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s := NewState()
		// 32 random bytes base64url-encoded without padding.
		if len(s) != 43 {
			t.Fatalf("unexpected state length %d for %q", len(s), s)
		}
		if seen[s] {
			t.Fatalf("duplicate state generated: %q", s)
		}
		seen[s] = true
	}
}
