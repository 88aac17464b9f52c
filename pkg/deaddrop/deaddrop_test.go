package deaddrop

import (
	"bytes"
	"crypto/sha256"
	"testing"
	"time"
)

func testDropAndToken(seed byte) ([32]byte, [32]byte) {
	drop := DeriveDropID([]byte{seed, 'r'})
	token := DeriveAccessToken([]byte{seed, 's'})
	return drop, token
}

// TestTTLExpiry covers the dead-drop TTL scenario: ttl=0,
// store, sleep, retrieve yields empty. The sweep's removed count is
// checked by TestSweepRemovesExpired.
func TestTTLExpiry(t *testing.T) {
	cfg := Config{MessageTTL: 0, MaxMessages: 10, PollInterval: time.Second}
	store := NewStore(cfg, NewMemoryStorage())

	drop, token := testDropAndToken(1)
	if _, err := store.Store(drop, token, []byte("expires immediately")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	msgs, err := store.Retrieve(token)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("got %d messages, want 0 (expired)", len(msgs))
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	cfg := Config{MessageTTL: 0, MaxMessages: 10, PollInterval: time.Second}
	store := NewStore(cfg, NewMemoryStorage())

	drop, token := testDropAndToken(2)
	if _, err := store.Store(drop, token, []byte("x")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	removed, err := store.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("Sweep removed %d, want 1", removed)
	}
}

// TestCapacity covers the dead-drop capacity scenario:
// max_messages=2, store twice ok, third store fails DropFull.
func TestCapacity(t *testing.T) {
	cfg := Config{MessageTTL: time.Hour, MaxMessages: 2, PollInterval: time.Second}
	store := NewStore(cfg, NewMemoryStorage())

	drop, token := testDropAndToken(3)
	if _, err := store.Store(drop, token, []byte("1")); err != nil {
		t.Fatalf("first store: %v", err)
	}
	if _, err := store.Store(drop, token, []byte("2")); err != nil {
		t.Fatalf("second store: %v", err)
	}
	if _, err := store.Store(drop, token, []byte("3")); err != ErrDropFull {
		t.Fatalf("third store = %v, want ErrDropFull", err)
	}
}

// TestTokenIsolation is P8: retrieval with an unknown token returns
// empty and leaves state unchanged.
func TestTokenIsolation(t *testing.T) {
	cfg := DefaultConfig()
	store := NewStore(cfg, NewMemoryStorage())

	drop, token := testDropAndToken(4)
	if _, err := store.Store(drop, token, []byte("secret")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	unknown := sha256.Sum256([]byte("never stored"))
	msgs, err := store.Retrieve(unknown)
	if err != nil {
		t.Fatalf("Retrieve unknown token: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("unknown token returned %d messages, want 0", len(msgs))
	}

	// The real token's message must still be there.
	real, err := store.Retrieve(token)
	if err != nil {
		t.Fatalf("Retrieve real token: %v", err)
	}
	if len(real) != 1 || !bytes.Equal(real[0].Payload, []byte("secret")) {
		t.Fatal("unknown-token retrieval disturbed the real drop's state")
	}
}

// TestStoreThenRetrieveIdempotence: store then retrieve yields the
// payload once; a second retrieve yields empty.
func TestStoreThenRetrieveIdempotence(t *testing.T) {
	cfg := DefaultConfig()
	store := NewStore(cfg, NewMemoryStorage())

	drop, token := testDropAndToken(5)
	if _, err := store.Store(drop, token, []byte("once")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	first, err := store.Retrieve(token)
	if err != nil {
		t.Fatalf("first Retrieve: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first Retrieve returned %d messages, want 1", len(first))
	}

	second, err := store.Retrieve(token)
	if err != nil {
		t.Fatalf("second Retrieve: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second Retrieve returned %d messages, want 0", len(second))
	}
}

func TestTokenReuseAfterRetrieveStillWorks(t *testing.T) {
	cfg := DefaultConfig()
	store := NewStore(cfg, NewMemoryStorage())

	drop, token := testDropAndToken(6)
	if _, err := store.Store(drop, token, []byte("first")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := store.Retrieve(token); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	// Same token used again later by the same recipient must still
	// resolve to the same drop_id (index not GC'd on retrieval).
	if _, err := store.Store(drop, token, []byte("second")); err != nil {
		t.Fatalf("re-store under same token: %v", err)
	}
	msgs, err := store.Retrieve(token)
	if err != nil {
		t.Fatalf("Retrieve after re-store: %v", err)
	}
	if len(msgs) != 1 || !bytes.Equal(msgs[0].Payload, []byte("second")) {
		t.Fatal("token reuse did not resolve to the same drop")
	}
}
