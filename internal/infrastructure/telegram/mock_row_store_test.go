package telegram

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Hwoarang91/afrodita-sub000/internal/domain"
	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/crypto"
)

// memRowStore implements rowStore in memory for testing
type memRowStore struct {
	mu   sync.Mutex
	rows map[string]string
}

func newMemRowStore() *memRowStore {
	return &memRowStore{rows: make(map[string]string)}
}

func (s *memRowStore) Load(ctx context.Context, sessionID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.rows[sessionID]
	return blob, ok, nil
}

func (s *memRowStore) Update(ctx context.Context, sessionID string, fn func(blob string) (string, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.rows[sessionID]
	if !ok {
		return domain.ErrSessionRowMissing
	}
	next, err := fn(blob)
	if err != nil {
		return err
	}
	s.rows[sessionID] = next
	return nil
}

func (s *memRowStore) create(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[sessionID] = ""
}

// Ensure memRowStore implements rowStore interface
var _ rowStore = (*memRowStore)(nil)

// testCipher creates a BlobCipher with a fixed test key
func testCipher(t *testing.T) *crypto.BlobCipher {
	t.Helper()
	key, err := crypto.ParseKey("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("Failed to parse test key: %v", err)
	}
	cipher, err := crypto.NewBlobCipher(key)
	if err != nil {
		t.Fatalf("Failed to create test cipher: %v", err)
	}
	return cipher
}

func testKV(t *testing.T, sessionID string) (*EncryptedKV, *memRowStore) {
	t.Helper()
	store := newMemRowStore()
	store.create(sessionID)
	kv := NewEncryptedKV(sessionID, store, testCipher(t), zerolog.Nop())
	return kv, store
}
