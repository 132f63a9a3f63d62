package keystore

import (
	"context"
	"sync"

	"github.com/dropDatabas3/nickel/internal/keys"
)

// memoryStore implementa Store con un map en memoria.
// Útil para desarrollo y testing.
type memoryStore struct {
	mu   sync.RWMutex
	docs map[docKey]*keys.Key
}

type docKey struct {
	typ         keys.Type
	fingerprint string
	private     bool
}

// NewMemory crea un store de llaves en memoria.
func NewMemory() Store {
	return &memoryStore{docs: make(map[docKey]*keys.Key)}
}

func (s *memoryStore) Find(ctx context.Context, typ keys.Type, address string, private bool) (*keys.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, k := range s.docs {
		if id.typ != typ || id.private != private {
			continue
		}
		if k.HasAddress(address) {
			return clone(k), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryStore) Write(ctx context.Context, k *keys.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[docKey{k.Type, k.Fingerprint, k.Private}] = clone(k)
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, k *keys.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, docKey{k.Type, k.Fingerprint, k.Private})
	return nil
}

func (s *memoryStore) List(ctx context.Context, private bool) ([]*keys.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*keys.Key
	for id, k := range s.docs {
		if id.private == private {
			out = append(out, clone(k))
		}
	}
	return out, nil
}
