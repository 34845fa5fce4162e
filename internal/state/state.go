package state

import (
	"encoding/json"
	"fmt"
	"sync"

	"salon/internal/model"
)

// BasketKey is the storage key of the basket snapshot.
const BasketKey = "salon_basket"

// Snapshot is the result of Load. Found is false when nothing usable was stored.
// Corrupt carries the decode error when stored bytes could not be parsed; the
// snapshot is then treated as absent.
type Snapshot struct {
	Items   []model.LineItem
	Found   bool
	Corrupt error
}

// Store is the session-scoped durable mirror of the basket.
// Save overwrites the previous snapshot and must report storage failures.
// Load only returns an error for I/O failures, never for unparseable content.
type Store interface {
	Save(items []model.LineItem) error
	Load() (Snapshot, error)
	Close() error
}

func sessionKey(session string) string {
	if session == "" {
		return BasketKey
	}
	return session + "/" + BasketKey
}

func encodeItems(items []model.LineItem) ([]byte, error) {
	if items == nil {
		items = []model.LineItem{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode basket: %w", err)
	}
	return b, nil
}

func decodeItems(raw []byte) Snapshot {
	var items []model.LineItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return Snapshot{Corrupt: fmt.Errorf("decode basket: %w", err)}
	}
	for i, li := range items {
		if li.ID == "" || li.Type == "" {
			return Snapshot{Corrupt: fmt.Errorf("decode basket: entry %d has no identity", i)}
		}
	}
	return Snapshot{Items: items, Found: true}
}

// InMemoryStore is a thread-safe map store, used in tests and as a no-disk fallback.
type InMemoryStore struct {
	mu      sync.RWMutex
	session string
	data    map[string][]byte
}

func NewInMemoryStore(session string) *InMemoryStore {
	return &InMemoryStore{session: session, data: make(map[string][]byte)}
}

func (s *InMemoryStore) Save(items []model.LineItem) error {
	b, err := encodeItems(items)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sessionKey(s.session)] = b
	return nil
}

func (s *InMemoryStore) Load() (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.data[sessionKey(s.session)]
	if !ok {
		return Snapshot{}, nil
	}
	return decodeItems(raw), nil
}

// SetRaw stores raw bytes under the basket key, bypassing encoding.
func (s *InMemoryStore) SetRaw(raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sessionKey(s.session)] = append([]byte(nil), raw...)
}

func (s *InMemoryStore) Close() error { return nil }
