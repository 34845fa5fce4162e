package state

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"

	"salon/internal/model"
)

// PebbleStore keeps the basket snapshot in a PebbleDB directory.
// Several sessions may share one directory; keys are prefixed by session.
type PebbleStore struct {
	db      *pebble.DB
	session string
}

func NewPebbleStore(dir string, session string) (*PebbleStore, error) {
	opts := &pebble.Options{
		// snapshots are tiny; keep the memtable small
		MemTableSize: 4 << 20,
	}
	d, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: d, session: session}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func (p *PebbleStore) Save(items []model.LineItem) error {
	b, err := encodeItems(items)
	if err != nil {
		return err
	}
	if err := p.db.Set([]byte(sessionKey(p.session)), b, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	return nil
}

func (p *PebbleStore) Load() (Snapshot, error) {
	v, closer, err := p.db.Get([]byte(sessionKey(p.session)))
	if errors.Is(err, pebble.ErrNotFound) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()
	// v is only valid until closer.Close
	return decodeItems(append([]byte(nil), v...)), nil
}

// setRaw writes bytes without encoding; tests use it to plant corrupt snapshots.
func (p *PebbleStore) setRaw(raw []byte) error {
	return p.db.Set([]byte(sessionKey(p.session)), raw, pebble.Sync)
}
