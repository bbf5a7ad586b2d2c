package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/ashureev/quoteworks/internal/domain"
)

// PebbleStore implements Repository on an embedded Pebble KV store.
// Each draft is one JSON value under its namespaced key, so a Set is atomic.
type PebbleStore struct {
	mu  sync.RWMutex
	db  *pebble.DB
	now func() time.Time
}

// NewPebble opens (or creates) a Pebble database at dir.
func NewPebble(dir string, opts ...Option) (*PebbleStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create pebble directory: %w", err)
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	o := buildOptions(opts)
	return &PebbleStore{db: db, now: o.now}, nil
}

func (s *PebbleStore) handle() (*pebble.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errors.New("pebble store closed")
	}
	return s.db, nil
}

// get copies the value out before releasing Pebble's buffer.
func (s *PebbleStore) get(key string) ([]byte, bool, error) {
	db, err := s.handle()
	if err != nil {
		return nil, false, err
	}
	value, closer, err := db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = closer.Close() }()

	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// Ping verifies the store is open and readable.
func (s *PebbleStore) Ping(_ context.Context) error {
	_, _, err := s.get("__ping__")
	return err
}

// Close closes the Pebble database.
func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("close pebble: %w", err)
	}
	return nil
}

// LoadDraft retrieves a seller's draft for a quote.
func (s *PebbleStore) LoadDraft(_ context.Context, ref domain.DraftRef) (*domain.ResponseDraft, error) {
	raw, ok, err := s.get(DraftKey(ref))
	if err != nil {
		return nil, fmt.Errorf("get draft: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var draft domain.ResponseDraft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	if draft.Items == nil {
		draft.Items = map[string]domain.ItemPriceEntry{}
	}
	draft.UpdatedAt = draft.UpdatedAt.UTC()
	return &draft, nil
}

// SaveDraft writes the whole draft document with a synced Set.
func (s *PebbleStore) SaveDraft(_ context.Context, ref domain.DraftRef, draft *domain.ResponseDraft) (*domain.ResponseDraft, error) {
	stored, err := stamp(ref, draft, s.now())
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encode draft: %w", err)
	}
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if err := db.Set([]byte(DraftKey(ref)), raw, pebble.Sync); err != nil {
		return nil, fmt.Errorf("set draft: %w", err)
	}
	return stored, nil
}

// DiscardDraft deletes the draft key. Deleting a missing key is a no-op.
func (s *PebbleStore) DiscardDraft(_ context.Context, ref domain.DraftRef) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if err := db.Delete([]byte(DraftKey(ref)), pebble.Sync); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

// DeleteUnownedDrafts removes draft keys written before drafts carried a
// seller ("quote-response-draft:<quoteID>" with no seller segment).
func (s *PebbleStore) DeleteUnownedDrafts(_ context.Context) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	prefix := []byte(draftKeyPrefix)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, fmt.Errorf("open draft iterator: %w", err)
	}

	var legacy [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.Contains(iter.Key()[len(prefix):], []byte(":")) {
			legacy = append(legacy, append([]byte(nil), iter.Key()...))
		}
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("close draft iterator: %w", err)
	}

	for _, key := range legacy {
		if err := db.Delete(key, pebble.Sync); err != nil {
			return 0, fmt.Errorf("delete unowned draft: %w", err)
		}
	}
	return int64(len(legacy)), nil
}

// GetManufacturerName reads a cached manufacturer name.
func (s *PebbleStore) GetManufacturerName(_ context.Context, supplierID int64) (string, bool, error) {
	raw, ok, err := s.get(manufacturerKey(supplierID))
	if err != nil {
		return "", false, fmt.Errorf("get manufacturer name: %w", err)
	}
	return string(raw), ok, nil
}

// PutManufacturerName caches a manufacturer name.
func (s *PebbleStore) PutManufacturerName(_ context.Context, supplierID int64, name string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if err := db.Set([]byte(manufacturerKey(supplierID)), []byte(name), pebble.NoSync); err != nil {
		return fmt.Errorf("set manufacturer name: %w", err)
	}
	return nil
}

var _ Repository = (*PebbleStore)(nil)
