package kvstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fleetworks/invoicebot/internal/intake"
)

type memoryDraft struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryStore is the in-process backend (memory:// DSN). Drafts round-trip
// through JSON so callers never share a pointer with the store, matching
// the external-backend behavior.
type MemoryStore struct {
	opts Options
	now  func() time.Time

	mu     sync.Mutex
	drafts map[int64]memoryDraft
	dedup  map[string]time.Time
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:   opts.withDefaults(),
		now:    time.Now,
		drafts: map[int64]memoryDraft{},
		dedup:  map[string]time.Time{},
	}
}

func (s *MemoryStore) GetDraft(_ context.Context, chatID int64) (*intake.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.drafts[chatID]
	if !ok || s.now().After(entry.expiresAt) {
		delete(s.drafts, chatID)
		return nil, nil
	}
	var d intake.Draft
	if err := json.Unmarshal(entry.payload, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *MemoryStore) SetDraft(_ context.Context, chatID int64, d *intake.Draft) error {
	if d == nil {
		return ErrInvalidInput
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[chatID] = memoryDraft{payload: payload, expiresAt: s.now().Add(s.opts.SessionTTL)}
	return nil
}

func (s *MemoryStore) DeleteDraft(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, chatID)
	return nil
}

func (s *MemoryStore) Seen(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if expiresAt, ok := s.dedup[key]; ok && now.Before(expiresAt) {
		return true, nil
	}
	s.dedup[key] = now.Add(s.opts.DedupTTL)
	return false, nil
}

func (s *MemoryStore) Committed(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt, ok := s.dedup[key]
	return ok && s.now().Before(expiresAt), nil
}

func (s *MemoryStore) Close() error { return nil }
