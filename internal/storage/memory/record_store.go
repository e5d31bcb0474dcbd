package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/virtual-tryon/internal/tryon"
)

// RecordStore provides an in-memory implementation for development/testing.
type RecordStore struct {
	mu        sync.RWMutex
	ids       map[string]struct{}
	bySession map[string][]tryon.TryOnRecord
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		ids:       make(map[string]struct{}),
		bySession: make(map[string][]tryon.TryOnRecord),
	}
}

// Save appends a record to its session.
func (s *RecordStore) Save(_ context.Context, record tryon.TryOnRecord) error {
	if record.ID == "" || record.SessionID == "" {
		return errors.New("record id and session id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ids[record.ID]; exists {
		return errors.New("record already exists")
	}
	s.ids[record.ID] = struct{}{}
	record.BlobURIs = append([]string(nil), record.BlobURIs...)
	s.bySession[record.SessionID] = append(s.bySession[record.SessionID], record)
	return nil
}

// FindBySession returns up to limit records in insertion order. limit <= 0 returns all.
func (s *RecordStore) FindBySession(_ context.Context, sessionID string, limit int) ([]tryon.TryOnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.bySession[sessionID]
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	out := make([]tryon.TryOnRecord, len(records))
	copy(out, records)
	return out, nil
}
