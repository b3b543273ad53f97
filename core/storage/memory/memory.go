// Package memory provides a process-local session store used in tests
// and for bots that do not need sessions to survive restarts.
package memory

import (
	"context"
	"sync"

	"github.com/m3rciful/telemenu/core/storage"
)

// Store keeps session records in a map guarded by a RWMutex.
type Store struct {
	mu      sync.RWMutex
	records map[int64]storage.Record
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		records: make(map[int64]storage.Record),
	}
}

// Put inserts or replaces the record for rec.ChatID.
func (s *Store) Put(_ context.Context, rec storage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.ChatID] = cloneRecord(rec)
	return nil
}

// Get returns the record for the chat or storage.ErrNotFound.
func (s *Store) Get(_ context.Context, chatID int64) (storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[chatID]
	if !ok {
		return storage.Record{}, storage.ErrNotFound
	}
	return cloneRecord(rec), nil
}

// Delete removes the record for the chat if present.
func (s *Store) Delete(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, chatID)
	return nil
}

// List returns all stored records.
func (s *Store) List(_ context.Context) ([]storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, cloneRecord(rec))
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// cloneRecord copies the slices so callers cannot mutate stored state.
func cloneRecord(rec storage.Record) storage.Record {
	out := rec
	if rec.Menus != nil {
		out.Menus = append([]string(nil), rec.Menus...)
	}
	if rec.Messages != nil {
		out.Messages = make([]storage.AppMessage, len(rec.Messages))
		for i, m := range rec.Messages {
			cm := m
			if m.Buttons != nil {
				cm.Buttons = append([]string(nil), m.Buttons...)
			}
			out.Messages[i] = cm
		}
	}
	return out
}
