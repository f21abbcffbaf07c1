package mirror

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemory returns an in-process mirror. It keeps the same lazy-expiry
// semantics as the redis backend so embedding callers see one behavior.
func NewMemory() Store {
	return &memoryStore{records: make(map[string]Record)}
}

func (s *memoryStore) Put(_ context.Context, key string, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = cloneRecord(record)
	return nil
}

func (s *memoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	if !ok {
		return Record{}, false, nil
	}
	if !record.ExpiresAt.IsZero() && time.Now().After(record.ExpiresAt) {
		delete(s.records, key)
		return Record{}, false, nil
	}
	return cloneRecord(record), true, nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}

func cloneRecord(in Record) Record {
	out := in
	if len(in.Value) > 0 {
		out.Value = append([]byte(nil), in.Value...)
	}
	return out
}
