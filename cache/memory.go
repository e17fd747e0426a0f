package cache

import (
	"context"
	"sync"
)

type memoryStore struct {
	mutex   sync.RWMutex
	records map[Key]Record
}

var _ Store = (*memoryStore)(nil)

// NewMemory returns a Store that lives only as long as the process. Save is a
// no-op.
func NewMemory() Store {
	return &memoryStore{records: make(map[Key]Record)}
}

func (m *memoryStore) Get(_ context.Context, key Key) (Record, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	rec, ok := m.records[key]
	return rec, ok, nil
}

func (m *memoryStore) Put(_ context.Context, record Record) error {
	m.mutex.Lock()
	m.records[record.Key] = record
	m.mutex.Unlock()
	return nil
}

func (m *memoryStore) EvictStale(_ context.Context, keep func(Record) bool) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var removed int
	for key, rec := range m.records {
		if !keep(rec) {
			delete(m.records, key)
			removed++
		}
	}
	return removed, nil
}

func (m *memoryStore) Len(_ context.Context) (int, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.records), nil
}

func (m *memoryStore) Save(_ context.Context) error {
	return nil
}

func (m *memoryStore) Close(_ context.Context) error {
	return nil
}
