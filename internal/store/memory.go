package store

import (
	"context"
	"sync"
)

// Memory keeps records in process memory
type Memory struct {
	mu      sync.RWMutex
	records map[string]AuditRecord
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{records: make(map[string]AuditRecord)}
}

// Put implements Writer
func (m *Memory) Put(ctx context.Context, record AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.records[record.ID] = cloneRecord(record)
	m.mu.Unlock()
	return nil
}

// Get returns the record with id
func (m *Memory) Get(_ context.Context, id string) (AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[id]
	if !ok {
		return AuditRecord{}, ErrNotFound
	}
	return cloneRecord(record), nil
}

// List implements Lister
func (m *Memory) List(ctx context.Context) ([]AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	records := make([]AuditRecord, 0, len(m.records))
	for _, r := range m.records {
		records = append(records, cloneRecord(r))
	}
	m.mu.RUnlock()

	sortNewestFirst(records)
	return records, nil
}

// Len returns the number of stored records
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close is a no-op
func (m *Memory) Close() error {
	return nil
}
