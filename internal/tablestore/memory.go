package tablestore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps tables in process memory. Used by tests and dry
// runs; nothing survives a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]*Table)}
}

func (s *MemoryStore) ReadTable(ctx context.Context, name string) (*Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("table %q not found", name)
	}
	return copyTable(t), nil
}

func (s *MemoryStore) WriteTable(ctx context.Context, table *Table) error {
	if table == nil || table.Name == "" {
		return fmt.Errorf("table name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table.Name] = copyTable(table)
	return nil
}

func (s *MemoryStore) AppendRows(ctx context.Context, name string, rows []Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[name]
	if !ok {
		return fmt.Errorf("table %q not found", name)
	}
	for _, row := range rows {
		t.Rows = append(t.Rows, copyRow(row))
	}
	return nil
}

func (s *MemoryStore) ClearTable(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[name]
	if !ok {
		return fmt.Errorf("table %q not found", name)
	}
	t.Rows = nil
	return nil
}

func copyTable(t *Table) *Table {
	out := &Table{
		Name:    t.Name,
		Headers: append([]string(nil), t.Headers...),
		Rows:    make([]Row, 0, len(t.Rows)),
	}
	for _, row := range t.Rows {
		out.Rows = append(out.Rows, copyRow(row))
	}
	return out
}

func copyRow(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
