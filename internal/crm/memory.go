package crm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Gateway used in development mode and tests.
// It implements the same query semantics as the real backends.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string]Record // entityType -> id -> record
	err  error
}

// NewMemory creates an empty in-memory gateway.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]Record)}
}

// SetError makes every subsequent call fail with err until reset with
// nil. Used to simulate gateway outages.
func (m *Memory) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Close is a no-op.
func (m *Memory) Close() {}

// Ping reports the injected error, if any.
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

// Retrieve fetches a record by id, or (nil, nil) when absent.
func (m *Memory) Retrieve(ctx context.Context, entityType, id string, fields []string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}

	rec, ok := m.data[entityType][id]
	if !ok {
		return nil, nil
	}
	return projectFields(cloneRecord(rec), fields), nil
}

// RetrieveMultiple filters, orders, and limits in process.
func (m *Memory) RetrieveMultiple(ctx context.Context, q Query) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}

	var records []Record
	for _, rec := range m.data[q.EntityType] {
		if matchesAll(rec, q.Conditions) {
			records = append(records, cloneRecord(rec))
		}
	}

	if q.OrderBy != "" {
		field := q.OrderBy
		sort.SliceStable(records, func(i, j int) bool {
			return fieldText(records[i], field) < fieldText(records[j], field)
		})
	}
	if q.Limit > 0 && len(records) > q.Limit {
		records = records[:q.Limit]
	}

	for i := range records {
		records[i] = projectFields(records[i], q.Fields)
	}
	return records, nil
}

// Create stores a copy of fields under a fresh id.
func (m *Memory) Create(ctx context.Context, entityType string, fields map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}

	// v7 ids are time-ordered, giving a stable tiebreak for records
	// created within the same timestamp
	id := uuid.Must(uuid.NewV7()).String()
	rec := make(Record, len(fields)+1)
	for k, v := range fields {
		rec[k] = v
	}
	rec[FieldID] = id

	if m.data[entityType] == nil {
		m.data[entityType] = make(map[string]Record)
	}
	m.data[entityType][id] = rec
	return id, nil
}

// Update merges fields into an existing record.
func (m *Memory) Update(ctx context.Context, entityType, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	rec, ok := m.data[entityType][id]
	if !ok {
		return fmt.Errorf("record %s/%s not found", entityType, id)
	}
	for k, v := range fields {
		rec[k] = v
	}
	return nil
}

// Delete removes a record; deleting a missing record is a no-op.
func (m *Memory) Delete(ctx context.Context, entityType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.data[entityType], id)
	return nil
}

// Assign rewrites the record's owner field.
func (m *Memory) Assign(ctx context.Context, entityType, id, assigneeID string) error {
	return m.Update(ctx, entityType, id, map[string]any{FieldOwner: assigneeID})
}

func matchesAll(rec Record, conds []Condition) bool {
	for _, c := range conds {
		have := fieldText(rec, c.Field)
		want := fmt.Sprintf("%v", c.Value)
		switch c.Op {
		case OpLike:
			if !strings.Contains(strings.ToLower(have), strings.ToLower(want)) {
				return false
			}
		default:
			if have != want {
				return false
			}
		}
	}
	return true
}

func fieldText(rec Record, field string) string {
	v, ok := rec[field]
	if !ok {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func cloneRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
