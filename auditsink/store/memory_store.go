package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in tests, pairing with
// PostgresStore the way the reference fleet pairs a production store with a
// generic in-memory implementation for the same interface.
type MemoryStore struct {
	mu        sync.Mutex
	deliveries map[string]string // key -> payloadHash
	rows       map[string]AuditRow
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deliveries: make(map[string]string),
		rows:       make(map[string]AuditRow),
	}
}

func (m *MemoryStore) RecordDelivery(ctx context.Context, idempotencyKey, payloadHash string, row AuditRow) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.deliveries[idempotencyKey]; ok {
		if existing == payloadHash {
			return Deduped, nil
		}
		return Conflict, nil
	}
	m.deliveries[idempotencyKey] = payloadHash
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if _, exists := m.rows[row.TxnID]; !exists {
		m.rows[row.TxnID] = row
	}
	return Inserted, nil
}

func (m *MemoryStore) ListAuditRows(ctx context.Context, userID string, limit int) ([]AuditRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	var out []AuditRow
	for _, r := range m.rows {
		if userID == "" || r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
