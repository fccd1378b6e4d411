package core

import (
	"context"
	"sync"
	"time"
)

// memoryLedgerStore is an in-memory LedgerStore used across the core
// package's tests, standing in for RedisLedgerStore the way the pack's
// generic-store pattern pairs an interface with a production and an
// in-memory implementation.
type memoryLedgerStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
	versions map[string]ProfileVersion
	leases   map[string]string

	// failReadsN, when > 0, makes the next N ReadProfile calls return a
	// transient error before succeeding.
	failReadsN int
	// conflictWritesN makes the next N ConditionalWrite calls for any user
	// return ErrVersionConflict regardless of match version.
	conflictWritesN int
}

func newMemoryLedgerStore() *memoryLedgerStore {
	return &memoryLedgerStore{
		profiles: make(map[string]Profile),
		versions: make(map[string]ProfileVersion),
		leases:   make(map[string]string),
	}
}

func (m *memoryLedgerStore) ReadProfile(ctx context.Context, userID string) (ReadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReadsN > 0 {
		m.failReadsN--
		return ReadResult{}, &TransientError{}
	}
	p, ok := m.profiles[userID]
	if !ok {
		return ReadResult{Data: nil, Version: 0}, nil
	}
	cp := p
	cp.Processed = append([]Record(nil), p.Processed...)
	return ReadResult{Data: &cp, Version: m.versions[userID]}, nil
}

func (m *memoryLedgerStore) ConditionalWrite(ctx context.Context, userID string, profile Profile, match ProfileVersion) (ProfileVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflictWritesN > 0 {
		m.conflictWritesN--
		return 0, ErrVersionConflict
	}
	if m.versions[userID] != match {
		return 0, ErrVersionConflict
	}
	m.versions[userID]++
	m.profiles[userID] = profile
	return m.versions[userID], nil
}

func (m *memoryLedgerStore) AcquireLease(ctx context.Context, userID, nodeID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.leases[userID]; ok && existing != nodeID {
		return false, nil
	}
	m.leases[userID] = nodeID
	return true, nil
}

func (m *memoryLedgerStore) RenewLease(ctx context.Context, userID, nodeID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leases[userID] == nodeID, nil
}

func (m *memoryLedgerStore) ReleaseLease(ctx context.Context, userID, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leases[userID] == nodeID {
		delete(m.leases, userID)
	}
	return nil
}

// stubTransport is a Transport fake that records published envelopes
// in-process, used where dispatcher/broadcast tests need to observe
// publish calls without a network.
type stubTransport struct {
	mu        sync.Mutex
	published []publishedMessage
	publishErr error
}

type publishedMessage struct {
	Topic   string
	Payload any
}

func (s *stubTransport) Publish(ctx context.Context, topic string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publishErr != nil {
		return s.publishErr
	}
	s.published = append(s.published, publishedMessage{Topic: topic, Payload: payload})
	return nil
}

func (s *stubTransport) Subscribe(ctx context.Context, topic string) <-chan InboundMessage {
	ch := make(chan InboundMessage)
	close(ch)
	return ch
}

func (s *stubTransport) Unsubscribe(topic string) {}

func (s *stubTransport) snapshot() []publishedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]publishedMessage(nil), s.published...)
}
