package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synnergy-bridge/economy-bridge/auditsink/store"
	"github.com/synnergy-bridge/economy-bridge/core"
)

func samplePayload() core.UpdatePayload {
	return core.UpdatePayload{
		TxnID:      "A",
		UserID:     "u1",
		Delta:      10,
		Balance:    10,
		Actor:      "bot",
		Source:     core.SourceBot,
		OccurredAt: "2026-08-01T00:00:00Z",
	}
}

func signedPayload(t *testing.T, secret []byte, payload core.UpdatePayload) string {
	t.Helper()
	canonical, err := core.Canonicalize(payload)
	require.NoError(t, err)
	return core.Sign(secret, canonical)
}

func TestIngestAcceptsFirstDelivery(t *testing.T) {
	secret := []byte("shared-secret")
	svc := NewAuditService(store.NewMemoryStore(), secret, nil)
	payload := samplePayload()
	sig := signedPayload(t, secret, payload)

	result, err := svc.Ingest(context.Background(), "node-1-A", sig, payload)
	require.NoError(t, err)
	require.True(t, result.Accepted)
	require.False(t, result.Deduped)
}

// TestIngestDedupesIdenticalReplay covers webhook-dedup property 6: identical
// Idempotency-Key and identical payload must yield exactly one Audit Row and
// a deduped response on the second call.
func TestIngestDedupesIdenticalReplay(t *testing.T) {
	secret := []byte("shared-secret")
	svc := NewAuditService(store.NewMemoryStore(), secret, nil)
	payload := samplePayload()
	sig := signedPayload(t, secret, payload)

	_, err := svc.Ingest(context.Background(), "node-1-A", sig, payload)
	require.NoError(t, err)

	result, err := svc.Ingest(context.Background(), "node-1-A", sig, payload)
	require.NoError(t, err)
	require.True(t, result.Accepted)
	require.True(t, result.Deduped)

	rows, err := svc.Query(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

// TestIngestConflictsOnDivergingPayload covers scenario 7: same
// Idempotency-Key, different payload, must return a conflict (409 at the
// controller layer) rather than silently accepting or overwriting.
func TestIngestConflictsOnDivergingPayload(t *testing.T) {
	secret := []byte("shared-secret")
	svc := NewAuditService(store.NewMemoryStore(), secret, nil)
	first := samplePayload()
	sig1 := signedPayload(t, secret, first)
	_, err := svc.Ingest(context.Background(), "node-1-A", sig1, first)
	require.NoError(t, err)

	second := first
	second.Delta = 999
	sig2 := signedPayload(t, secret, second)
	result, err := svc.Ingest(context.Background(), "node-1-A", sig2, second)
	require.NoError(t, err)
	require.True(t, result.Conflict)
	require.False(t, result.Accepted)
}

func TestIngestRejectsBadSignature(t *testing.T) {
	secret := []byte("shared-secret")
	svc := NewAuditService(store.NewMemoryStore(), secret, nil)
	payload := samplePayload()

	_, err := svc.Ingest(context.Background(), "node-1-A", "deadbeef", payload)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestQueryFiltersByUserAndOrdersNewestFirst(t *testing.T) {
	secret := []byte("shared-secret")
	st := store.NewMemoryStore()
	svc := NewAuditService(st, secret, nil)

	for i, txnID := range []string{"A", "B"} {
		p := samplePayload()
		p.TxnID = txnID
		p.UserID = "u1"
		_ = i
		sig := signedPayload(t, secret, p)
		_, err := svc.Ingest(context.Background(), "node-1-"+txnID, sig, p)
		require.NoError(t, err)
	}
	other := samplePayload()
	other.TxnID = "C"
	other.UserID = "u2"
	sig := signedPayload(t, secret, other)
	_, err := svc.Ingest(context.Background(), "node-1-C", sig, other)
	require.NoError(t, err)

	rows, err := svc.Query(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		require.Equal(t, "u1", r.UserID)
	}
	require.Equal(t, "B", rows[0].TxnID, "newest row first")
	require.Equal(t, "A", rows[1].TxnID)
}
