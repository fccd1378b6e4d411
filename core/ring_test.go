package core

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestNewRingRejectsNonPositiveCapacity(t *testing.T) {
	_, err := NewRing(0, nil)
	require.Error(t, err)

	_, err = NewRing(-1, nil)
	require.Error(t, err)
}

func TestRingRecordInsertsNewTxn(t *testing.T) {
	r, err := NewRing(4, nil)
	require.NoError(t, err)

	inserted, stored := r.Record(Record{TxnID: "A", BalanceAfter: 10})
	require.True(t, inserted)
	require.Equal(t, "A", stored.TxnID)
	require.Equal(t, 1, r.Len())
}

func TestRingRecordIsIdempotentOnReplay(t *testing.T) {
	r, err := NewRing(4, nil)
	require.NoError(t, err)

	r.Record(Record{TxnID: "A", BalanceAfter: 10})
	inserted, stored := r.Record(Record{TxnID: "A", BalanceAfter: 999})
	require.False(t, inserted)
	require.Equal(t, int64(10), stored.BalanceAfter, "first-writer-wins: replay delta must not mutate the stored record")
	require.Equal(t, 1, r.Len())
}

func TestRingEvictsOldestWhenFull(t *testing.T) {
	r, err := NewRing(64, nil)
	require.NoError(t, err)

	for i := 1; i <= 65; i++ {
		txnID := fmt.Sprintf("T%d", i)
		inserted, _ := r.Record(Record{TxnID: txnID, BalanceAfter: int64(i)})
		require.True(t, inserted)
	}

	require.Equal(t, 64, r.Len())
	_, ok := r.Get("T1")
	require.False(t, ok, "oldest txn should have been evicted")
	_, ok = r.Get("T2")
	require.True(t, ok, "second-oldest txn should remain")
	_, ok = r.Get("T65")
	require.True(t, ok)

	processed := r.ListOldestFirst()
	expected := make([]Record, 0, 64)
	for i := 2; i <= 65; i++ {
		expected = append(expected, Record{TxnID: fmt.Sprintf("T%d", i), BalanceAfter: int64(i)})
	}
	// testify's require.Equal would just say "not equal" for a 64-element
	// ordered-slice mismatch; cmp.Diff pinpoints which element and field
	// drifted, which matters once eviction order is at stake.
	if diff := cmp.Diff(expected, processed); diff != "" {
		t.Fatalf("ListOldestFirst() mismatch (-want +got):\n%s", diff)
	}
}

func TestRingReplayAfterEvictionReinserts(t *testing.T) {
	r, err := NewRing(64, nil)
	require.NoError(t, err)
	for i := 1; i <= 65; i++ {
		r.Record(Record{TxnID: fmt.Sprintf("T%d", i), BalanceAfter: int64(i)})
	}
	// T1 was evicted; replaying it must look like a fresh transaction (S3).
	inserted, _ := r.Record(Record{TxnID: "T1", BalanceAfter: 66})
	require.True(t, inserted)
	_, ok := r.Get("T2")
	require.False(t, ok, "re-inserting T1 evicts the new oldest, T2")
}

func TestRingSeedAppliedOldestFirst(t *testing.T) {
	seed := []Record{
		{TxnID: "A", BalanceAfter: 1},
		{TxnID: "B", BalanceAfter: 2},
	}
	r, err := NewRing(4, seed)
	require.NoError(t, err)
	require.Equal(t, 2, r.Len())
	newest := r.ListNewestFirst()
	require.Equal(t, "B", newest[0].TxnID)
	require.Equal(t, "A", newest[1].TxnID)
}

func TestRingListNewestFirstOrder(t *testing.T) {
	r, err := NewRing(4, nil)
	require.NoError(t, err)
	r.Record(Record{TxnID: "A"})
	r.Record(Record{TxnID: "B"})
	r.Record(Record{TxnID: "C"})
	got := r.ListNewestFirst()
	require.Equal(t, []string{"C", "B", "A"}, []string{got[0].TxnID, got[1].TxnID, got[2].TxnID})
}
