package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBroadcasterPublishFormatsOccurredAtAsRFC3339(t *testing.T) {
	transport := &stubTransport{}
	b := NewBroadcaster(transport, nil, nil)

	rec := Record{TxnID: "A", Delta: 10, BalanceAfter: 10, Actor: "bot", Source: SourceBot, ProcessedAt: 0}
	payload := b.Publish(context.Background(), "u1", rec)

	require.Equal(t, "1970-01-01T00:00:00Z", payload.OccurredAt)
	require.Equal(t, int64(10), payload.Balance)

	published := transport.snapshot()
	require.Len(t, published, 1)
	require.Equal(t, EventsTopic("u1"), published[0].Topic)
}

func TestBroadcasterPublishSwallowsTransportErrors(t *testing.T) {
	transport := &stubTransport{publishErr: errPublishFailed}
	b := NewBroadcaster(transport, nil, nil)

	require.NotPanics(t, func() {
		b.Publish(context.Background(), "u1", Record{TxnID: "A"})
	})
}

var errPublishFailed = &TransientError{}
