package core

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Broadcaster is the Broadcast Emitter (C7): after a successful mutation it
// publishes the update payload to events:{userId}. A publish failure is
// logged but never fails the mutation — the ledger write already happened,
// so the next reader observes the new balance regardless (§4.7).
type Broadcaster struct {
	transport Transport
	metrics   *Metrics
	log       *logrus.Logger
}

// NewBroadcaster constructs a Broadcaster over transport.
func NewBroadcaster(transport Transport, metrics *Metrics, log *logrus.Logger) *Broadcaster {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Broadcaster{transport: transport, metrics: metrics, log: log}
}

// Publish emits the economy.update envelope for a newly-inserted Record.
func (b *Broadcaster) Publish(ctx context.Context, userID string, rec Record) UpdatePayload {
	payload := UpdatePayload{
		TxnID:      rec.TxnID,
		UserID:     userID,
		Delta:      rec.Delta,
		Balance:    rec.BalanceAfter,
		Actor:      rec.Actor,
		Source:     rec.Source,
		Reason:     rec.Reason,
		OccurredAt: time.UnixMilli(rec.ProcessedAt).UTC().Format(time.RFC3339),
	}
	env := UpdateEnvelope{Type: EnvelopeTypeUpdate, Payload: payload}
	if err := b.transport.Publish(ctx, EventsTopic(userID), env); err != nil {
		if b.metrics != nil {
			b.metrics.BroadcastFailures.Inc()
		}
		b.log.WithError(err).WithField("user_id", userID).Warn("broadcast: publish failed, ledger remains authoritative")
	}
	return payload
}
