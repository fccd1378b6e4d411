// Package services holds the Audit Sink Service's business logic (C9):
// signature verification, canonicalization, and the dedup/conflict decision,
// delegating persistence to store.Store. Mirrors walletserver/services'
// controller-delegates-to-service split.
package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/synnergy-bridge/economy-bridge/auditsink/store"
	"github.com/synnergy-bridge/economy-bridge/core"
)

// ErrBadSignature is returned when the submitted signature does not match
// the server's recomputed HMAC over the canonical payload.
var ErrBadSignature = &signatureError{}

type signatureError struct{}

func (e *signatureError) Error() string { return "auditsink: signature mismatch" }

// IngestResult is what AuditService.Ingest reports back to the controller
// for status-code selection.
type IngestResult struct {
	Accepted bool
	Deduped  bool
	Conflict bool
}

// AuditService implements the §4.9 ingestion algorithm.
type AuditService struct {
	store  store.Store
	secret []byte
	log    *logrus.Logger
}

// NewAuditService constructs an AuditService verifying signatures against
// secret and persisting through backingStore.
func NewAuditService(backingStore store.Store, secret []byte, log *logrus.Logger) *AuditService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AuditService{store: backingStore, secret: secret, log: log}
}

// Ingest verifies sig over payload's canonical JSON, then records the
// delivery under idempotencyKey, deduping or conflicting per §4.9 steps 3-7.
func (s *AuditService) Ingest(ctx context.Context, idempotencyKey, sig string, payload core.UpdatePayload) (IngestResult, error) {
	canonical, err := core.Canonicalize(payload)
	if err != nil {
		return IngestResult{}, err
	}
	if !core.VerifySignature(s.secret, canonical, sig) {
		return IngestResult{}, ErrBadSignature
	}
	payloadHash := core.PayloadHash(canonical)

	row := store.AuditRow{
		TxnID:     payload.TxnID,
		UserID:    payload.UserID,
		Delta:     payload.Delta,
		Actor:     payload.Actor,
		Source:    string(payload.Source),
		Reason:    payload.Reason,
		CreatedAt: time.Now().UTC(),
	}

	outcome, err := s.store.RecordDelivery(ctx, idempotencyKey, payloadHash, row)
	if err != nil {
		return IngestResult{}, err
	}
	switch outcome {
	case store.Inserted:
		return IngestResult{Accepted: true, Deduped: false}, nil
	case store.Deduped:
		return IngestResult{Accepted: true, Deduped: true}, nil
	default: // store.Conflict
		return IngestResult{Accepted: false, Conflict: true}, nil
	}
}

// Query returns up to limit Audit Rows newest-first for userID (empty means
// all users), per the GET /log/transactions contract.
func (s *AuditService) Query(ctx context.Context, userID string, limit int) ([]store.AuditRow, error) {
	return s.store.ListAuditRows(ctx, userID, limit)
}
