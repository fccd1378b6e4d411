// Package controllers holds the Audit Sink Service's HTTP handlers:
// decode request, call AuditService, encode response and status code.
// Mirrors walletserver/controllers' shape.
package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/synnergy-bridge/economy-bridge/auditsink/services"
	"github.com/synnergy-bridge/economy-bridge/core"
)

// AuditController provides HTTP handlers for audit ingestion and query.
type AuditController struct {
	svc *services.AuditService
}

func NewAuditController(svc *services.AuditService) *AuditController {
	return &AuditController{svc: svc}
}

type ingestRequestBody struct {
	Payload        core.UpdatePayload `json:"payload"`
	Signature      string             `json:"signature"`
	IdempotencyKey string             `json:"idempotencyKey"`
}

type ingestResponseBody struct {
	Accepted bool `json:"accepted"`
	Deduped  bool `json:"deduped,omitempty"`
}

type errorResponseBody struct {
	Error string `json:"error"`
}

// Ingest handles POST /log/transactions (§4.9 steps 1-7).
func (c *AuditController) Ingest(w http.ResponseWriter, r *http.Request) {
	idemKey := r.Header.Get("Idempotency-Key")
	sig := r.Header.Get("X-Signature")

	var body ingestRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if idemKey == "" {
		idemKey = body.IdempotencyKey
	}
	if idemKey == "" {
		writeError(w, http.StatusBadRequest, "missing Idempotency-Key")
		return
	}
	if sig == "" {
		sig = body.Signature
	}
	if sig == "" {
		writeError(w, http.StatusUnauthorized, "missing X-Signature")
		return
	}
	if body.Payload.TxnID == "" {
		writeError(w, http.StatusBadRequest, "missing payload")
		return
	}

	result, err := c.svc.Ingest(r.Context(), idemKey, sig, body.Payload)
	if err == services.ErrBadSignature {
		writeError(w, http.StatusUnauthorized, "signature mismatch")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if result.Conflict {
		writeError(w, http.StatusConflict, "Idempotency key conflict")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ingestResponseBody{Accepted: result.Accepted, Deduped: result.Deduped})
}

// Query handles GET /log/transactions?userId=&limit=.
func (c *AuditController) Query(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	rows, err := c.svc.Query(r.Context(), userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}

// Health handles GET /health.
func (c *AuditController) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponseBody{Error: msg})
}
