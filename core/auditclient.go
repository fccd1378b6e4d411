package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// AuditClient is the Audit Sink Client (C8): HMAC-signs and POSTs newly
// processed records to the durable audit log. Failure is logged and
// non-fatal — the ledger is authoritative, and the sink drives its own
// retries externally (§4.8).
type AuditClient struct {
	httpClient *http.Client
	baseURL    string
	secret     []byte
	nodeID     string
	deadline   time.Duration
	metrics    *Metrics
	log        *logrus.Logger
}

// AuditClientConfig configures an AuditClient.
type AuditClientConfig struct {
	BaseURL  string
	Secret   []byte
	NodeID   string
	Deadline time.Duration // default 10s
}

// NewAuditClient constructs an AuditClient. client may be nil to select
// http.DefaultClient.
func NewAuditClient(cfg AuditClientConfig, client *http.Client, metrics *Metrics, log *logrus.Logger) *AuditClient {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 10 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AuditClient{
		httpClient: client,
		baseURL:    cfg.BaseURL,
		secret:     cfg.Secret,
		nodeID:     cfg.NodeID,
		deadline:   cfg.Deadline,
		metrics:    metrics,
		log:        log,
	}
}

type auditRequestBody struct {
	Payload UpdatePayload `json:"payload"`
}

// Post builds the canonical audit payload for a newly-inserted Record,
// signs it, and POSTs it to the sink's ingestion endpoint. The idempotency
// key is deterministic: "{nodeId}-{txnId}" (§4.8).
func (c *AuditClient) Post(ctx context.Context, payload UpdatePayload) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		c.log.WithError(err).Warn("auditclient: canonicalize payload failed")
		return
	}
	sig := Sign(c.secret, canonical)
	idemKey := fmt.Sprintf("%s-%s", c.nodeID, payload.TxnID)

	body, err := json.Marshal(auditRequestBody{Payload: payload})
	if err != nil {
		c.log.WithError(err).Warn("auditclient: marshal request body failed")
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/log/transactions", bytes.NewReader(body))
	if err != nil {
		c.log.WithError(err).Warn("auditclient: build request failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", sig)
	req.Header.Set("Idempotency-Key", idemKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.WebhookLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		c.log.WithError(err).WithField("txn_id", payload.TxnID).Warn("auditclient: post failed, no automatic replay")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		c.log.WithField("txn_id", payload.TxnID).WithField("status", resp.StatusCode).Warn("auditclient: sink rejected delivery")
	}
}
