package core

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"
)

// Dispatcher is the Command Dispatcher (C6): decodes envelopes off the
// commands topic, filters by session ownership, and invokes the mutator
// pipeline (§4.6).
type Dispatcher struct {
	registry     *Registry
	store        LedgerStore
	broadcaster  *Broadcaster
	auditClient  *AuditClient
	watchdog     *Watchdog
	metrics      *Metrics
	log          *logrus.Logger
	ringCapacity int
	maxRetries   int
	now          func() int64
}

// DispatcherConfig configures a Dispatcher's tunables. Zero values select
// the documented defaults.
type DispatcherConfig struct {
	RingCapacity int
	MaxRetries   int
	Now          func() int64
}

// NewDispatcher wires a Dispatcher from its collaborators.
func NewDispatcher(registry *Registry, store LedgerStore, broadcaster *Broadcaster, auditClient *AuditClient, metrics *Metrics, log *logrus.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = DefaultRingCapacity
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 4
	}
	if cfg.Now == nil {
		cfg.Now = nowMillis
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		registry:     registry,
		store:        store,
		broadcaster:  broadcaster,
		auditClient:  auditClient,
		metrics:      metrics,
		log:          log,
		ringCapacity: cfg.RingCapacity,
		maxRetries:   cfg.MaxRetries,
		now:          cfg.Now,
	}
}

// Run drains inbound from the commands topic until ctx is cancelled or
// inbound closes. Each envelope is handled in its own goroutine so that
// distinct users proceed in parallel, while Registry.WithSession still
// serializes envelopes that land on the same user (§5). Envelopes for the
// same user run one at a time, but not necessarily in arrival order.
func (d *Dispatcher) Run(ctx context.Context, inbound <-chan InboundMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			go d.HandleEnvelope(ctx, msg.Raw)
		}
	}
}

// HandleEnvelope implements the six-step contract of §4.6 for a single raw
// envelope body (the decoded "message" field of the transport wrapper).
func (d *Dispatcher) HandleEnvelope(ctx context.Context, raw []byte) {
	var env CommandEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.log.WithError(err).Debug("dispatcher: discarding malformed envelope")
		d.countOutcome("malformed")
		return
	}
	if env.Type != EnvelopeTypeCommand {
		d.log.WithField("type", env.Type).Debug("dispatcher: discarding envelope of unexpected type")
		d.countOutcome("wrong_type")
		return
	}
	cmd := env.Payload
	if err := cmd.Validate(); err != nil {
		d.log.WithError(err).Debug("dispatcher: discarding invalid command")
		d.countOutcome("invalid")
		return
	}

	outcome := "applied"
	err := d.registry.WithSession(cmd.UserID, func() error {
		return d.processOwned(ctx, cmd)
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrNotOwner):
		outcome = "not_owner"
		if d.metrics != nil {
			d.metrics.LeaseContentionTotal.Inc()
		}
	case errors.Is(err, errAlreadyProcessed):
		outcome = "deduped"
	default:
		outcome = "failed"
		d.log.WithError(err).WithField("txn_id", cmd.TxnID).WithField("user_id", cmd.UserID).Warn("dispatcher: mutation failed")
	}
	d.countOutcome(outcome)
}

var errAlreadyProcessed = errors.New("core: already processed")

// processOwned runs steps 4-6 of §4.6 under the caller's per-user lock: it
// acquires ownership if not already resident-owned, runs the mutator, and
// releases an opportunistic lease afterward regardless of outcome.
func (d *Dispatcher) processOwned(ctx context.Context, cmd Command) error {
	opportunistic := !d.registry.IsResident(cmd.UserID)
	if !d.registry.IsOwned(cmd.UserID) {
		ok, err := d.registry.AcquireOpportunistic(ctx, cmd.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotOwner
		}
	}
	if opportunistic {
		defer d.registry.ReleaseOpportunistic(ctx, cmd.UserID)
	}

	result, err := ApplyWithRetry(ctx, d.store, cmd, d.ringCapacity, d.maxRetries, d.now)
	if err != nil {
		return err
	}
	if !result.Inserted {
		return errAlreadyProcessed
	}

	payload := d.broadcaster.Publish(ctx, cmd.UserID, result.Record)
	if d.watchdog != nil {
		d.watchdog.Observe(cmd.UserID, payload)
	}
	if d.auditClient != nil {
		d.auditClient.Post(ctx, payload)
	}
	return nil
}

// SetWatchdog attaches a Watchdog so every successful broadcast feeds its
// republish cache. Optional; nil leaves the watchdog feature disabled.
func (d *Dispatcher) SetWatchdog(w *Watchdog) { d.watchdog = w }

func (d *Dispatcher) countOutcome(outcome string) {
	if d.metrics != nil {
		d.metrics.EnvelopesTotal.WithLabelValues(outcome).Inc()
	}
}
