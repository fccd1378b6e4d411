package core

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Watchdog periodically republishes the last known update for every
// resident, owned user on this node (design note open question (c),
// decided in favor of a fixed-cadence republish). It reads no new ledger
// state — purely a best-effort nudge for observers that missed the
// original broadcast.
//
// Lifecycle shape (ticker + closing channel + sync.Once teardown) mirrors
// core/connection_pool.go's idle-connection reaper in the reference fleet.
type Watchdog struct {
	registry    *Registry
	broadcaster *Broadcaster
	interval    time.Duration
	log         *logrus.Logger

	mu   sync.Mutex
	last map[string]UpdatePayload

	closing   chan struct{}
	closeOnce sync.Once
}

// DefaultWatchdogInterval is the republish cadence when none is configured.
const DefaultWatchdogInterval = time.Minute

// NewWatchdog constructs a Watchdog. interval <= 0 selects
// DefaultWatchdogInterval.
func NewWatchdog(registry *Registry, broadcaster *Broadcaster, interval time.Duration, log *logrus.Logger) *Watchdog {
	if interval <= 0 {
		interval = DefaultWatchdogInterval
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Watchdog{
		registry:    registry,
		broadcaster: broadcaster,
		interval:    interval,
		log:         log,
		last:        make(map[string]UpdatePayload),
		closing:     make(chan struct{}),
	}
}

// Observe records the most recently broadcast payload for a user, so the
// watchdog has something to republish. The dispatcher calls this right
// after Broadcaster.Publish.
func (w *Watchdog) Observe(userID string, payload UpdatePayload) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last[userID] = payload
}

// Run ticks on w.interval until ctx is cancelled or Close is called,
// republishing the last known payload for every currently-resident user
// whose lease this node still holds.
func (w *Watchdog) Run(ctx context.Context, transport Transport) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.tick(ctx, transport)
		case <-ctx.Done():
			return
		case <-w.closing:
			return
		}
	}
}

func (w *Watchdog) tick(ctx context.Context, transport Transport) {
	w.mu.Lock()
	snapshot := make(map[string]UpdatePayload, len(w.last))
	for userID, payload := range w.last {
		if w.registry.IsResident(userID) && w.registry.IsOwned(userID) {
			snapshot[userID] = payload
		}
	}
	w.mu.Unlock()

	for userID, payload := range snapshot {
		env := UpdateEnvelope{Type: EnvelopeTypeUpdate, Payload: payload}
		if err := transport.Publish(ctx, EventsTopic(userID), env); err != nil {
			w.log.WithError(err).WithField("user_id", userID).Debug("watchdog: republish failed")
		}
	}
}

// Close stops the watchdog. Safe to call more than once.
func (w *Watchdog) Close() {
	w.closeOnce.Do(func() { close(w.closing) })
}
