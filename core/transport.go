package core

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Transport is the Messaging Transport contract (C5): typed publish/
// subscribe with an integrity hash, backoff, jitter, and Retry-After honor.
type Transport interface {
	Publish(ctx context.Context, topic string, payload any) error
	// Subscribe returns a channel of decoded envelopes for topic. The
	// channel is closed when ctx is cancelled or Unsubscribe is called.
	// Decode failures are logged and dropped, never surfaced on the
	// channel — a malformed message must not stall the topic.
	Subscribe(ctx context.Context, topic string) <-chan InboundMessage
	Unsubscribe(topic string)
}

// InboundMessage is one decoded delivery from a subscription.
type InboundMessage struct {
	Topic string
	Raw   []byte
}

// TransportConfig tunes the retry policy shared by publish and
// subscribe-reconnect (§4.5).
type TransportConfig struct {
	BaseURL       string
	BaseDelay     time.Duration // default 250ms
	MaxRetries    int           // default 4
	RequestDeadline time.Duration // default 10s
}

func (c TransportConfig) withDefaults() TransportConfig {
	if c.BaseDelay <= 0 {
		c.BaseDelay = 250 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 4
	}
	if c.RequestDeadline <= 0 {
		c.RequestDeadline = 10 * time.Second
	}
	return c
}

// jitterBackOff implements backoff.BackOff per the spec's exact policy:
// exponential base delay doubling per attempt, plus uniform [0,100ms]
// jitter, capped at maxRetries attempts. Wrapping it as a backoff.BackOff
// lets publish and subscribe-reconnect both drive it through
// backoff.Retry, the way AKJUS-bsc-erigon composes cenkalti/backoff
// policies instead of hand-rolling a retry loop per call site.
type jitterBackOff struct {
	base    time.Duration
	attempt int
	max     int
}

func newJitterBackOff(base time.Duration, max int) *jitterBackOff {
	return &jitterBackOff{base: base, max: max}
}

func (j *jitterBackOff) Reset() { j.attempt = 0 }

func (j *jitterBackOff) NextBackOff() time.Duration {
	if j.attempt >= j.max {
		return backoff.Stop
	}
	delay := j.base << j.attempt
	j.attempt++
	jitter, err := rand.Int(rand.Reader, big.NewInt(int64(100*time.Millisecond)))
	if err != nil {
		return delay
	}
	return delay + time.Duration(jitter.Int64())
}

// retryAfterBackOff wraps inner; when override is non-zero it takes
// precedence over the computed wait for the next NextBackOff call,
// implementing the "Retry-After header overrides the computed wait" rule.
// Every call still counts against inner's attempt cap.
type retryAfterBackOff struct {
	inner    backoff.BackOff
	override time.Duration
}

func (r *retryAfterBackOff) Reset() { r.inner.Reset(); r.override = 0 }

func (r *retryAfterBackOff) NextBackOff() time.Duration {
	next := r.inner.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if r.override > 0 {
		next = r.override
		r.override = 0
	}
	return next
}

// HTTPTransport implements Transport against a REST pub/sub gateway:
// POST /topics/{topic}/messages to publish, GET /topics/{topic}/messages
// (long-poll) to subscribe. One shared *http.Client is reused across every
// topic and every session on the node — the same pooled-resource discipline
// core/connection_pool.go applies to raw dialed connections in the
// reference fleet, just backed by net/http's own connection pool instead of
// a hand-rolled one.
type HTTPTransport struct {
	cfg    TransportConfig
	client *http.Client
	log    *logrus.Logger

	mu   sync.Mutex
	subs map[string]context.CancelFunc
}

// NewHTTPTransport constructs a transport backed by client (nil selects
// http.DefaultClient) against cfg.BaseURL.
func NewHTTPTransport(cfg TransportConfig, client *http.Client, log *logrus.Logger) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &HTTPTransport{
		cfg:    cfg.withDefaults(),
		client: client,
		log:    log,
		subs:   make(map[string]context.CancelFunc),
	}
}

type publishEnvelope struct {
	Message json.RawMessage `json:"message"`
}

func (t *HTTPTransport) Publish(ctx context.Context, topic string, payload any) error {
	body, err := Canonicalize(payload)
	if err != nil {
		return &PermanentError{Cause: fmt.Errorf("canonicalize publish payload: %w", err)}
	}
	envelope, err := json.Marshal(publishEnvelope{Message: body})
	if err != nil {
		return &PermanentError{Cause: fmt.Errorf("wrap publish envelope: %w", err)}
	}
	hash := IntegrityHash(envelope)

	policy := &retryAfterBackOff{inner: newJitterBackOff(t.cfg.BaseDelay, t.cfg.MaxRetries)}
	return backoff.Retry(func() error {
		reqCtx, cancel := context.WithTimeout(ctx, t.cfg.RequestDeadline)
		defer cancel()
		url := fmt.Sprintf("%s/topics/%s/messages", t.cfg.BaseURL, topic)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(envelope))
		if err != nil {
			return backoff.Permanent(&PermanentError{Cause: err})
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Content-Hash", hash)

		resp, err := t.client.Do(req)
		if err != nil {
			return &TransientError{Cause: err}
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					policy.override = time.Duration(secs) * time.Second
				}
			}
			return &TransientError{Cause: fmt.Errorf("publish %s: status %d", topic, resp.StatusCode)}
		default:
			return backoff.Permanent(&PermanentError{Cause: fmt.Errorf("publish %s: status %d", topic, resp.StatusCode)})
		}
	}, policy)
}

func (t *HTTPTransport) Subscribe(ctx context.Context, topic string) <-chan InboundMessage {
	t.mu.Lock()
	if cancel, ok := t.subs[topic]; ok {
		cancel()
	}
	subCtx, cancel := context.WithCancel(ctx)
	t.subs[topic] = cancel
	t.mu.Unlock()

	out := make(chan InboundMessage)
	go t.subscribeLoop(subCtx, topic, out)
	return out
}

func (t *HTTPTransport) Unsubscribe(topic string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cancel, ok := t.subs[topic]; ok {
		cancel()
		delete(t.subs, topic)
	}
}

func (t *HTTPTransport) subscribeLoop(ctx context.Context, topic string, out chan<- InboundMessage) {
	defer close(out)
	policy := newJitterBackOff(t.cfg.BaseDelay, t.cfg.MaxRetries)
	cursor := ""
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msgs, nextCursor, err := t.poll(ctx, topic, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := policy.NextBackOff()
			if delay == backoff.Stop {
				t.log.WithError(err).WithField("topic", topic).Warn("transport: subscribe reconnect attempts exhausted, giving up")
				return
			}
			t.log.WithError(err).WithField("topic", topic).Debug("transport: subscribe reconnect backing off")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}
		policy.Reset()
		cursor = nextCursor
		for _, raw := range msgs {
			var env publishEnvelope
			if err := json.Unmarshal(raw, &env); err != nil {
				t.log.WithError(err).WithField("topic", topic).Debug("transport: dropping malformed envelope")
				continue
			}
			select {
			case out <- InboundMessage{Topic: topic, Raw: env.Message}:
			case <-ctx.Done():
				return
			}
		}
	}
}

type pollResponse struct {
	Messages []json.RawMessage `json:"messages"`
	Cursor   string            `json:"cursor"`
}

func (t *HTTPTransport) poll(ctx context.Context, topic, cursor string) ([]json.RawMessage, string, error) {
	url := fmt.Sprintf("%s/topics/%s/messages?cursor=%s", t.cfg.BaseURL, topic, cursor)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("subscribe %s: status %d", topic, resp.StatusCode)
	}
	var parsed pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, "", err
	}
	return parsed.Messages, parsed.Cursor, nil
}

// CommandsTopic is the single global topic administrative commands publish
// to.
const CommandsTopic = "commands"

// EventsTopic returns the per-user outbound topic name.
func EventsTopic(userID string) string { return "events:" + userID }
