package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestHTTPTransport(t *testing.T, handler http.HandlerFunc) (*HTTPTransport, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	transport := NewHTTPTransport(TransportConfig{
		BaseURL:    srv.URL,
		BaseDelay:  5 * time.Millisecond,
		MaxRetries: 4,
	}, srv.Client(), nil)
	return transport, srv
}

func TestPublishSucceedsOnFirstAttempt(t *testing.T) {
	var hits int32
	var hash string
	transport, _ := newTestHTTPTransport(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		hash = r.Header.Get("X-Content-Hash")
		w.WriteHeader(http.StatusOK)
	})

	err := transport.Publish(context.Background(), "commands", map[string]string{"a": "b"})
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
	require.NotEmpty(t, hash)
}

func TestPublishRetriesOn500ThenSucceeds(t *testing.T) {
	var hits int32
	transport, _ := newTestHTTPTransport(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	err := transport.Publish(context.Background(), "commands", map[string]string{"a": "b"})
	require.NoError(t, err)
	require.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestPublishHonorsRetryAfterHeader(t *testing.T) {
	var hits int32
	var firstAttempt time.Time
	var secondAttempt time.Time
	transport, _ := newTestHTTPTransport(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n == 1 {
			firstAttempt = time.Now()
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		secondAttempt = time.Now()
		w.WriteHeader(http.StatusOK)
	})

	err := transport.Publish(context.Background(), "commands", map[string]string{"a": "b"})
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&hits))
	require.True(t, secondAttempt.Sub(firstAttempt) >= 900*time.Millisecond, "Retry-After: 1 must be honored as at least ~1s")
}

func TestPublishStopsRetryingOnPermanentClientError(t *testing.T) {
	var hits int32
	transport, _ := newTestHTTPTransport(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	})

	err := transport.Publish(context.Background(), "commands", map[string]string{"a": "b"})
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits), "4xx other than 429 must not be retried")
}

func TestPublishGivesUpAfterExhaustingRetries(t *testing.T) {
	transport, _ := newTestHTTPTransport(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := transport.Publish(context.Background(), "commands", map[string]string{"a": "b"})
	require.Error(t, err)
}

func TestSubscribeDecodesMessagesAndDropsMalformedOnes(t *testing.T) {
	type step struct {
		messages []json.RawMessage
		cursor   string
	}
	steps := []step{
		{messages: []json.RawMessage{
			json.RawMessage(`"not-an-envelope"`),
			json.RawMessage(`{"message":{"foo":"bar"}}`),
		}, cursor: "c1"},
	}
	var served int32

	transport, _ := newTestHTTPTransport(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&served, 1)
		if int(n) > len(steps) {
			<-r.Context().Done()
			return
		}
		s := steps[n-1]
		resp := pollResponse{Messages: s.messages, Cursor: s.cursor}
		json.NewEncoder(w).Encode(resp)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := transport.Subscribe(ctx, "events:u1")

	select {
	case msg := <-ch:
		require.Equal(t, "events:u1", msg.Topic)
		require.JSONEq(t, `{"foo":"bar"}`, string(msg.Raw))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decoded message")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	transport, _ := newTestHTTPTransport(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ch := transport.Subscribe(context.Background(), "events:u1")
	transport.Unsubscribe("events:u1")

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel was not closed after Unsubscribe")
	}
}
