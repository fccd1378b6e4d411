// Package httpapi is the game node's local debug/health HTTP surface: join/
// leave hooks for session residency, health, and metrics. It is not part of
// the pub/sub fabric — game servers call it directly, in-process or over a
// loopback/sidecar link.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/synnergy-bridge/economy-bridge/core"
	"github.com/synnergy-bridge/economy-bridge/internal/httpmw"
)

// Controller exposes HTTP handlers bound to a node's session Registry.
type Controller struct {
	registry *core.Registry
	log      *logrus.Logger
}

func NewController(registry *core.Registry, log *logrus.Logger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{registry: registry, log: log}
}

type joinRequestBody struct {
	UserID string `json:"userId"`
}

// Join marks a player resident on this node, opportunistically claiming the
// session lease so the first command doesn't pay the acquire round trip.
func (c *Controller) Join(w http.ResponseWriter, r *http.Request) {
	var body joinRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := c.registry.MarkResident(ctx, body.UserID); err != nil {
		c.log.WithError(err).WithField("user_id", body.UserID).Warn("httpapi: join failed to acquire lease")
		http.Error(w, "lease unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Leave releases the session lease for a player departing this node.
func (c *Controller) Leave(w http.ResponseWriter, r *http.Request) {
	var body joinRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	c.registry.MarkAbsent(ctx, body.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// Health handles GET /health.
func (c *Controller) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Register wires Controller's handlers plus /metrics onto r.
func Register(r *mux.Router, c *Controller, log *logrus.Logger) {
	r.Use(httpmw.Logger(log))
	r.HandleFunc("/health", c.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/sessions/join", c.Join).Methods(http.MethodPost)
	r.HandleFunc("/sessions/leave", c.Leave).Methods(http.MethodPost)
}
