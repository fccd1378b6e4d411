// Package routes registers the Audit Sink Service's HTTP surface on a
// gorilla/mux router, mirroring walletserver/routes.
package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/synnergy-bridge/economy-bridge/auditsink/controllers"
	"github.com/synnergy-bridge/economy-bridge/internal/httpmw"
)

// Register wires AuditController's handlers plus /health and /metrics onto
// r.
func Register(r *mux.Router, ac *controllers.AuditController, log *logrus.Logger) {
	r.Use(httpmw.Logger(log))
	r.HandleFunc("/log/transactions", ac.Ingest).Methods(http.MethodPost)
	r.HandleFunc("/log/transactions", ac.Query).Methods(http.MethodGet)
	r.HandleFunc("/health", ac.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}
