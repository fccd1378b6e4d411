// Package httpmw holds gorilla/mux middleware shared by the node's local
// debug/health surface and the audit sink service, grounded on
// walletserver/middleware/logger.go.
package httpmw

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger logs method, path, status, and latency for every request. Status is
// captured via a response-writer wrapper since http.ResponseWriter does not
// expose it directly.
func Logger(log *logrus.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rw.status,
				"duration": time.Since(start),
			}).Info("http request")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
