package httpapi

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthBody is the fixed health-check response shape, per spec.md
// §4.11's "GET /api/health" contract.
type healthBody struct {
	Status string `json:"status"`
	DB     string `json:"db"`
}

// handleHealth reports whether the store is reachable. It is
// unauthenticated so load balancers and orchestrators can probe it,
// and writes its own response since an unhealthy store still needs a
// 200-shaped JSON body with a non-2xx status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthBody{Status: "unavailable", DB: "down"})
		return
	}
	writeJSON(w, http.StatusOK, healthBody{Status: "ok", DB: "up"})
}

// metricsHandler exposes the process's Prometheus registry, per
// spec.md §4.11's "GET /api/metrics" contract.
func metricsHandler() httprouter.Handle {
	h := promhttp.Handler()
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		h.ServeHTTP(w, r)
	}
}

// handleClearRateLimit resets every rate-limit bucket and block entry.
// Wired only when the server is started in CI mode, so integration
// suites can run many login attempts back to back without tripping
// the login lockout between cases.
func (s *Server) handleClearRateLimit(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	s.limiter.ClearAll()
	return map[string]string{"status": "cleared"}, nil
}
