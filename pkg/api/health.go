package api

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/minifly/minifly/pkg/metrics"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	metrics.HealthHandler()(w, r)
}

// handleReady backs /ready: whether the server can currently take traffic
// (its declared components, e.g. containerd and DNS, are up). Fly's own
// health-check tooling and orchestration probes distinguish this from
// /live, so both are exposed even though this process has no upstream load
// balancer of its own deciding whether to route to it.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	metrics.ReadyHandler()(w, r)
}

// handleLive backs /live: whether the process is up at all, independent of
// whether its dependencies are healthy. A process that answers here but
// fails /ready should be left running, not restarted.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	metrics.LivenessHandler()(w, r)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	metrics.Handler().ServeHTTP(w, r)
}
