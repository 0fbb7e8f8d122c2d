package serv

import (
	"net/http"
	"time"
)

// healthHandler reports the aggregate service health. DOWN and DEGRADED
// are still 200: the payload carries the verdict, the status code only
// signals that the service answered.
func healthHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"status":    s.engine.Health.Overall(r.Context()),
			"timestamp": time.Now().UTC(),
		})
	}
}

// readyHandler is the readiness probe: config loaded, databases
// reachable, memory below the readiness limit.
func readyHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := s.engine.Health.Readiness(r.Context())
		status := http.StatusOK
		if !rep.Ready {
			status = http.StatusServiceUnavailable
		}
		writeJSONStatus(w, status, rep)
	}
}

// liveHandler is the liveness probe: memory and goroutine pressure only,
// never touches a database.
func liveHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := s.engine.Health.Liveness()
		status := http.StatusOK
		if !rep.Alive {
			status = http.StatusServiceUnavailable
		}
		writeJSONStatus(w, status, rep)
	}
}
