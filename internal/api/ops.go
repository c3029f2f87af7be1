package api

import (
	"net/http"
	"time"
)

// Health status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// handleHealth returns the server health status. The service is degraded
// while a configured broker connection is down.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := StatusOK
	body := map[string]any{
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"adapters":       s.resolver.Registry().Len(),
	}
	if s.mqtt != nil {
		connected := s.mqtt.IsConnected()
		body["mqtt_connected"] = connected
		if !connected {
			status = StatusDegraded
		}
	}
	body["status"] = status

	writeJSON(w, http.StatusOK, body)
}

// handleListAdapters returns the registered adapters in resolution order.
func (s *Server) handleListAdapters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"adapters":       s.resolver.AdapterInfos(),
		"manufacturers":  s.resolver.SupportedManufacturers(),
		"protocol_types": s.resolver.SupportedProtocolTypes(),
	})
}

// handleResolverStats returns the resolution cache counters.
func (s *Server) handleResolverStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.resolver.Stats())
}

// handleLastSweep returns the most recent connectivity sweep report.
func (s *Server) handleLastSweep(w http.ResponseWriter, r *http.Request) {
	if s.sweeps == nil {
		writeProblem(w, r, http.StatusServiceUnavailable, CodeMonitorDisabled, "connectivity monitor is not running")
		return
	}

	report, err := s.sweeps.LastReport()
	if err != nil {
		s.fail(w, r, err, "no sweep report available")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sweeps": s.sweeps.Sweeps(),
		"report": report,
	})
}
