package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/monitor"
)

// Problem is the body of every non-2xx ops API response.
type Problem struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Problem codes.
const (
	CodeDeviceNotFound  = "device_not_found"
	CodeNoSweep         = "no_sweep"
	CodeMonitorDisabled = "monitor_disabled"
	CodeReadOnly        = "read_only"
	CodeInternal        = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v) //nolint:errcheck,errchkjson // client may have gone
	}
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	p := Problem{Status: status, Code: code, Message: message}
	if id, ok := r.Context().Value(ctxKeyRequestID).(string); ok {
		p.RequestID = id
	}
	writeJSON(w, status, p)
}

// problemFor maps registry and monitor errors onto a status and code.
// Anything unrecognised is a 500.
func problemFor(err error) (int, string) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		return http.StatusNotFound, CodeDeviceNotFound
	case errors.Is(err, monitor.ErrNoSweep):
		return http.StatusNotFound, CodeNoSweep
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// fail writes the problem for err. Server-side failures are logged with
// the underlying error, which is never sent to the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, message string) {
	status, code := problemFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(message, "error", err, "path", r.URL.Path, "request_id", r.Context().Value(ctxKeyRequestID))
	}
	writeProblem(w, r, status, code, message)
}
