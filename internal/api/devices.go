package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-access/internal/device"
)

// deviceView is a device record annotated with the adapter that drives it.
type deviceView struct {
	device.Device
	Supported bool   `json:"supported"`
	Adapter   string `json:"adapter,omitempty"`
}

// handleListDevices returns all devices, with optional query filters.
//
// Query parameters:
//   - manufacturer: filter by manufacturer (case-insensitive)
//   - protocol_type: filter by wire protocol (case-insensitive)
//   - type: filter by device type
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	devices, err := s.devices.ListDevices(ctx)
	if err != nil {
		s.fail(w, r, err, "failed to list devices")
		return
	}

	q := r.URL.Query()
	manufacturer := strings.ToLower(strings.TrimSpace(q.Get("manufacturer")))
	protocolType := strings.ToUpper(strings.TrimSpace(q.Get("protocol_type")))
	deviceType := device.DeviceType(q.Get("type"))

	views := make([]deviceView, 0, len(devices))
	for i := range devices {
		d := &devices[i]
		if manufacturer != "" && d.NormalizedManufacturer() != manufacturer {
			continue
		}
		if protocolType != "" && d.NormalizedProtocolType() != protocolType {
			continue
		}
		if deviceType != "" && d.Type != deviceType {
			continue
		}
		views = append(views, s.describeDevice(r, d))
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": views, "count": len(views)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.devices.GetDevice(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, "failed to get device "+id)
		return
	}

	writeJSON(w, http.StatusOK, s.describeDevice(r, dev))
}

func (s *Server) describeDevice(r *http.Request, d *device.Device) deviceView {
	view := deviceView{Device: *d}
	a, err := s.resolver.Resolve(r.Context(), d)
	if err == nil {
		view.Supported = true
		view.Adapter = a.ProtocolName()
	}
	return view
}
