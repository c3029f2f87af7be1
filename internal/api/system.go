package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/adapter"
	"github.com/nerrad567/gray-logic-access/internal/process"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          *MQTTMetrics    `json:"mqtt,omitempty"`
	Devices       DeviceMetrics   `json:"devices"`
	Resolver      adapter.Stats   `json:"resolver"`
	Database      DatabaseMetrics `json:"database"`
	Helper        *process.Stats  `json:"helper,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedFrames    uint64 `json:"dropped_frames"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// DeviceMetrics contains device registry statistics.
type DeviceMetrics struct {
	Total      int            `json:"total"`
	Supported  int            `json:"supported"`
	ByType     map[string]int `json:"by_type"`
	ByProtocol map[string]int `json:"by_protocol"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleSystem returns runtime, registry and resolver statistics.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			DroppedFrames:    s.hub.Dropped(),
		},
		Resolver: s.resolver.Stats(),
	}

	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}

	if s.helper != nil {
		stats := s.helper.Stats()
		metrics.Helper = &stats
	}

	devices, err := s.deviceMetrics(r.Context())
	if err != nil {
		s.fail(w, r, err, "failed to list devices")
		return
	}
	metrics.Devices = devices

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) deviceMetrics(ctx context.Context) (DeviceMetrics, error) {
	devices, err := s.devices.ListDevices(ctx)
	if err != nil {
		return DeviceMetrics{}, err
	}

	m := DeviceMetrics{
		Total:      len(devices),
		ByType:     make(map[string]int),
		ByProtocol: make(map[string]int),
	}
	for i := range devices {
		d := &devices[i]
		m.ByType[string(d.Type)]++
		m.ByProtocol[d.NormalizedProtocolType()]++
		if s.resolver.IsDeviceSupported(d) {
			m.Supported++
		}
	}
	return m, nil
}
