package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementCommands     = "access_commands"
	MeasurementReachability = "access_reachability"
)

// CommandOutcome is one executed device command.
type CommandOutcome struct {
	DeviceID     string
	Command      string
	Adapter      string
	Manufacturer string
	// Category is the outcome class: ok, negative, client_error,
	// upstream_unavailable or internal.
	Category  string
	Success   bool
	Duration  time.Duration
	Timestamp time.Time
}

// WriteCommandOutcome records a command result in the access_commands
// measurement. Tags carry the low-cardinality dimensions.
//
// The write is non-blocking; data is batched and sent asynchronously.
func (c *Client) WriteCommandOutcome(o CommandOutcome) {
	ts := o.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	tags := map[string]string{
		"device_id": o.DeviceID,
		"command":   o.Command,
		"category":  o.Category,
	}
	if o.Adapter != "" {
		tags["adapter"] = o.Adapter
	}
	if o.Manufacturer != "" {
		tags["manufacturer"] = o.Manufacturer
	}

	c.WritePointWithTime(MeasurementCommands, tags, map[string]interface{}{
		"success":     o.Success,
		"duration_ms": float64(o.Duration.Microseconds()) / 1000,
	}, ts)
}

// WriteReachability records one connectivity check result from the monitor
// sweep.
func (c *Client) WriteReachability(deviceID, adapter string, reachable bool, latency time.Duration, ts time.Time) {
	tags := map[string]string{"device_id": deviceID}
	if adapter != "" {
		tags["adapter"] = adapter
	}
	c.WritePointWithTime(MeasurementReachability, tags, map[string]interface{}{
		"reachable":  reachable,
		"latency_ms": float64(latency.Microseconds()) / 1000,
	}, ts)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Example:
//
//	client.WritePoint("sweep_stats",
//	    map[string]string{"host": "access-01"},
//	    map[string]interface{}{"devices": 42, "unreachable": 3})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
// It is a no-op on a closed client.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
