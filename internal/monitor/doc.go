// Package monitor runs periodic connectivity sweeps over the device registry.
//
// Each sweep calls check_connection on every device through the command
// service and fans the outcome out to:
//
//   - Prometheus reachability gauges (stale devices are forgotten)
//   - InfluxDB access_reachability points
//   - retained MQTT device state on graylogic/core/device/{id}/state (cleared
//     when the device leaves the registry)
//   - the ops server WebSocket feed (sweep.completed)
//
// The most recent Report is kept for the ops API.
package monitor
