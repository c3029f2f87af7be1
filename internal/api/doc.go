// # Endpoints
//
//	GET /api/v1/health           liveness, version, broker connectivity
//	GET /api/v1/system           runtime, registry, resolver and pool stats
//	GET /api/v1/adapters         adapter descriptors in resolution order
//	GET /api/v1/resolver/stats   resolution cache counters
//	GET /api/v1/devices          devices with the adapter that drives them
//	GET /api/v1/devices/{id}
//	GET /api/v1/sweep            last connectivity sweep report
//	GET /metrics                 Prometheus exposition
//	GET /ws                      live sweep.completed feed
//
// Every other method is rejected with 405: commands are issued through the
// CLI, never over HTTP. Failures carry a Problem body with a stable code
// (device_not_found, no_sweep, monitor_disabled, read_only, internal_error)
// and the request ID.
//
// # Live feed
//
// /ws speaks JSON frames keyed by "op". A new connection is subscribed to
// sweep.completed unless ?channels= names others, and is sent the last
// report at once. Browser origins are checked against api.cors.
//
// # Graceful Degradation
//
// The server operates without MQTT and without the monitor: /sweep answers
// 503 and /health omits broker state.
package api
