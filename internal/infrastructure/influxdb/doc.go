// Package influxdb provides InfluxDB connectivity for Gray Logic Access.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched writes, and health monitoring.
//
// # Purpose
//
// This package stores time-series telemetry for:
//   - Command outcomes (measurement access_commands)
//   - Connectivity sweep results (measurement access_reachability)
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteCommandOutcome(influxdb.CommandOutcome{
//	    DeviceID: "zk-01", Command: "remote_open", Adapter: "tcp",
//	    Category: "ok", Success: true, Duration: 40 * time.Millisecond,
//	})
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are reported via the
// SetOnError callback. Connection and health check errors are returned
// directly.
package influxdb
