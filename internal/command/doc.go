// Package command executes access-control commands against registered
// devices.
//
// Service.Execute is the single entry point used by the CLI and the monitor:
//
//	device lookup -> adapter resolution -> adapter operation -> Classify
//	                                                         -> metrics, InfluxDB, MQTT event
//
// Every outcome is mapped to a Category (ok, negative, client_error,
// upstream_unavailable, internal) so callers can report failures without
// inspecting adapter errors themselves.
package command
