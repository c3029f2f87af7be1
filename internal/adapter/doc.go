// Package adapter defines the uniform command contract over access-control
// terminals and the machinery that picks an implementation per device.
//
// # Contract
//
// A ProtocolAdapter owns one wire protocol or vendor family: its encoding,
// its connection handling and its retry policy. Every command returns
// (bool, error):
//
//	(true, nil)   device acknowledged the command
//	(false, nil)  device answered with anything else (negative result)
//	(false, err)  the exchange failed; err matches ErrTransport once the
//	              adapter's retry budget is spent
//
// CheckConnection never errors; it reports false on any failure.
//
// # Resolution
//
//	Device ──▶ Resolver.Resolve ──▶ cache hit? ──yes──▶ adapter
//	                                   │no
//	                                   ▼
//	             1. manufacturer claim (+ SupportsDevice)
//	             2. generic/blank vendor on HTTP/HTTPS ──▶ protocol-family adapter
//	             3. first adapter in priority order that SupportsDevice
//	             4. *NoAdapterError
//
// Priorities are fixed per Class: vendor 300, protocol family 200,
// catch-all 100. When two adapters claim the same manufacturer the
// higher-priority one keeps it; at equal priority registration order
// decides.
//
// Resolutions are memoized under "deviceType[:manufacturer][:protocolType]"
// until ClearCache or Reinitialize.
//
// # Errors
//
//   - ErrInvalidDevice: nil device or unsupported device type. Terminal.
//   - ErrNoAdapterFound / *NoAdapterError: nothing can drive the device. Terminal.
//   - ErrTransport / *TransportError: retried inside the adapter, then surfaced.
package adapter
