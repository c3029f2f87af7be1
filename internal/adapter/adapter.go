package adapter

import (
	"context"
	"slices"
	"strings"

	"github.com/nerrad567/gray-logic-access/internal/device"
)

// ProtocolAdapter is the uniform command surface over one wire protocol or
// vendor family. Implementations must be safe for concurrent use.
//
// Command operations return (true, nil) when the device acknowledged the
// command, (false, nil) when it answered with anything else, and an error
// only when the exchange itself failed (see TransportError).
type ProtocolAdapter interface {
	// ProtocolName is the unique registry key, e.g. "tcp-ascii".
	ProtocolName() string
	ProtocolVersion() string

	// SupportedManufacturers lists the vendors this adapter claims. An empty
	// list means the adapter is only reachable by protocol or by scan.
	SupportedManufacturers() []string
	SupportedProtocolTypes() []string
	ProtocolFeatures() []string
	Class() Class

	// SupportsDevice reports whether the adapter can drive d. It is checked
	// even after a manufacturer match.
	SupportsDevice(d *device.Device) bool

	RemoteOpen(ctx context.Context, d *device.Device) (bool, error)
	RestartDevice(ctx context.Context, d *device.Device) (bool, error)
	SyncDeviceTime(ctx context.Context, d *device.Device) (bool, error)

	// CheckConnection is a best-effort reachability check. It never errors.
	CheckConnection(ctx context.Context, d *device.Device) bool
}

// Class ranks adapters for resolution order.
type Class int

const (
	ClassCatchAll Class = iota
	ClassProtocolFamily
	ClassVendor
)

// Priority values assigned per class at registration.
const (
	PriorityCatchAll       = 100
	PriorityProtocolFamily = 200
	PriorityVendor         = 300
)

// Priority returns the fixed resolution priority for the class.
func (c Class) Priority() int {
	switch c {
	case ClassVendor:
		return PriorityVendor
	case ClassProtocolFamily:
		return PriorityProtocolFamily
	default:
		return PriorityCatchAll
	}
}

func (c Class) String() string {
	switch c {
	case ClassVendor:
		return "vendor"
	case ClassProtocolFamily:
		return "protocol_family"
	default:
		return "catch_all"
	}
}

// Operation names a command for errors, logs and metrics.
type Operation string

const (
	OpRemoteOpen      Operation = "remote_open"
	OpRestartDevice   Operation = "restart_device"
	OpSyncDeviceTime  Operation = "sync_device_time"
	OpCheckConnection Operation = "check_connection"
)

// TimeLayout is the wall-clock format pushed by SyncDeviceTime.
const TimeLayout = "2006-01-02 15:04:05"

// Metadata holds the static description of an adapter. Concrete adapters
// embed it to satisfy the metadata half of ProtocolAdapter.
type Metadata struct {
	Name          string
	Version       string
	Manufacturers []string
	ProtocolTypes []string
	Features      []string
	AdapterClass  Class
}

func (m Metadata) ProtocolName() string             { return m.Name }
func (m Metadata) ProtocolVersion() string          { return m.Version }
func (m Metadata) SupportedManufacturers() []string { return slices.Clone(m.Manufacturers) }
func (m Metadata) SupportedProtocolTypes() []string { return slices.Clone(m.ProtocolTypes) }
func (m Metadata) ProtocolFeatures() []string       { return slices.Clone(m.Features) }
func (m Metadata) Class() Class                     { return m.AdapterClass }

// HandlesProtocolType reports whether pt (any case) is in ProtocolTypes.
func (m Metadata) HandlesProtocolType(pt string) bool {
	return containsFold(m.ProtocolTypes, pt)
}

// Descriptor is the registry's immutable view of one adapter.
type Descriptor struct {
	ProtocolName           string   `json:"protocol_name"`
	ProtocolVersion        string   `json:"protocol_version"`
	SupportedManufacturers []string `json:"supported_manufacturers"`
	ProtocolTypes          []string `json:"protocol_types"`
	Class                  string   `json:"class"`
	Priority               int      `json:"priority"`
	Features               []string `json:"features"`
}

// Describe computes the descriptor of a. Manufacturers are lower-cased and
// protocol types upper-cased.
func Describe(a ProtocolAdapter) Descriptor {
	return Descriptor{
		ProtocolName:           a.ProtocolName(),
		ProtocolVersion:        a.ProtocolVersion(),
		SupportedManufacturers: normalizeAll(a.SupportedManufacturers(), strings.ToLower),
		ProtocolTypes:          normalizeAll(a.SupportedProtocolTypes(), strings.ToUpper),
		Class:                  a.Class().String(),
		Priority:               a.Class().Priority(),
		Features:               slices.Clone(a.ProtocolFeatures()),
	}
}

// Clone returns a copy of d that shares no slices with it.
func (d Descriptor) Clone() Descriptor {
	d.SupportedManufacturers = slices.Clone(d.SupportedManufacturers)
	d.ProtocolTypes = slices.Clone(d.ProtocolTypes)
	d.Features = slices.Clone(d.Features)
	return d
}

func normalizeAll(values []string, caseFn func(string) string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = caseFn(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func containsFold(values []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, candidate := range values {
		if strings.EqualFold(strings.TrimSpace(candidate), v) {
			return true
		}
	}
	return false
}
