package device

import (
	"strings"
	"time"
)

// Device is an access-control terminal as recorded in the device registry.
// This matches the devices table in migrations/20260301_090000_access_devices.up.sql.
//
// The adapter layer treats a Device as a read-only view; it never mutates one.
type Device struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Classification
	Type DeviceType `json:"type"`

	// Vendor and wire protocol. Manufacturer may be blank or "Generic".
	Manufacturer string `json:"manufacturer,omitempty"`
	ProtocolType string `json:"protocol_type"`

	// Network location
	IPAddress string `json:"ip_address"`
	Port      int    `json:"port"`

	// Metadata
	FirmwareVersion string `json:"firmware_version,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns an independent copy of the Device.
// Device holds only value fields, so a shallow copy is sufficient.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	return &cpy
}

// NormalizedManufacturer returns the manufacturer lower-cased and trimmed.
func (d *Device) NormalizedManufacturer() string {
	return strings.ToLower(strings.TrimSpace(d.Manufacturer))
}

// NormalizedProtocolType returns the protocol type upper-cased and trimmed.
func (d *Device) NormalizedProtocolType() string {
	return strings.ToUpper(strings.TrimSpace(d.ProtocolType))
}

// DeviceType represents the specific kind of access terminal.
type DeviceType string //nolint:revive // device.DeviceType is clearer than device.Type in calling code

// Supported device types.
const (
	DeviceTypeAccessController DeviceType = "access_controller"
	DeviceTypeDoorController   DeviceType = "door_controller"
	DeviceTypeFaceTerminal     DeviceType = "face_terminal"
	DeviceTypeCardReader       DeviceType = "card_reader"
	DeviceTypeTurnstile        DeviceType = "turnstile"
	DeviceTypeBarrierGate      DeviceType = "barrier_gate"
)

// AllDeviceTypes returns all supported device type values.
func AllDeviceTypes() []DeviceType {
	return []DeviceType{
		DeviceTypeAccessController,
		DeviceTypeDoorController,
		DeviceTypeFaceTerminal,
		DeviceTypeCardReader,
		DeviceTypeTurnstile,
		DeviceTypeBarrierGate,
	}
}

// Protocol type values as stored on a Device. Comparisons elsewhere are
// case-insensitive; these constants are the canonical upper-case forms.
const (
	ProtocolTCP   = "TCP"
	ProtocolHTTP  = "HTTP"
	ProtocolHTTPS = "HTTPS"
	ProtocolSDK   = "SDK"
	ProtocolMQTT  = "MQTT"
)

// GenericManufacturer is the manufacturer value used for devices that speak a
// standard protocol without vendor extensions.
const GenericManufacturer = "generic"
