package device

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength         = 100
	maxManufacturerLength = 64
	maxPort               = 65535
)

// Pre-computed validation set for O(1) lookups.
var validDeviceTypes map[DeviceType]struct{}

func init() {
	validDeviceTypes = make(map[DeviceType]struct{}, len(AllDeviceTypes()))
	for _, t := range AllDeviceTypes() {
		validDeviceTypes[t] = struct{}{}
	}
}

// ValidateDevice performs validation on a device record before it is persisted.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}

	if err := ValidateName(d.Name); err != nil {
		return err
	}

	if err := ValidateDeviceType(d.Type); err != nil {
		return err
	}

	if len(d.Manufacturer) > maxManufacturerLength {
		return fmt.Errorf("%w: manufacturer exceeds %d characters", ErrInvalidDevice, maxManufacturerLength)
	}

	if strings.TrimSpace(d.ProtocolType) == "" {
		return fmt.Errorf("%w: protocol type is required", ErrInvalidDevice)
	}

	return ValidateAddress(d.IPAddress, d.Port)
}

// ValidateName checks that a device name is non-empty and within length limits.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(trimmed) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateDeviceType checks that t is one of the supported device types.
func ValidateDeviceType(t DeviceType) error {
	if !IsSupportedType(t) {
		return fmt.Errorf("%w: %q", ErrInvalidDeviceType, t)
	}
	return nil
}

// IsSupportedType reports whether t is in the fixed supported set.
func IsSupportedType(t DeviceType) bool {
	_, ok := validDeviceTypes[t]
	return ok
}

// ValidateAddress checks that ip parses as an IPv4/IPv6 address or a hostname
// and that port is within 1-65535.
func ValidateAddress(ip string, port int) error {
	host := strings.TrimSpace(ip)
	if host == "" {
		return fmt.Errorf("%w: ip address is required", ErrInvalidAddress)
	}
	if net.ParseIP(host) == nil && !isHostname(host) {
		return fmt.Errorf("%w: %q is not an IP address or hostname", ErrInvalidAddress, host)
	}
	if port < 1 || port > maxPort {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidAddress, port)
	}
	return nil
}

// isHostname performs a permissive RFC 1123 label check.
func isHostname(s string) bool {
	if len(s) > 253 {
		return false
	}
	for _, label := range strings.Split(s, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			if !isAlnum && r != '-' {
				return false
			}
		}
	}
	return true
}

// GenerateID creates a new unique device ID.
func GenerateID() string {
	return uuid.NewString()
}
