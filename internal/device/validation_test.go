package device

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "valid name", input: "North Gate Controller"},
		{name: "valid name with numbers", input: "Turnstile 3"},
		{name: "empty", input: "", wantErr: ErrInvalidName},
		{name: "whitespace only", input: "   ", wantErr: ErrInvalidName},
		{name: "too long", input: strings.Repeat("a", maxNameLength+1), wantErr: ErrInvalidName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateDeviceType(t *testing.T) {
	for _, dt := range AllDeviceTypes() {
		assert.NoError(t, ValidateDeviceType(dt), dt)
	}

	assert.ErrorIs(t, ValidateDeviceType("light_dimmer"), ErrInvalidDeviceType)
	assert.ErrorIs(t, ValidateDeviceType(""), ErrInvalidDeviceType)
	assert.False(t, IsSupportedType("DOOR_CONTROLLER"), "types are case-sensitive")
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		ip      string
		port    int
		wantErr bool
	}{
		{name: "ipv4", ip: "192.168.1.40", port: 4370},
		{name: "ipv6", ip: "fe80::1", port: 80},
		{name: "hostname", ip: "gate-1.site.local", port: 8080},
		{name: "port lower bound", ip: "10.0.0.1", port: 1},
		{name: "port upper bound", ip: "10.0.0.1", port: 65535},
		{name: "empty ip", ip: "", port: 80, wantErr: true},
		{name: "port zero", ip: "10.0.0.1", port: 0, wantErr: true},
		{name: "port too large", ip: "10.0.0.1", port: 65536, wantErr: true},
		{name: "bad hostname", ip: "-gate.local", port: 80, wantErr: true},
		{name: "underscore", ip: "gate_1", port: 80, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.ip, tt.port)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAddress)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateDevice(t *testing.T) {
	valid := func() *Device { return testDevice("dev-1", "North Gate") }

	assert.NoError(t, ValidateDevice(valid()))
	assert.ErrorIs(t, ValidateDevice(nil), ErrInvalidDevice)

	d := valid()
	d.Name = ""
	assert.ErrorIs(t, ValidateDevice(d), ErrInvalidName)

	d = valid()
	d.Type = "thermostat"
	assert.ErrorIs(t, ValidateDevice(d), ErrInvalidDeviceType)

	d = valid()
	d.Manufacturer = strings.Repeat("x", maxManufacturerLength+1)
	assert.ErrorIs(t, ValidateDevice(d), ErrInvalidDevice)

	d = valid()
	d.ProtocolType = " "
	assert.ErrorIs(t, ValidateDevice(d), ErrInvalidDevice)

	d = valid()
	d.IPAddress = "not an ip"
	assert.ErrorIs(t, ValidateDevice(d), ErrInvalidAddress)
}

func TestDeviceNormalization(t *testing.T) {
	d := &Device{Manufacturer: "  ZKTeco ", ProtocolType: " tcp"}
	assert.Equal(t, "zkteco", d.NormalizedManufacturer())
	assert.Equal(t, "TCP", d.NormalizedProtocolType())

	cpy := d.Clone()
	cpy.Manufacturer = "other"
	assert.Equal(t, "  ZKTeco ", d.Manufacturer)

	var nilDevice *Device
	assert.Nil(t, nilDevice.Clone())
}

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
