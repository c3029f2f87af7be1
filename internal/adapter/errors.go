package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-access/internal/device"
)

var (
	// ErrInvalidDevice is returned for a nil device or an unsupported device
	// type. Never retried.
	ErrInvalidDevice = errors.New("adapter: invalid device")

	// ErrNoAdapterFound matches every *NoAdapterError.
	ErrNoAdapterFound = errors.New("adapter: no adapter found")

	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("adapter: transport failure")

	ErrNilAdapter        = errors.New("adapter: nil adapter")
	ErrEmptyProtocolName = errors.New("adapter: empty protocol name")
	ErrAdapterExists     = errors.New("adapter: protocol already registered")
	ErrAdapterNotFound   = errors.New("adapter: protocol not registered")
)

// NoAdapterError carries the identifying fields of a device nothing could
// drive.
type NoAdapterError struct {
	DeviceType   device.DeviceType
	Manufacturer string
	ProtocolType string
}

func (e *NoAdapterError) Error() string {
	return fmt.Sprintf("adapter: no adapter found for device type %q, manufacturer %q, protocol type %q",
		e.DeviceType, e.Manufacturer, e.ProtocolType)
}

func (e *NoAdapterError) Unwrap() error {
	return ErrNoAdapterFound
}

// TransportError is the final failure of a command after the adapter's retry
// budget is spent.
type TransportError struct {
	Protocol  string
	Operation Operation
	DeviceID  string
	Attempts  int
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("adapter: %s %s on device %s failed after %d attempt(s): %v",
		e.Protocol, e.Operation, e.DeviceID, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransport) hold for any TransportError.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// Interrupted returns a non-nil error when ctx has ended. Adapters return it
// instead of a TransportError: the caller gave up, the device did not fail.
func Interrupted(ctx context.Context, protocol string, op Operation, deviceID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("adapter: %s %s on device %s interrupted: %w", protocol, op, deviceID, err)
	}
	return nil
}

// IsRetryable reports whether err is a transport failure a caller may retry
// later. Validation and resolution errors are terminal.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport)
}
