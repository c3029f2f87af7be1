package command

import (
	"errors"

	"github.com/nerrad567/gray-logic-access/internal/adapter"
	"github.com/nerrad567/gray-logic-access/internal/device"
)

// ErrUnknownCommand is returned for an operation outside the command set.
var ErrUnknownCommand = errors.New("command: unknown command")

// Category is the user-visible outcome class of a command.
type Category string

// Outcome categories.
const (
	CategoryOK                  Category = "ok"
	CategoryNegative            Category = "negative"
	CategoryClientError         Category = "client_error"
	CategoryUpstreamUnavailable Category = "upstream_unavailable"
	CategoryInternal            Category = "internal"
)

// Classify maps an operation result to its Category.
//
//	(true, nil)                          -> ok
//	(false, nil)                         -> negative
//	invalid device, unknown device,
//	no adapter, unknown command          -> client_error
//	transport failure                    -> upstream_unavailable
//	caller cancellation, anything else   -> internal
func Classify(ok bool, err error) Category {
	switch {
	case err == nil && ok:
		return CategoryOK
	case err == nil:
		return CategoryNegative
	case errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, device.ErrInvalidDevice),
		errors.Is(err, adapter.ErrInvalidDevice),
		errors.Is(err, adapter.ErrNoAdapterFound),
		errors.Is(err, ErrUnknownCommand):
		return CategoryClientError
	case errors.Is(err, adapter.ErrTransport):
		return CategoryUpstreamUnavailable
	default:
		return CategoryInternal
	}
}

// ExitCode maps a Category to a process exit status for the CLI.
func (c Category) ExitCode() int {
	switch c {
	case CategoryOK:
		return 0
	case CategoryNegative:
		return 1
	case CategoryClientError:
		return 2
	case CategoryUpstreamUnavailable:
		return 3
	default:
		return 4
	}
}
