package adaptertest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-access/internal/adapter"
	"github.com/nerrad567/gray-logic-access/internal/device"
)

// Fake is an in-memory ProtocolAdapter for resolver and service tests.
type Fake struct {
	adapter.Metadata

	// Supports decides SupportsDevice. Nil accepts every device.
	Supports func(d *device.Device) bool

	mu        sync.Mutex
	result    bool
	err       error
	reachable bool

	calls atomic.Int64
}

// NewFake returns a fake that acknowledges every command.
func NewFake(name string, class adapter.Class, manufacturers ...string) *Fake {
	return &Fake{
		Metadata: adapter.Metadata{
			Name:          name,
			Version:       "test",
			Manufacturers: manufacturers,
			AdapterClass:  class,
		},
		result:    true,
		reachable: true,
	}
}

// WithProtocolTypes sets the declared protocol types and returns f.
func (f *Fake) WithProtocolTypes(types ...string) *Fake {
	f.ProtocolTypes = types
	return f
}

// SetResult sets what command operations return.
func (f *Fake) SetResult(ok bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result, f.err = ok, err
}

// SetReachable sets what CheckConnection returns.
func (f *Fake) SetReachable(reachable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reachable = reachable
}

// Calls returns the number of operations invoked on f.
func (f *Fake) Calls() int {
	return int(f.calls.Load())
}

func (f *Fake) SupportsDevice(d *device.Device) bool {
	if d == nil {
		return false
	}
	if f.Supports == nil {
		return true
	}
	return f.Supports(d)
}

func (f *Fake) RemoteOpen(ctx context.Context, d *device.Device) (bool, error) {
	return f.command(ctx, adapter.OpRemoteOpen, d)
}

func (f *Fake) RestartDevice(ctx context.Context, d *device.Device) (bool, error) {
	return f.command(ctx, adapter.OpRestartDevice, d)
}

func (f *Fake) SyncDeviceTime(ctx context.Context, d *device.Device) (bool, error) {
	return f.command(ctx, adapter.OpSyncDeviceTime, d)
}

func (f *Fake) CheckConnection(ctx context.Context, _ *device.Device) bool {
	f.calls.Add(1)
	if ctx.Err() != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reachable
}

func (f *Fake) command(ctx context.Context, op adapter.Operation, d *device.Device) (bool, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return false, &adapter.TransportError{
			Protocol: f.Name, Operation: op, DeviceID: d.ID, Attempts: 1, Err: err,
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}
