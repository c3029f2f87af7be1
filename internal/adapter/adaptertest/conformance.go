// Package adaptertest provides a reusable conformance suite and an in-memory
// fake for ProtocolAdapter implementations.
package adaptertest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-access/internal/adapter"
	"github.com/nerrad567/gray-logic-access/internal/device"
)

// Harness describes the environment an adapter under test runs against.
type Harness struct {
	// Device is served by a peer that acknowledges every command.
	Device *device.Device

	// Unreachable is a supported device nothing answers for. Optional.
	Unreachable *device.Device

	// Unsupported is a device the adapter must reject in SupportsDevice.
	// Optional.
	Unsupported *device.Device

	// CheckBudget bounds CheckConnection against Unreachable. Defaults to 2s.
	CheckBudget time.Duration
}

// RunConformance checks the behaviour every ProtocolAdapter must share.
// newAdapter is called once per subtest.
func RunConformance(t *testing.T, newAdapter func() adapter.ProtocolAdapter, h Harness) {
	t.Helper()
	require.NotNil(t, h.Device, "harness needs a reachable device")
	if h.CheckBudget == 0 {
		h.CheckBudget = 2 * time.Second
	}

	t.Run("Metadata", func(t *testing.T) {
		a := newAdapter()
		assert.NotEmpty(t, a.ProtocolName())
		assert.NotEmpty(t, a.ProtocolVersion())
		assert.NotEmpty(t, a.SupportedProtocolTypes())

		desc := adapter.Describe(a)
		assert.Equal(t, a.Class().Priority(), desc.Priority)
		for _, m := range desc.SupportedManufacturers {
			assert.NotEmpty(t, m)
		}
	})

	t.Run("SupportsDevice", func(t *testing.T) {
		a := newAdapter()
		assert.True(t, a.SupportsDevice(h.Device))
		assert.False(t, a.SupportsDevice(nil))
		if h.Unsupported != nil {
			assert.False(t, a.SupportsDevice(h.Unsupported))
		}
	})

	t.Run("Commands", func(t *testing.T) {
		a := newAdapter()
		ctx := context.Background()

		ops := map[adapter.Operation]func(context.Context, *device.Device) (bool, error){
			adapter.OpRemoteOpen:     a.RemoteOpen,
			adapter.OpRestartDevice:  a.RestartDevice,
			adapter.OpSyncDeviceTime: a.SyncDeviceTime,
		}
		for op, fn := range ops {
			ok, err := fn(ctx, h.Device)
			require.NoError(t, err, op)
			assert.True(t, ok, op)
		}
	})

	t.Run("CheckConnection", func(t *testing.T) {
		a := newAdapter()
		assert.True(t, a.CheckConnection(context.Background(), h.Device))

		if h.Unreachable == nil {
			return
		}
		start := time.Now()
		assert.False(t, a.CheckConnection(context.Background(), h.Unreachable))
		assert.Less(t, time.Since(start), h.CheckBudget)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		a := newAdapter()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		ok, err := a.RemoteOpen(ctx, h.Device)
		assert.False(t, ok)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, adapter.ErrTransport),
			"unexpected error: %v", err)
		assert.False(t, a.CheckConnection(ctx, h.Device))
	})

	t.Run("Concurrent", func(t *testing.T) {
		a := newAdapter()
		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := a.RemoteOpen(context.Background(), h.Device); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("concurrent RemoteOpen: %v", err)
		}
	})
}
