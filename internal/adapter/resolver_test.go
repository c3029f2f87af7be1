package adapter_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-access/internal/adapter"
	"github.com/nerrad567/gray-logic-access/internal/adapter/adaptertest"
	"github.com/nerrad567/gray-logic-access/internal/device"
)

// countingFake counts SupportsDevice calls to observe how often resolution runs.
type countingFake struct {
	*adaptertest.Fake
	mu       sync.Mutex
	supports int
}

func (c *countingFake) SupportsDevice(d *device.Device) bool {
	c.mu.Lock()
	c.supports++
	c.mu.Unlock()
	return c.Fake.SupportsDevice(d)
}

func (c *countingFake) supportCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.supports
}

func protocolIs(types ...string) func(*device.Device) bool {
	return func(d *device.Device) bool {
		pt := d.NormalizedProtocolType()
		for _, t := range types {
			if pt == t {
				return true
			}
		}
		return false
	}
}

type fixture struct {
	tcp      *adaptertest.Fake
	http     *adaptertest.Fake
	bridge   *adaptertest.Fake
	resolver *adapter.Resolver
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	tcp := adaptertest.NewFake("tcp", adapter.ClassVendor, "zkteco", "anviz").WithProtocolTypes("TCP")
	tcp.Supports = protocolIs("TCP", "")
	http := adaptertest.NewFake("http", adapter.ClassProtocolFamily).WithProtocolTypes("HTTP", "HTTPS")
	http.Supports = protocolIs("HTTP", "HTTPS")
	bridge := adaptertest.NewFake("bridge", adapter.ClassVendor, "hikvision", "dahua").WithProtocolTypes("SDK", "MQTT")
	bridge.Supports = protocolIs("SDK", "MQTT")

	reg, err := adapter.NewRegistry(http, tcp, bridge)
	require.NoError(t, err)
	return fixture{tcp: tcp, http: http, bridge: bridge, resolver: adapter.NewResolver(reg)}
}

func dev(manufacturer, protocolType string) *device.Device {
	return &device.Device{
		ID:           "dev-1",
		Name:         "Gate",
		Type:         device.DeviceTypeDoorController,
		Manufacturer: manufacturer,
		ProtocolType: protocolType,
		IPAddress:    "10.0.0.5",
		Port:         4370,
	}
}

func TestResolve_ManufacturerMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.resolver.Resolve(ctx, dev(" ZKTeco ", "tcp"))
	require.NoError(t, err)
	assert.Same(t, f.tcp, a)

	a, err = f.resolver.Resolve(ctx, dev("Hikvision", "SDK"))
	require.NoError(t, err)
	assert.Same(t, f.bridge, a)
}

func TestResolve_ManufacturerMatchStillChecksSupportsDevice(t *testing.T) {
	f := newFixture(t)

	// Hikvision is claimed by the bridge, but the bridge cannot speak HTTP.
	a, err := f.resolver.Resolve(context.Background(), dev("hikvision", "HTTP"))
	require.NoError(t, err)
	assert.Same(t, f.http, a)
}

func TestResolve_GenericHTTP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, mfr := range []string{"", "Generic", " generic "} {
		for _, pt := range []string{"HTTP", "https"} {
			a, err := f.resolver.Resolve(ctx, dev(mfr, pt))
			require.NoError(t, err, "%q/%q", mfr, pt)
			assert.Same(t, f.http, a, "%q/%q", mfr, pt)
		}
	}
}

func TestResolve_GenericHTTPBeatsHigherPriorityCatchAll(t *testing.T) {
	// catchall outranks the HTTP family adapter and accepts every device, so
	// only the generic HTTP rule can route these devices to http.
	catchall := adaptertest.NewFake("catchall", adapter.ClassVendor, "suprema").WithProtocolTypes("TCP", "HTTP")
	http := adaptertest.NewFake("http", adapter.ClassProtocolFamily).WithProtocolTypes("HTTP", "HTTPS")
	http.Supports = protocolIs("HTTP", "HTTPS")

	reg, err := adapter.NewRegistry(catchall, http)
	require.NoError(t, err)
	require.Equal(t, "catchall", reg.Descriptors()[0].ProtocolName)
	r := adapter.NewResolver(reg)
	ctx := context.Background()

	for _, mfr := range []string{"", "Generic"} {
		a, err := r.Resolve(ctx, dev(mfr, "HTTP"))
		require.NoError(t, err, "%q", mfr)
		assert.Same(t, http, a, "%q", mfr)
	}

	// Anything else falls through to the priority scan.
	a, err := r.Resolve(ctx, dev("Acme", "HTTP"))
	require.NoError(t, err)
	assert.Same(t, catchall, a)
}

func TestResolve_ScanFallback(t *testing.T) {
	f := newFixture(t)

	// Unknown vendor on TCP: no claim, not generic HTTP, first supporting adapter wins.
	a, err := f.resolver.Resolve(context.Background(), dev("Suprema", "TCP"))
	require.NoError(t, err)
	assert.Same(t, f.tcp, a)
}

func TestResolve_NoAdapter(t *testing.T) {
	f := newFixture(t)

	d := dev("Suprema", "BACNET")
	_, err := f.resolver.Resolve(context.Background(), d)
	require.Error(t, err)
	assert.ErrorIs(t, err, adapter.ErrNoAdapterFound)
	assert.False(t, adapter.IsRetryable(err))

	var noAdapter *adapter.NoAdapterError
	require.True(t, errors.As(err, &noAdapter))
	assert.Equal(t, device.DeviceTypeDoorController, noAdapter.DeviceType)
	assert.Equal(t, "Suprema", noAdapter.Manufacturer)
	assert.Equal(t, "BACNET", noAdapter.ProtocolType)

	assert.Zero(t, f.resolver.Stats().CacheSize, "failures are not memoized")
}

func TestResolve_InvalidDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.resolver.Resolve(ctx, nil)
	assert.ErrorIs(t, err, adapter.ErrInvalidDevice)

	d := dev("zkteco", "TCP")
	d.Type = "thermostat"
	_, err = f.resolver.Resolve(ctx, d)
	assert.ErrorIs(t, err, adapter.ErrInvalidDevice)
	assert.False(t, f.resolver.IsDeviceSupported(d))
	assert.False(t, f.resolver.IsDeviceSupported(nil))
}

func TestResolve_CanceledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.resolver.Resolve(ctx, dev("zkteco", "TCP"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolve_MemoizesIdenticalInstance(t *testing.T) {
	tcp := &countingFake{Fake: adaptertest.NewFake("tcp", adapter.ClassVendor, "zkteco")}
	reg, err := adapter.NewRegistry(tcp)
	require.NoError(t, err)
	r := adapter.NewResolver(reg)
	ctx := context.Background()

	first, err := r.Resolve(ctx, dev("zkteco", "TCP"))
	require.NoError(t, err)
	second, err := r.Resolve(ctx, dev("ZKTECO ", " tcp"))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, tcp.supportCalls(), "resolution runs once per key")

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.CacheHits)
	assert.Equal(t, uint64(1), stats.CacheMisses)
	assert.Equal(t, uint64(1), stats.Resolutions)
	assert.Equal(t, 1, stats.CacheSize)
}

func TestResolve_ConcurrentSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]adapter.ProtocolAdapter, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := f.resolver.Resolve(ctx, dev("anviz", "TCP"))
			if err == nil {
				results[i] = a
			}
		}(i)
	}
	wg.Wait()

	for _, a := range results {
		assert.Same(t, f.tcp, a)
	}
	assert.Equal(t, 1, f.resolver.Stats().CacheSize)
}

func TestClearCache(t *testing.T) {
	tcp := &countingFake{Fake: adaptertest.NewFake("tcp", adapter.ClassVendor, "zkteco")}
	reg, err := adapter.NewRegistry(tcp)
	require.NoError(t, err)
	r := adapter.NewResolver(reg)
	ctx := context.Background()

	_, err = r.Resolve(ctx, dev("zkteco", "TCP"))
	require.NoError(t, err)

	r.ClearCache()
	assert.Zero(t, r.Stats().CacheSize)
	assert.Equal(t, []string{"zkteco"}, r.SupportedManufacturers(), "manufacturer map survives")

	_, err = r.Resolve(ctx, dev("zkteco", "TCP"))
	require.NoError(t, err)
	assert.Equal(t, 2, tcp.supportCalls(), "cleared key is resolved again")
}

func TestIsDeviceSupported_DoesNotMemoize(t *testing.T) {
	f := newFixture(t)

	assert.True(t, f.resolver.IsDeviceSupported(dev("zkteco", "TCP")))
	assert.True(t, f.resolver.IsDeviceSupported(dev("", "HTTPS")))
	assert.False(t, f.resolver.IsDeviceSupported(dev("acme", "BACNET")))
	assert.Zero(t, f.resolver.Stats().CacheSize)
}

func TestReinitialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.resolver.Resolve(ctx, dev("zkteco", "TCP"))
	require.NoError(t, err)

	// A runtime change: a higher-priority vendor adapter now claims zkteco.
	zk := adaptertest.NewFake("zk-native", adapter.ClassVendor, "zkteco").WithProtocolTypes("TCP")
	reg := f.resolver.Registry()
	require.NoError(t, reg.Remove("tcp"))
	require.NoError(t, reg.Add(zk))

	f.resolver.Reinitialize()
	assert.Zero(t, f.resolver.Stats().CacheSize)

	a, err := f.resolver.Resolve(ctx, dev("zkteco", "TCP"))
	require.NoError(t, err)
	assert.Same(t, zk, a)
}

func TestReinitializeEqualsFresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.resolver.Resolve(ctx, dev("dahua", "MQTT"))
	require.NoError(t, err)

	f.resolver.Reinitialize()

	fresh := newFixture(t)
	assert.Equal(t, fresh.resolver.SupportedManufacturers(), f.resolver.SupportedManufacturers())
	assert.Equal(t, fresh.resolver.SupportedProtocolTypes(), f.resolver.SupportedProtocolTypes())
	assert.Equal(t, fresh.resolver.AdapterInfos(), f.resolver.AdapterInfos())
	assert.Equal(t, fresh.resolver.Stats().CacheSize, f.resolver.Stats().CacheSize)
}

func TestReinitialize_ConcurrentWithResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			a, err := f.resolver.Resolve(ctx, dev("zkteco", "TCP"))
			assert.NoError(t, err)
			assert.Same(t, f.tcp, a)
		}()
		go func() {
			defer wg.Done()
			f.resolver.Reinitialize()
		}()
	}
	wg.Wait()
}

func TestIntrospection(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, []string{"anviz", "dahua", "hikvision", "zkteco"}, f.resolver.SupportedManufacturers())
	assert.Equal(t, []string{"HTTP", "HTTPS", "MQTT", "SDK", "TCP"}, f.resolver.SupportedProtocolTypes())

	infos := f.resolver.AdapterInfos()
	require.Len(t, infos, 3)
	assert.Equal(t, "tcp", infos[0].ProtocolName)
	assert.Equal(t, "bridge", infos[1].ProtocolName)
	assert.Equal(t, "http", infos[2].ProtocolName)
}

func TestAdapterInfos_ReturnsCopies(t *testing.T) {
	f := newFixture(t)

	infos := f.resolver.AdapterInfos()
	require.Equal(t, "http", infos[2].ProtocolName)
	infos[0].SupportedManufacturers[0] = "tampered"
	infos[2].ProtocolTypes[0] = "TAMPERED"

	again := f.resolver.AdapterInfos()
	assert.Equal(t, []string{"zkteco", "anviz"}, again[0].SupportedManufacturers)
	assert.Equal(t, []string{"HTTP", "HTTPS"}, again[2].ProtocolTypes)

	// The protocol family index still sees HTTP.
	a, err := f.resolver.Resolve(context.Background(), dev("Generic", "HTTP"))
	require.NoError(t, err)
	assert.Same(t, f.http, a)
}

func TestCacheKey(t *testing.T) {
	tests := []struct {
		name string
		dev  *device.Device
		want string
	}{
		{"all segments", dev(" ZKTeco ", " tcp "), "door_controller:zkteco:TCP"},
		{"no manufacturer", dev("", "HTTP"), "door_controller:HTTP"},
		{"no protocol", dev("Anviz", ""), "door_controller:anviz"},
		{"type only", dev("  ", " "), "door_controller"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, adapter.CacheKey(tt.dev))
		})
	}
}

func TestTransportError(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&adapter.TransportError{
		Protocol: "tcp", Operation: adapter.OpRemoteOpen, DeviceID: "dev-1", Attempts: 3, Err: cause,
	})

	assert.ErrorIs(t, err, adapter.ErrTransport)
	assert.ErrorIs(t, err, cause)
	assert.True(t, adapter.IsRetryable(err))
	assert.Contains(t, err.Error(), "3 attempt(s)")
	assert.Contains(t, err.Error(), "remote_open")
	assert.NotErrorIs(t, err, adapter.ErrNoAdapterFound)
}
