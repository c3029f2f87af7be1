package command

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-access/internal/adapter"
	"github.com/nerrad567/gray-logic-access/internal/adapter/adaptertest"
	"github.com/nerrad567/gray-logic-access/internal/adapter/tcp"
	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/influxdb"
)

type fakeDevices struct {
	devices map[string]device.Device
	listErr error
}

func (f *fakeDevices) GetDevice(_ context.Context, id string) (*device.Device, error) {
	d, ok := f.devices[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return d.Clone(), nil
}

func (f *fakeDevices) ListDevices(context.Context) ([]device.Device, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]device.Device, 0, len(f.devices))
	for _, d := range f.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	err       error
	topics    []string
	payloads  [][]byte
}

func (p *fakePublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *fakePublisher) IsConnected() bool { return p.connected }

type fakeOutcomes struct {
	mu       sync.Mutex
	outcomes []influxdb.CommandOutcome
}

func (f *fakeOutcomes) WriteCommandOutcome(o influxdb.CommandOutcome) {
	f.mu.Lock()
	f.outcomes = append(f.outcomes, o)
	f.mu.Unlock()
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeRecorder) ObserveCommand(command, adapterName, category string, _ time.Duration) {
	f.mu.Lock()
	f.calls = append(f.calls, command+"/"+adapterName+"/"+category)
	f.mu.Unlock()
}

type fixture struct {
	tcp       *adaptertest.Fake
	devices   *fakeDevices
	publisher *fakePublisher
	outcomes  *fakeOutcomes
	recorder  *fakeRecorder
	svc       *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	tcp := adaptertest.NewFake("tcp", adapter.ClassVendor, "zkteco").WithProtocolTypes(device.ProtocolTCP)
	reg, err := adapter.NewRegistry(tcp)
	require.NoError(t, err)

	f := &fixture{
		tcp: tcp,
		devices: &fakeDevices{devices: map[string]device.Device{
			"zk-01": {ID: "zk-01", Name: "North Gate", Type: device.DeviceTypeDoorController,
				Manufacturer: "ZKTeco", ProtocolType: device.ProtocolTCP, IPAddress: "10.0.0.5", Port: 4370},
			"zk-02": {ID: "zk-02", Name: "South Gate", Type: device.DeviceTypeTurnstile,
				Manufacturer: "zkteco", ProtocolType: device.ProtocolTCP, IPAddress: "10.0.0.6", Port: 4370},
			"odd-01": {ID: "odd-01", Name: "Mystery Box", Type: device.DeviceTypeCardReader,
				Manufacturer: "acme", ProtocolType: device.ProtocolSDK, IPAddress: "10.0.0.7", Port: 9000},
		}},
		publisher: &fakePublisher{connected: true},
		outcomes:  &fakeOutcomes{},
		recorder:  &fakeRecorder{},
	}
	tcp.Supports = func(d *device.Device) bool { return d.NormalizedManufacturer() == "zkteco" }

	base := []Option{
		WithPublisher(f.publisher),
		WithOutcomeWriter(f.outcomes),
		WithRecorder(f.recorder),
	}
	f.svc = NewService(f.devices, adapter.NewResolver(reg), append(base, opts...)...)
	return f
}

func TestExecute_Success(t *testing.T) {
	f := newFixture(t)

	res := f.svc.Execute(context.Background(), "zk-01", adapter.OpRemoteOpen)

	assert.True(t, res.Success)
	assert.Equal(t, CategoryOK, res.Category)
	assert.Equal(t, "tcp", res.Adapter)
	assert.Equal(t, "zk-01", res.DeviceID)
	assert.NoError(t, res.Err)
	assert.Equal(t, 1, f.tcp.Calls())

	assert.Equal(t, []string{"remote_open/tcp/ok"}, f.recorder.calls)
	require.Len(t, f.outcomes.outcomes, 1)
	assert.Equal(t, "zkteco", f.outcomes.outcomes[0].Manufacturer)
	assert.True(t, f.outcomes.outcomes[0].Success)

	require.Len(t, f.publisher.topics, 1)
	assert.Equal(t, "graylogic/core/event/access_command", f.publisher.topics[0])
	var ev map[string]any
	require.NoError(t, json.Unmarshal(f.publisher.payloads[0], &ev))
	assert.Equal(t, "zk-01", ev["device_id"])
	assert.Equal(t, "remote_open", ev["command"])
	assert.Equal(t, "ok", ev["category"])
	assert.NotContains(t, ev, "error")
}

func TestExecute_Categories(t *testing.T) {
	transport := &adapter.TransportError{Protocol: "tcp", Operation: adapter.OpRestartDevice, DeviceID: "zk-01", Attempts: 3, Err: errors.New("i/o timeout")}

	tests := []struct {
		name     string
		deviceID string
		op       adapter.Operation
		ok       bool
		err      error
		want     Category
		adapter  string
	}{
		{name: "negative reply", deviceID: "zk-01", op: adapter.OpRestartDevice, ok: false, want: CategoryNegative, adapter: "tcp"},
		{name: "transport failure", deviceID: "zk-01", op: adapter.OpRestartDevice, err: transport, want: CategoryUpstreamUnavailable, adapter: "tcp"},
		{name: "unexpected adapter error", deviceID: "zk-01", op: adapter.OpSyncDeviceTime, err: errors.New("boom"), want: CategoryInternal, adapter: "tcp"},
		{name: "unknown device", deviceID: "ghost", op: adapter.OpRemoteOpen, ok: true, want: CategoryClientError},
		{name: "no adapter", deviceID: "odd-01", op: adapter.OpRemoteOpen, ok: true, want: CategoryClientError},
		{name: "unknown command", deviceID: "zk-01", op: adapter.Operation("self_destruct"), ok: true, want: CategoryClientError, adapter: "tcp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.tcp.SetResult(tt.ok, tt.err)

			res := f.svc.Execute(context.Background(), tt.deviceID, tt.op)

			assert.False(t, res.Success)
			assert.Equal(t, tt.want, res.Category)
			assert.Equal(t, tt.adapter, res.Adapter)
			assert.Len(t, f.recorder.calls, 1, "every outcome is recorded")
		})
	}
}

func TestExecute_CheckConnection(t *testing.T) {
	f := newFixture(t)

	res := f.svc.Execute(context.Background(), "zk-01", adapter.OpCheckConnection)
	assert.True(t, res.Success)

	f.tcp.SetReachable(false)
	res = f.svc.Execute(context.Background(), "zk-01", adapter.OpCheckConnection)
	assert.False(t, res.Success)
	assert.Equal(t, CategoryNegative, res.Category)
	assert.NoError(t, res.Err)
}

func TestExecute_Duration(t *testing.T) {
	var tick atomic.Int64
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return base.Add(time.Duration(tick.Add(1)) * 100 * time.Millisecond) }

	f := newFixture(t, WithClock(clock))
	res := f.svc.Execute(context.Background(), "zk-01", adapter.OpRemoteOpen)

	assert.Equal(t, 100*time.Millisecond, res.Duration)
}

func TestExecute_SinksAreOptional(t *testing.T) {
	tcp := adaptertest.NewFake("tcp", adapter.ClassVendor, "zkteco")
	reg, err := adapter.NewRegistry(tcp)
	require.NoError(t, err)
	devices := &fakeDevices{devices: map[string]device.Device{
		"zk-01": {ID: "zk-01", Name: "Gate", Type: device.DeviceTypeDoorController, Manufacturer: "zkteco", ProtocolType: device.ProtocolTCP},
	}}

	svc := NewService(devices, adapter.NewResolver(reg))
	res := svc.Execute(context.Background(), "zk-01", adapter.OpRemoteOpen)
	assert.Equal(t, CategoryOK, res.Category)
}

func TestExecute_PublisherProblemsDoNotChangeResult(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker gone")

	res := f.svc.Execute(context.Background(), "zk-01", adapter.OpRemoteOpen)
	assert.Equal(t, CategoryOK, res.Category)

	f.publisher.err = nil
	f.publisher.connected = false
	res = f.svc.Execute(context.Background(), "zk-01", adapter.OpRemoteOpen)
	assert.Equal(t, CategoryOK, res.Category)
	assert.Empty(t, f.publisher.topics)
}

func TestExecuteDevice_Nil(t *testing.T) {
	f := newFixture(t)
	res := f.svc.ExecuteDevice(context.Background(), nil, adapter.OpRemoteOpen)
	assert.Equal(t, CategoryClientError, res.Category)
	assert.ErrorIs(t, res.Err, adapter.ErrInvalidDevice)
}

func TestExecuteAll_PreservesOrder(t *testing.T) {
	f := newFixture(t, WithConcurrency(2))

	ids := []string{"zk-02", "ghost", "zk-01"}
	results := f.svc.ExecuteAll(context.Background(), ids, adapter.OpSyncDeviceTime)

	require.Len(t, results, 3)
	for i, id := range ids {
		assert.Equal(t, id, results[i].DeviceID)
	}
	assert.Equal(t, CategoryOK, results[0].Category)
	assert.Equal(t, CategoryClientError, results[1].Category)
	assert.Equal(t, CategoryOK, results[2].Category)
}

// blockingFake holds every command until released, to observe concurrency.
type blockingFake struct {
	*adaptertest.Fake
	active, peak atomic.Int32
	release      chan struct{}
}

func (b *blockingFake) RemoteOpen(ctx context.Context, d *device.Device) (bool, error) {
	n := b.active.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	<-b.release
	b.active.Add(-1)
	return true, nil
}

func TestExecuteAll_BoundedConcurrency(t *testing.T) {
	fake := &blockingFake{Fake: adaptertest.NewFake("tcp", adapter.ClassVendor, "zkteco"), release: make(chan struct{})}
	reg, err := adapter.NewRegistry(fake)
	require.NoError(t, err)

	devices := &fakeDevices{devices: map[string]device.Device{}}
	var ids []string
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		devices.devices[id] = device.Device{ID: id, Name: id, Type: device.DeviceTypeDoorController, Manufacturer: "zkteco", ProtocolType: device.ProtocolTCP}
		ids = append(ids, id)
	}

	svc := NewService(devices, adapter.NewResolver(reg), WithConcurrency(2))

	done := make(chan []Result)
	go func() { done <- svc.ExecuteAll(context.Background(), ids, adapter.OpRemoteOpen) }()

	require.Eventually(t, func() bool { return fake.active.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(fake.release)

	results := <-done
	assert.LessOrEqual(t, fake.peak.Load(), int32(2))
	for _, r := range results {
		assert.True(t, r.Success)
	}
}

func TestCheckAll(t *testing.T) {
	f := newFixture(t)

	results, err := f.svc.CheckAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	byID := map[string]Result{}
	for _, r := range results {
		assert.Equal(t, adapter.OpCheckConnection, r.Command)
		byID[r.DeviceID] = r
	}
	assert.True(t, byID["zk-01"].Success)
	assert.True(t, byID["zk-02"].Success)
	assert.Equal(t, CategoryClientError, byID["odd-01"].Category)
}

func TestCheckAll_ListError(t *testing.T) {
	f := newFixture(t)
	f.devices.listErr = errors.New("database is locked")

	_, err := f.svc.CheckAll(context.Background())
	assert.Error(t, err)
}

// hangingDialer never connects; it returns only when ctx ends.
type hangingDialer struct{}

func (hangingDialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestExecute_CancelledMidDialIsInternal(t *testing.T) {
	cfg := tcp.DefaultConfig()
	cfg.ConnectTimeout = time.Minute
	reg, err := adapter.NewRegistry(tcp.New(cfg, tcp.WithDialer(hangingDialer{})))
	require.NoError(t, err)

	devices := &fakeDevices{devices: map[string]device.Device{
		"zk": {ID: "zk", Name: "Gate", Type: device.DeviceTypeDoorController,
			Manufacturer: "ZKTeco", ProtocolType: device.ProtocolTCP, IPAddress: "192.0.2.1", Port: 4370},
	}}
	svc := NewService(devices, adapter.NewResolver(reg))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	res := svc.Execute(ctx, "zk", adapter.OpRemoteOpen)

	assert.Equal(t, CategoryInternal, res.Category)
	assert.Equal(t, 4, res.Category.ExitCode())
	require.ErrorIs(t, res.Err, context.Canceled)
	assert.NotErrorIs(t, res.Err, adapter.ErrTransport)
}

func cancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
		err  error
		want Category
	}{
		{"acknowledged", true, nil, CategoryOK},
		{"refused", false, nil, CategoryNegative},
		{"invalid device", false, adapter.ErrInvalidDevice, CategoryClientError},
		{"invalid record", false, device.ErrInvalidDevice, CategoryClientError},
		{"unknown device", false, device.ErrDeviceNotFound, CategoryClientError},
		{"no adapter", false, &adapter.NoAdapterError{DeviceType: device.DeviceTypeCardReader}, CategoryClientError},
		{"transport", false, &adapter.TransportError{Err: errors.New("refused")}, CategoryUpstreamUnavailable},
		{"wrapped transport", false, errors.Join(errors.New("ctx"), adapter.ErrTransport), CategoryUpstreamUnavailable},
		{"context canceled", false, context.Canceled, CategoryInternal},
		{"interrupted", false, adapter.Interrupted(cancelledContext(), "TCP", adapter.OpRemoteOpen, "zk"), CategoryInternal},
		{"ok with error", true, errors.New("odd"), CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.ok, tt.err))
		})
	}
}

func TestCategoryExitCode(t *testing.T) {
	assert.Equal(t, 0, CategoryOK.ExitCode())
	assert.Equal(t, 1, CategoryNegative.ExitCode())
	assert.Equal(t, 2, CategoryClientError.ExitCode())
	assert.Equal(t, 3, CategoryUpstreamUnavailable.ExitCode())
	assert.Equal(t, 4, CategoryInternal.ExitCode())
}
