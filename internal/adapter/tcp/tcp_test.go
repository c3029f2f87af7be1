package tcp

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-access/internal/adapter"
	"github.com/nerrad567/gray-logic-access/internal/adapter/adaptertest"
	"github.com/nerrad567/gray-logic-access/internal/device"
)

// lineServer is a loopback device that answers each request line with reply.
// An empty reply closes the connection without writing.
type lineServer struct {
	ln     net.Listener
	reply  string
	silent bool // read the request but never answer

	mu    sync.Mutex
	lines []string
	conns atomic.Int64
}

func startLineServer(t *testing.T, reply string) *lineServer {
	t.Helper()
	return startServer(t, reply, false)
}

func startServer(t *testing.T, reply string, silent bool) *lineServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &lineServer{ln: ln, reply: reply, silent: silent}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.conns.Add(1)
			go s.serve(conn)
		}
	}()
	return s
}

func (s *lineServer) serve(conn net.Conn) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	s.mu.Lock()
	s.lines = append(s.lines, line)
	s.mu.Unlock()

	if s.silent {
		time.Sleep(time.Second)
		return
	}
	if s.reply != "" {
		_, _ = conn.Write([]byte(s.reply))
	}
}

func (s *lineServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func (s *lineServer) device(t *testing.T) *device.Device {
	t.Helper()
	host, portStr, err := net.SplitHostPort(s.ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &device.Device{
		ID:           "dev-1",
		Name:         "North Gate",
		Type:         device.DeviceTypeDoorController,
		Manufacturer: "ZKTeco",
		ProtocolType: device.ProtocolTCP,
		IPAddress:    host,
		Port:         port,
	}
}

// closedPortDevice returns a device pointing at a port nothing listens on.
func closedPortDevice(t *testing.T) *device.Device {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return &device.Device{
		ID:           "dev-closed",
		Name:         "Dead Reader",
		Type:         device.DeviceTypeCardReader,
		ProtocolType: device.ProtocolTCP,
		IPAddress:    "127.0.0.1",
		Port:         port,
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 500 * time.Millisecond
	cfg.ReadTimeout = 200 * time.Millisecond
	cfg.RetryDelay = 10 * time.Millisecond
	return cfg
}

var fixedNow = time.Date(2026, 3, 1, 9, 30, 15, 0, time.Local)

func TestRemoteOpen_OK(t *testing.T) {
	srv := startLineServer(t, "OK\n")
	a := New(fastConfig(), WithClock(func() time.Time { return fixedNow }))

	ok, err := a.RemoteOpen(context.Background(), srv.device(t))
	require.NoError(t, err)
	assert.True(t, ok)

	lines := srv.received()
	require.Len(t, lines, 1)
	assert.Equal(t, "OPEN:dev-1:"+strconv.FormatInt(fixedNow.UnixMilli(), 10)+"\n", lines[0])
}

func TestRemoteOpen_DenyIsNegativeWithoutRetry(t *testing.T) {
	srv := startLineServer(t, "DENY\n")
	a := New(fastConfig())

	ok, err := a.RemoteOpen(context.Background(), srv.device(t))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), srv.conns.Load(), "a parsed negative reply is never retried")
}

func TestReplies(t *testing.T) {
	tests := []struct {
		reply string
		want  bool
	}{
		{"OK\n", true},
		{"SUCCESS\n", true},
		{"RESULT=OK\r\n", true},
		{"DENY\n", false},
		{"ERROR 42\n", false},
		{"OK", true}, // no terminator, peer closes
		{"", false},  // peer closes without a reply
	}

	for _, tt := range tests {
		t.Run(strconv.Quote(tt.reply), func(t *testing.T) {
			srv := startLineServer(t, tt.reply)
			a := New(fastConfig())

			ok, err := a.RestartDevice(context.Background(), srv.device(t))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, int64(1), srv.conns.Load())
		})
	}
}

func TestRestartDevice_Encoding(t *testing.T) {
	srv := startLineServer(t, "OK\n")
	a := New(fastConfig(), WithClock(func() time.Time { return fixedNow }))

	_, err := a.RestartDevice(context.Background(), srv.device(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"RESTART:dev-1:" + strconv.FormatInt(fixedNow.UnixMilli(), 10) + "\n"}, srv.received())
}

func TestSyncDeviceTime_Encoding(t *testing.T) {
	srv := startLineServer(t, "SUCCESS\n")
	a := New(fastConfig(), WithClock(func() time.Time { return fixedNow }))

	ok, err := a.SyncDeviceTime(context.Background(), srv.device(t))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"SYNC_TIME:dev-1:2026-03-01 09:30:15\n"}, srv.received())
}

// timeoutDialer simulates a device that never completes the handshake.
type timeoutDialer struct {
	wait     time.Duration
	attempts atomic.Int64
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func (d *timeoutDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d.attempts.Add(1)
	select {
	case <-time.After(d.wait):
		return nil, &net.OpError{Op: "dial", Net: network, Err: timeoutError{}}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRemoteOpen_TimeoutsExhaustRetries(t *testing.T) {
	dialer := &timeoutDialer{wait: 50 * time.Millisecond}
	a := New(DefaultConfig(), WithDialer(dialer))
	d := &device.Device{
		ID: "dev-timeout", Type: device.DeviceTypeTurnstile, ProtocolType: "TCP",
		IPAddress: "192.0.2.1", Port: 4370,
	}

	start := time.Now()
	ok, err := a.RemoteOpen(context.Background(), d)
	elapsed := time.Since(start)

	assert.False(t, ok)
	require.Error(t, err)
	assert.ErrorIs(t, err, adapter.ErrTransport)

	var te *adapter.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 3, te.Attempts)
	assert.Equal(t, adapter.OpRemoteOpen, te.Operation)
	assert.Equal(t, ProtocolName, te.Protocol)
	assert.Equal(t, "dev-timeout", te.DeviceID)

	assert.Equal(t, int64(3), dialer.attempts.Load())
	assert.GreaterOrEqual(t, elapsed, 1000*time.Millisecond)
	assert.Less(t, elapsed, 3*time.Second)
}

func TestRemoteOpen_SilentPeerIsTransportFailure(t *testing.T) {
	srv := startServer(t, "", true)
	a := New(fastConfig())

	ok, err := a.RemoteOpen(context.Background(), srv.device(t))
	assert.False(t, ok)
	require.ErrorIs(t, err, adapter.ErrTransport)
	assert.Equal(t, int64(DefaultMaxAttempts), srv.conns.Load())
}

func TestRemoteOpen_ClosedPort(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	a := New(cfg)

	_, err := a.RemoteOpen(context.Background(), closedPortDevice(t))
	var te *adapter.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 2, te.Attempts)
}

func TestRemoteOpen_CancelDuringBackoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryDelay = 5 * time.Second
	a := New(cfg, WithDialer(&timeoutDialer{wait: time.Millisecond}))
	d := &device.Device{ID: "dev-1", Type: device.DeviceTypeTurnstile, IPAddress: "192.0.2.1", Port: 1}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := a.RemoteOpen(ctx, d)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, adapter.ErrTransport, "the caller gave up, the device did not fail")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRemoteOpen_CancelDuringDial(t *testing.T) {
	a := New(DefaultConfig(), WithDialer(&timeoutDialer{wait: time.Minute}))
	d := &device.Device{ID: "dev-1", Type: device.DeviceTypeTurnstile, IPAddress: "192.0.2.1", Port: 1}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := a.RemoteOpen(ctx, d)
	require.ErrorIs(t, err, context.Canceled)

	var te *adapter.TransportError
	assert.False(t, errors.As(err, &te))
}

func TestRemoteOpen_NilDevice(t *testing.T) {
	_, err := New(fastConfig()).RemoteOpen(context.Background(), nil)
	assert.ErrorIs(t, err, adapter.ErrInvalidDevice)
}

func TestCheckConnection(t *testing.T) {
	srv := startLineServer(t, "OK\n")
	a := New(fastConfig())

	assert.True(t, a.CheckConnection(context.Background(), srv.device(t)))
	assert.Empty(t, srv.received(), "a connection check writes nothing")

	start := time.Now()
	assert.False(t, a.CheckConnection(context.Background(), closedPortDevice(t)))
	assert.Less(t, time.Since(start), time.Second)

	assert.False(t, a.CheckConnection(context.Background(), nil))
}

func TestSupportsDevice(t *testing.T) {
	a := New(DefaultConfig())
	base := func() *device.Device {
		return &device.Device{ID: "d", Type: device.DeviceTypeDoorController, ProtocolType: "TCP", IPAddress: "10.0.0.1", Port: 4370}
	}

	assert.True(t, a.SupportsDevice(base()))

	d := base()
	d.ProtocolType = " tcp "
	assert.True(t, a.SupportsDevice(d))

	d = base()
	d.ProtocolType = ""
	assert.True(t, a.SupportsDevice(d), "blank protocol type defaults to TCP")

	d = base()
	d.ProtocolType = "HTTP"
	assert.False(t, a.SupportsDevice(d))

	d = base()
	d.IPAddress = " "
	assert.False(t, a.SupportsDevice(d))

	d = base()
	d.Port = 0
	assert.False(t, a.SupportsDevice(d))

	d = base()
	d.Port = 70000
	assert.False(t, a.SupportsDevice(d))
}

func TestMetadata(t *testing.T) {
	a := New(Config{})
	assert.Equal(t, ProtocolName, a.ProtocolName())
	assert.Equal(t, []string{"zkteco", "anviz"}, a.SupportedManufacturers())
	assert.Equal(t, []string{"TCP"}, a.SupportedProtocolTypes())
	assert.Equal(t, adapter.ClassVendor, a.Class())

	custom := New(Config{Manufacturers: []string{"Suprema"}})
	assert.Equal(t, []string{"Suprema"}, custom.SupportedManufacturers())
}

func TestConformance(t *testing.T) {
	srv := startLineServer(t, "OK\n")
	unsupported := srv.device(t)
	unsupported.ProtocolType = device.ProtocolHTTP

	adaptertest.RunConformance(t, func() adapter.ProtocolAdapter { return New(fastConfig()) }, adaptertest.Harness{
		Device:      srv.device(t),
		Unreachable: closedPortDevice(t),
		Unsupported: unsupported,
	})
}
