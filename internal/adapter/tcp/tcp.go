// Package tcp implements the byte-stream access-control adapter: one ASCII
// line per command over a fresh TCP connection.
//
// Wire format:
//
//	request:  <VERB>:<deviceId>:<payload>\n
//	response: a single line; "OK" or "SUCCESS" anywhere in it is success
//
// VERB is OPEN, RESTART or SYNC_TIME. The payload is the Unix millisecond
// timestamp for OPEN and RESTART and "2006-01-02 15:04:05" for SYNC_TIME.
package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/gray-logic-access/internal/adapter"
	"github.com/nerrad567/gray-logic-access/internal/device"
)

const (
	// ProtocolName is the registry key of this adapter.
	ProtocolName    = "tcp"
	protocolVersion = "1.0"

	verbOpen     = "OPEN"
	verbRestart  = "RESTART"
	verbSyncTime = "SYNC_TIME"

	// maxResponseBytes caps how much of a reply is read.
	maxResponseBytes = 4096
)

// Defaults applied by DefaultConfig.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 3 * time.Second
	DefaultRetryDelay     = 500 * time.Millisecond
	DefaultMaxAttempts    = 3
)

// DefaultManufacturers are the vendors this adapter claims unless configured.
var DefaultManufacturers = []string{"zkteco", "anviz"}

// Config controls timeouts, retry budget and claimed vendors.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	RetryDelay     time.Duration
	MaxAttempts    int
	Manufacturers  []string
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
		RetryDelay:     DefaultRetryDelay,
		MaxAttempts:    DefaultMaxAttempts,
		Manufacturers:  append([]string(nil), DefaultManufacturers...),
	}
}

// Dialer opens connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithDialer replaces the network dialer (tests use this to simulate
// unreachable devices).
func WithDialer(d Dialer) Option {
	return func(a *Adapter) { a.dialer = d }
}

// WithClock replaces the clock used for command payloads.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// WithLogger sets the adapter logger.
func WithLogger(l adapter.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// Adapter is the byte-stream ProtocolAdapter. It holds no connection state
// and is safe for concurrent use.
type Adapter struct {
	adapter.Metadata

	cfg    Config
	dialer Dialer
	now    func() time.Time
	logger adapter.Logger
}

// New creates an adapter. Zero fields in cfg fall back to the defaults.
func New(cfg Config, opts ...Option) *Adapter {
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Manufacturers == nil {
		cfg.Manufacturers = def.Manufacturers
	}

	a := &Adapter{
		Metadata: adapter.Metadata{
			Name:          ProtocolName,
			Version:       protocolVersion,
			Manufacturers: cfg.Manufacturers,
			ProtocolTypes: []string{device.ProtocolTCP},
			Features:      []string{"remote_open", "restart", "time_sync", "connection_check"},
			AdapterClass:  adapter.ClassVendor,
		},
		cfg:    cfg,
		dialer: &net.Dialer{Timeout: cfg.ConnectTimeout},
		now:    time.Now,
		logger: adapter.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SupportsDevice accepts TCP (or unspecified) devices with an address and a
// valid port.
func (a *Adapter) SupportsDevice(d *device.Device) bool {
	if d == nil {
		return false
	}
	pt := d.NormalizedProtocolType()
	if pt != "" && pt != device.ProtocolTCP {
		return false
	}
	return strings.TrimSpace(d.IPAddress) != "" && d.Port > 0 && d.Port <= 65535
}

// RemoteOpen sends OPEN with the current Unix millisecond timestamp.
func (a *Adapter) RemoteOpen(ctx context.Context, d *device.Device) (bool, error) {
	return a.execute(ctx, d, adapter.OpRemoteOpen, verbOpen, a.millis)
}

// RestartDevice sends RESTART with the current Unix millisecond timestamp.
func (a *Adapter) RestartDevice(ctx context.Context, d *device.Device) (bool, error) {
	return a.execute(ctx, d, adapter.OpRestartDevice, verbRestart, a.millis)
}

// SyncDeviceTime sends SYNC_TIME with the local wall-clock time.
func (a *Adapter) SyncDeviceTime(ctx context.Context, d *device.Device) (bool, error) {
	return a.execute(ctx, d, adapter.OpSyncDeviceTime, verbSyncTime, func() string {
		return a.now().Format(adapter.TimeLayout)
	})
}

// CheckConnection reports whether a TCP handshake completes within the
// connect timeout. Nothing is written.
func (a *Adapter) CheckConnection(ctx context.Context, d *device.Device) bool {
	if d == nil || ctx.Err() != nil {
		return false
	}

	conn, err := a.dial(ctx, address(d))
	if err != nil {
		a.logger.Debug("tcp connection check failed", "device_id", d.ID, "address", address(d), "error", err)
		return false
	}
	conn.Close() //nolint:errcheck // Connection check only
	return true
}

// execute runs one command with the retry budget. Only transport failures
// are retried; any reply, positive or not, ends the loop.
func (a *Adapter) execute(ctx context.Context, d *device.Device, op adapter.Operation, verb string, payload func() string) (bool, error) {
	if d == nil {
		return false, fmt.Errorf("%w: nil device", adapter.ErrInvalidDevice)
	}
	addr := address(d)
	line := encode(verb, d.ID, payload())
	attempts := 0

	reply, err := backoff.RetryNotifyWithData(
		func() (string, error) {
			attempts++
			return a.roundTrip(ctx, addr, line)
		},
		a.policy(ctx),
		func(err error, wait time.Duration) {
			a.logger.Warn("tcp command attempt failed",
				"device_id", d.ID, "operation", op, "attempt", attempts, "retry_in", wait, "error", err)
		},
	)
	if err != nil {
		if ctxErr := adapter.Interrupted(ctx, ProtocolName, op, d.ID); ctxErr != nil {
			return false, ctxErr
		}
		return false, &adapter.TransportError{
			Protocol:  ProtocolName,
			Operation: op,
			DeviceID:  d.ID,
			Attempts:  attempts,
			Err:       err,
		}
	}

	ok := isSuccess(reply)
	a.logger.Debug("tcp command completed",
		"device_id", d.ID, "operation", op, "attempts", attempts, "success", ok)
	return ok, nil
}

// policy is a constant delay capped at MaxAttempts total tries, bound to ctx.
func (a *Adapter) policy(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(a.cfg.RetryDelay), uint64(a.cfg.MaxAttempts-1)),
		ctx,
	)
}

// roundTrip is one attempt: connect, write the line, read one reply line,
// close. A read that times out with no data is a transport failure; EOF
// is a reply (possibly empty).
func (a *Adapter) roundTrip(ctx context.Context, addr, line string) (string, error) {
	conn, err := a.dial(ctx, addr)
	if err != nil {
		return "", fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close() //nolint:errcheck // Best effort

	// Unblock I/O if the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now()) //nolint:errcheck // Connection is being abandoned
	})
	defer stop()

	if err := conn.SetWriteDeadline(time.Now().Add(a.cfg.ReadTimeout)); err != nil {
		return "", fmt.Errorf("setting write deadline: %w", err)
	}
	if _, err := io.WriteString(conn, line); err != nil {
		return "", fmt.Errorf("writing command: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout)); err != nil {
		return "", fmt.Errorf("setting read deadline: %w", err)
	}
	reply, err := bufio.NewReader(io.LimitReader(conn, maxResponseBytes)).ReadString('\n')
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return strings.TrimSpace(reply), nil
	case reply != "":
		// Partial line before the deadline still counts as the answer.
		return strings.TrimSpace(reply), nil
	case ctx.Err() != nil:
		return "", ctx.Err()
	default:
		return "", fmt.Errorf("awaiting response: %w", err)
	}
}

func (a *Adapter) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, a.cfg.ConnectTimeout)
	defer cancel()
	return a.dialer.DialContext(dialCtx, "tcp", addr)
}

func (a *Adapter) millis() string {
	return strconv.FormatInt(a.now().UnixMilli(), 10)
}

func encode(verb, deviceID, payload string) string {
	return verb + ":" + deviceID + ":" + payload + "\n"
}

func isSuccess(reply string) bool {
	return strings.Contains(reply, "OK") || strings.Contains(reply, "SUCCESS")
}

func address(d *device.Device) string {
	return net.JoinHostPort(strings.TrimSpace(d.IPAddress), strconv.Itoa(d.Port))
}
