// Package httpadapter implements the protocol-family adapter for generic
// HTTP/HTTPS access terminals.
//
// Endpoints (relative to {scheme}://{ip}:{port}):
//
//	POST /api/v1/door/open       {"device_id": "...", "timestamp": <unix ms>}
//	POST /api/v1/device/restart  {"device_id": "...", "timestamp": <unix ms>}
//	POST /api/v1/device/time     {"device_id": "...", "time": "2006-01-02 15:04:05"}
//	GET  /api/v1/device/status
//
// A 2xx reply with {"success": true} or a "result" of OK/SUCCESS is an
// acknowledgement. Other 2xx and all 4xx replies are negative results.
// Network errors and 5xx replies are retried, then surfaced as
// *adapter.TransportError.
package httpadapter

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-access/internal/adapter"
	"github.com/nerrad567/gray-logic-access/internal/device"
)

const (
	// ProtocolName is the registry key of this adapter.
	ProtocolName    = "http"
	protocolVersion = "1.0"

	pathOpen    = "/api/v1/door/open"
	pathRestart = "/api/v1/device/restart"
	pathTime    = "/api/v1/device/time"
	pathStatus  = "/api/v1/device/status"

	// HeaderRequestID carries the per-command id; it is reused across retries.
	HeaderRequestID = "X-Request-ID"

	maxResponseBytes = 64 << 10
)

// Defaults applied by DefaultConfig.
const (
	DefaultTimeout     = 5 * time.Second
	DefaultRetryDelay  = 250 * time.Millisecond
	DefaultMaxAttempts = 2
)

// Config controls the HTTP client and the retry budget.
type Config struct {
	Timeout     time.Duration
	RetryDelay  time.Duration
	MaxAttempts int

	// InsecureSkipVerify accepts self-signed certificates on HTTPS devices.
	InsecureSkipVerify bool

	// Manufacturers optionally claimed by this adapter. Empty by default:
	// generic devices reach it through protocol-family resolution.
	Manufacturers []string
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Timeout:     DefaultTimeout,
		RetryDelay:  DefaultRetryDelay,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// WithClock replaces the clock used for command payloads.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// WithLogger sets the adapter logger.
func WithLogger(l adapter.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// Adapter is the HTTP-family ProtocolAdapter. Safe for concurrent use.
type Adapter struct {
	adapter.Metadata

	cfg    Config
	client *http.Client
	now    func() time.Time
	logger adapter.Logger
}

type commandRequest struct {
	DeviceID  string `json:"device_id"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Time      string `json:"time,omitempty"`
}

type commandResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result"`
	Message string `json:"message"`
}

// errServer marks a 5xx reply so it is retried like a network failure.
var errServer = errors.New("device returned server error")

// New creates an adapter. Zero fields in cfg fall back to the defaults.
func New(cfg Config, opts ...Option) *Adapter {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // Opt-in for self-signed device certificates
	}

	a := &Adapter{
		Metadata: adapter.Metadata{
			Name:          ProtocolName,
			Version:       protocolVersion,
			Manufacturers: cfg.Manufacturers,
			ProtocolTypes: []string{device.ProtocolHTTP, device.ProtocolHTTPS},
			Features:      []string{"remote_open", "restart", "time_sync", "connection_check", "request_id"},
			AdapterClass:  adapter.ClassProtocolFamily,
		},
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		now:    time.Now,
		logger: adapter.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SupportsDevice accepts HTTP and HTTPS devices with an address and a valid
// port.
func (a *Adapter) SupportsDevice(d *device.Device) bool {
	if d == nil {
		return false
	}
	pt := d.NormalizedProtocolType()
	if pt != device.ProtocolHTTP && pt != device.ProtocolHTTPS {
		return false
	}
	return strings.TrimSpace(d.IPAddress) != "" && d.Port > 0 && d.Port <= 65535
}

// RemoteOpen posts to the door-open endpoint.
func (a *Adapter) RemoteOpen(ctx context.Context, d *device.Device) (bool, error) {
	if d == nil {
		return false, fmt.Errorf("%w: nil device", adapter.ErrInvalidDevice)
	}
	return a.post(ctx, d, adapter.OpRemoteOpen, pathOpen,
		commandRequest{DeviceID: d.ID, Timestamp: a.now().UnixMilli()})
}

// RestartDevice posts to the restart endpoint.
func (a *Adapter) RestartDevice(ctx context.Context, d *device.Device) (bool, error) {
	if d == nil {
		return false, fmt.Errorf("%w: nil device", adapter.ErrInvalidDevice)
	}
	return a.post(ctx, d, adapter.OpRestartDevice, pathRestart,
		commandRequest{DeviceID: d.ID, Timestamp: a.now().UnixMilli()})
}

// SyncDeviceTime posts the local wall-clock time.
func (a *Adapter) SyncDeviceTime(ctx context.Context, d *device.Device) (bool, error) {
	if d == nil {
		return false, fmt.Errorf("%w: nil device", adapter.ErrInvalidDevice)
	}
	return a.post(ctx, d, adapter.OpSyncDeviceTime, pathTime,
		commandRequest{DeviceID: d.ID, Time: a.now().Format(adapter.TimeLayout)})
}

// CheckConnection reports whether the status endpoint answers 2xx.
func (a *Adapter) CheckConnection(ctx context.Context, d *device.Device) bool {
	if d == nil || ctx.Err() != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(d)+pathStatus, nil)
	if err != nil {
		return false
	}
	req.Header.Set(HeaderRequestID, uuid.NewString())

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Debug("http connection check failed", "device_id", d.ID, "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes)) //nolint:errcheck // Drain for connection reuse

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// post sends one command under the retry policy. The request id stays the
// same across attempts so a device can discard duplicates.
func (a *Adapter) post(ctx context.Context, d *device.Device, op adapter.Operation, path string, payload commandRequest) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("httpadapter: encoding %s request: %w", op, err)
	}

	url := baseURL(d) + path
	requestID := uuid.NewString()
	attempts := 0

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(a.cfg.RetryDelay), uint64(a.cfg.MaxAttempts-1)),
		ctx,
	)

	ok, err := backoff.RetryNotifyWithData(
		func() (bool, error) {
			attempts++
			return a.attempt(ctx, url, requestID, body)
		},
		policy,
		func(err error, wait time.Duration) {
			a.logger.Warn("http command attempt failed",
				"device_id", d.ID, "operation", op, "request_id", requestID,
				"attempt", attempts, "retry_in", wait, "error", err)
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

	a.logger.Debug("http command completed",
		"device_id", d.ID, "operation", op, "request_id", requestID, "attempts", attempts, "success", ok)
	return ok, nil
}

// attempt performs one POST. A returned error means "retry"; a bool result
// is final.
func (a *Adapter) attempt(ctx context.Context, url, requestID string, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, backoff.Permanent(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderRequestID, requestID)

	resp, err := a.client.Do(req)
	if err != nil {
		if isCertificateError(err) {
			return false, backoff.Permanent(err)
		}
		return false, err
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return false, fmt.Errorf("%w: status %d", errServer, resp.StatusCode)
	case readErr != nil:
		return false, fmt.Errorf("reading response: %w", readErr)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return false, nil
	default:
		return acknowledged(data), nil
	}
}

// acknowledged reports whether a 2xx body is a positive acknowledgement.
func acknowledged(body []byte) bool {
	var resp commandResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false
	}
	if resp.Success {
		return true
	}
	result := strings.ToUpper(strings.TrimSpace(resp.Result))
	return result == "OK" || result == "SUCCESS"
}

// isCertificateError reports TLS verification failures, which no retry fixes.
func isCertificateError(err error) bool {
	var verifyErr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	return errors.As(err, &verifyErr) || errors.As(err, &unknownAuth) || errors.As(err, &hostErr)
}

func baseURL(d *device.Device) string {
	scheme := "http"
	if d.NormalizedProtocolType() == device.ProtocolHTTPS {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(strings.TrimSpace(d.IPAddress), strconv.Itoa(d.Port))
}
