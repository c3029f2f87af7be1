// Package mqttbridge drives vendor-SDK access terminals through a bridge
// sidecar that speaks the vendor SDK on one side and MQTT on the other.
//
// Each command is one JSON request published at QoS 1 to
// graylogic/command/access/{deviceID}. The bridge answers on
// graylogic/response/access/{requestID}; a single wildcard subscription
// serves every in-flight request.
//
// Commands are never re-published: the bridge may already have executed the
// first copy, and door-open is not idempotent.
package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-access/internal/adapter"
	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
)

const (
	// ProtocolName is the registry key of this adapter.
	ProtocolName    = "mqtt-bridge"
	protocolVersion = "1.0"

	// BridgeProtocol is the protocol segment of the bridge topics.
	BridgeProtocol = "access"

	commandOpen     = "open"
	commandRestart  = "restart"
	commandSyncTime = "sync_time"
	commandPing     = "ping"

	qosAtLeastOnce byte = 1
)

// DefaultResponseTimeout bounds the wait for a bridge reply.
const DefaultResponseTimeout = 5 * time.Second

// DefaultManufacturers are the vendors this adapter claims unless configured.
var DefaultManufacturers = []string{"hikvision", "dahua"}

// ErrResponseTimeout is wrapped in the TransportError when the bridge does
// not answer in time.
var ErrResponseTimeout = errors.New("mqttbridge: response timeout")

// Broker is the subset of the MQTT client the adapter needs. *mqtt.Client
// satisfies it.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Config controls the reply timeout and claimed vendors.
type Config struct {
	ResponseTimeout time.Duration
	Manufacturers   []string
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		ResponseTimeout: DefaultResponseTimeout,
		Manufacturers:   append([]string(nil), DefaultManufacturers...),
	}
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithClock replaces the clock used for command payloads.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// WithLogger sets the adapter logger.
func WithLogger(l adapter.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// Request is the JSON body published to the bridge.
type Request struct {
	RequestID    string `json:"request_id"`
	DeviceID     string `json:"device_id"`
	Command      string `json:"command"`
	Manufacturer string `json:"manufacturer,omitempty"`
	IPAddress    string `json:"ip_address,omitempty"`
	Port         int    `json:"port,omitempty"`
	Timestamp    int64  `json:"timestamp,omitempty"`
	Time         string `json:"time,omitempty"`
}

// Response is the JSON body the bridge publishes back.
type Response struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
}

// Adapter is the MQTT-bridge ProtocolAdapter. Safe for concurrent use.
type Adapter struct {
	adapter.Metadata

	cfg    Config
	broker Broker
	now    func() time.Time
	logger adapter.Logger

	subMu      sync.Mutex
	subscribed bool

	pendingMu sync.Mutex
	pending   map[string]chan Response
}

// New creates an adapter publishing through broker. Zero fields in cfg fall
// back to the defaults.
func New(broker Broker, cfg Config, opts ...Option) *Adapter {
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.Manufacturers == nil {
		cfg.Manufacturers = append([]string(nil), DefaultManufacturers...)
	}

	a := &Adapter{
		Metadata: adapter.Metadata{
			Name:          ProtocolName,
			Version:       protocolVersion,
			Manufacturers: cfg.Manufacturers,
			ProtocolTypes: []string{device.ProtocolSDK, device.ProtocolMQTT},
			Features:      []string{"remote_open", "restart", "time_sync", "connection_check", "request_reply"},
			AdapterClass:  adapter.ClassVendor,
		},
		cfg:     cfg,
		broker:  broker,
		now:     time.Now,
		logger:  adapter.NopLogger(),
		pending: make(map[string]chan Response),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SupportsDevice accepts SDK and MQTT devices with an id the bridge can
// route on.
func (a *Adapter) SupportsDevice(d *device.Device) bool {
	if d == nil || strings.TrimSpace(d.ID) == "" {
		return false
	}
	pt := d.NormalizedProtocolType()
	return pt == device.ProtocolSDK || pt == device.ProtocolMQTT
}

// RemoteOpen asks the bridge to unlock the door.
func (a *Adapter) RemoteOpen(ctx context.Context, d *device.Device) (bool, error) {
	return a.request(ctx, d, adapter.OpRemoteOpen, commandOpen, func(r *Request) {
		r.Timestamp = a.now().UnixMilli()
	})
}

// RestartDevice asks the bridge to reboot the terminal.
func (a *Adapter) RestartDevice(ctx context.Context, d *device.Device) (bool, error) {
	return a.request(ctx, d, adapter.OpRestartDevice, commandRestart, func(r *Request) {
		r.Timestamp = a.now().UnixMilli()
	})
}

// SyncDeviceTime pushes the local wall-clock time through the bridge.
func (a *Adapter) SyncDeviceTime(ctx context.Context, d *device.Device) (bool, error) {
	return a.request(ctx, d, adapter.OpSyncDeviceTime, commandSyncTime, func(r *Request) {
		r.Time = a.now().Format(adapter.TimeLayout)
	})
}

// CheckConnection sends a ping through the bridge and reports whether the
// bridge confirmed the terminal is reachable.
func (a *Adapter) CheckConnection(ctx context.Context, d *device.Device) bool {
	if d == nil {
		return false
	}
	ok, err := a.request(ctx, d, adapter.OpCheckConnection, commandPing, nil)
	if err != nil {
		a.logger.Debug("bridge connection check failed", "device_id", d.ID, "error", err)
		return false
	}
	return ok
}

// request publishes one command and waits for its reply.
func (a *Adapter) request(ctx context.Context, d *device.Device, op adapter.Operation, command string, fill func(*Request)) (bool, error) {
	if d == nil {
		return false, fmt.Errorf("%w: nil device", adapter.ErrInvalidDevice)
	}
	fail := func(err error) (bool, error) {
		return false, &adapter.TransportError{
			Protocol: ProtocolName, Operation: op, DeviceID: d.ID, Attempts: 1, Err: err,
		}
	}

	if err := adapter.Interrupted(ctx, ProtocolName, op, d.ID); err != nil {
		return false, err
	}
	if !a.broker.IsConnected() {
		return fail(mqtt.ErrNotConnected)
	}
	if err := a.ensureSubscribed(); err != nil {
		return fail(err)
	}

	req := Request{
		RequestID:    uuid.NewString(),
		DeviceID:     d.ID,
		Command:      command,
		Manufacturer: d.Manufacturer,
		IPAddress:    d.IPAddress,
		Port:         d.Port,
	}
	if fill != nil {
		fill(&req)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("mqttbridge: encoding request: %w", err)
	}

	replies := a.await(req.RequestID)
	defer a.forget(req.RequestID)

	topic := mqtt.Topics{}.BridgeCommand(BridgeProtocol, d.ID)
	if err := a.broker.Publish(topic, payload, qosAtLeastOnce, false); err != nil {
		return fail(err)
	}

	timer := time.NewTimer(a.cfg.ResponseTimeout)
	defer timer.Stop()

	select {
	case resp := <-replies:
		a.logger.Debug("bridge command completed",
			"device_id", d.ID, "operation", op, "request_id", req.RequestID,
			"success", resp.Success, "message", resp.Message)
		return resp.Success, nil
	case <-timer.C:
		a.logger.Warn("bridge did not answer",
			"device_id", d.ID, "operation", op, "request_id", req.RequestID, "timeout", a.cfg.ResponseTimeout)
		return fail(fmt.Errorf("%w after %v", ErrResponseTimeout, a.cfg.ResponseTimeout))
	case <-ctx.Done():
		return false, adapter.Interrupted(ctx, ProtocolName, op, d.ID)
	}
}

// ensureSubscribed installs the shared response subscription once. The MQTT
// client restores it after reconnects.
func (a *Adapter) ensureSubscribed() error {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	if a.subscribed {
		return nil
	}
	topic := mqtt.Topics{}.AllBridgeResponses(BridgeProtocol)
	if err := a.broker.Subscribe(topic, qosAtLeastOnce, a.handleResponse); err != nil {
		return fmt.Errorf("subscribing to bridge responses: %w", err)
	}
	a.subscribed = true
	return nil
}

// handleResponse routes a bridge reply to the waiting request. Replies for
// unknown or expired requests are dropped.
func (a *Adapter) handleResponse(topic string, payload []byte) error {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("decoding bridge response on %s: %w", topic, err)
	}
	if resp.RequestID == "" {
		resp.RequestID = path.Base(topic)
	}

	a.pendingMu.Lock()
	ch, ok := a.pending[resp.RequestID]
	delete(a.pending, resp.RequestID)
	a.pendingMu.Unlock()

	if !ok {
		a.logger.Debug("dropping bridge response for unknown request", "request_id", resp.RequestID)
		return nil
	}
	ch <- resp // buffered, single delivery
	return nil
}

func (a *Adapter) await(requestID string) <-chan Response {
	ch := make(chan Response, 1)
	a.pendingMu.Lock()
	a.pending[requestID] = ch
	a.pendingMu.Unlock()
	return ch
}

func (a *Adapter) forget(requestID string) {
	a.pendingMu.Lock()
	delete(a.pending, requestID)
	a.pendingMu.Unlock()
}

// Pending returns the number of requests awaiting a reply.
func (a *Adapter) Pending() int {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	return len(a.pending)
}
