package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/command"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
)

// DefaultInterval is used when Config.Interval is zero.
const DefaultInterval = time.Minute

// ChannelSweep is the WebSocket channel completed sweeps are broadcast on.
const ChannelSweep = "sweep.completed"

// ErrNoSweep is returned by LastReport before the first sweep completes.
var ErrNoSweep = errors.New("monitor: no sweep completed yet")

// Checker runs check_connection against every registered device.
// Implemented by *command.Service.
type Checker interface {
	CheckAll(ctx context.Context) ([]command.Result, error)
}

// Recorder receives reachability gauges. Implemented by *metrics.Recorder.
type Recorder interface {
	SetReachable(deviceID, adapterName string, ok bool)
	ForgetDevice(deviceID string)
	SweepCompleted(at time.Time)
}

// ReachabilityWriter stores reachability samples. Implemented by
// *influxdb.Client.
type ReachabilityWriter interface {
	WriteReachability(deviceID, adapter string, reachable bool, latency time.Duration, ts time.Time)
}

// Publisher sends retained device state to the broker.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Broadcaster pushes a message to live subscribers. Implemented by *api.Hub.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Logger is the logging interface used by the Monitor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DeviceStatus is the reachability of one device in a sweep.
type DeviceStatus struct {
	DeviceID  string           `json:"device_id"`
	Adapter   string           `json:"adapter,omitempty"`
	Reachable bool             `json:"reachable"`
	Category  command.Category `json:"category"`
	LatencyMS float64          `json:"latency_ms"`
	Error     string           `json:"error,omitempty"`
	CheckedAt time.Time        `json:"checked_at"`
}

// Report summarises one sweep.
type Report struct {
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Total       int            `json:"total"`
	Reachable   int            `json:"reachable"`
	Unreachable int            `json:"unreachable"`
	Devices     []DeviceStatus `json:"devices"`
}

// Config holds monitor settings.
type Config struct {
	Interval time.Duration
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithRecorder sets the Prometheus sink.
func WithRecorder(r Recorder) Option { return func(m *Monitor) { m.recorder = r } }

// WithReachabilityWriter sets the InfluxDB sink.
func WithReachabilityWriter(w ReachabilityWriter) Option { return func(m *Monitor) { m.writer = w } }

// WithPublisher sets the MQTT sink for retained device state.
func WithPublisher(p Publisher) Option { return func(m *Monitor) { m.publisher = p } }

// WithBroadcaster sets the live feed sink.
func WithBroadcaster(b Broadcaster) Option { return func(m *Monitor) { m.broadcaster = b } }

// WithLogger sets the logger.
func WithLogger(l Logger) Option { return func(m *Monitor) { m.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

// Monitor periodically sweeps every registered device with check_connection
// and fans the results out to metrics, telemetry, MQTT and WebSocket
// subscribers.
type Monitor struct {
	checker     Checker
	interval    time.Duration
	recorder    Recorder
	writer      ReachabilityWriter
	publisher   Publisher
	broadcaster Broadcaster
	logger      Logger
	now         func() time.Time

	mu     sync.RWMutex
	last   *Report
	known  map[string]struct{}
	sweeps uint64

	// Shutdown coordination
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a monitor. Call Start to begin sweeping.
func New(checker Checker, cfg Config, opts ...Option) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	m := &Monitor{
		checker:  checker,
		interval: interval,
		logger:   noopLogger{},
		now:      time.Now,
		known:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs a sweep immediately and then every interval until ctx is
// cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop ends the sweep loop and waits for an in-flight sweep to finish.
// Safe to call multiple times.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sweepAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			m.sweepAndLog(ctx)
		}
	}
}

func (m *Monitor) sweepAndLog(ctx context.Context) {
	report, err := m.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Error("connectivity sweep failed", "error", err)
		}
		return
	}
	m.logger.Info("connectivity sweep completed",
		"total", report.Total,
		"reachable", report.Reachable,
		"unreachable", report.Unreachable,
		"duration", report.CompletedAt.Sub(report.StartedAt),
	)
}

// Sweep checks every device once and records the outcome.
func (m *Monitor) Sweep(ctx context.Context) (Report, error) {
	started := m.now()

	results, err := m.checker.CheckAll(ctx)
	if err != nil {
		return Report{}, err
	}

	completed := m.now()
	report := Report{
		StartedAt:   started,
		CompletedAt: completed,
		Total:       len(results),
		Devices:     make([]DeviceStatus, 0, len(results)),
	}

	seen := make(map[string]struct{}, len(results))
	for _, res := range results {
		status := DeviceStatus{
			DeviceID:  res.DeviceID,
			Adapter:   res.Adapter,
			Reachable: res.Success,
			Category:  res.Category,
			LatencyMS: float64(res.Duration.Microseconds()) / 1000,
			Error:     res.ErrorMessage(),
			CheckedAt: completed,
		}
		if status.Reachable {
			report.Reachable++
		} else {
			report.Unreachable++
		}
		report.Devices = append(report.Devices, status)
		seen[res.DeviceID] = struct{}{}

		m.record(status, res.Duration)
	}

	var gone []string
	m.mu.Lock()
	for id := range m.known {
		if _, ok := seen[id]; !ok {
			gone = append(gone, id)
		}
	}
	m.known = seen
	m.last = &report
	m.sweeps++
	m.mu.Unlock()

	for _, id := range gone {
		m.forget(id)
	}

	if m.recorder != nil {
		m.recorder.SweepCompleted(completed)
	}
	if m.broadcaster != nil {
		m.broadcaster.Broadcast(ChannelSweep, report)
	}

	return report, nil
}

func (m *Monitor) record(status DeviceStatus, latency time.Duration) {
	if m.recorder != nil {
		m.recorder.SetReachable(status.DeviceID, status.Adapter, status.Reachable)
	}
	if m.writer != nil {
		m.writer.WriteReachability(status.DeviceID, status.Adapter, status.Reachable, latency, status.CheckedAt)
	}
	if m.publisher == nil || !m.publisher.IsConnected() {
		return
	}

	payload, err := json.Marshal(status)
	if err != nil {
		m.logger.Error("encoding device state", "device_id", status.DeviceID, "error", err)
		return
	}
	if err := m.publisher.Publish(mqtt.Topics{}.CoreDeviceState(status.DeviceID), payload, 1, true); err != nil {
		m.logger.Warn("publishing device state failed", "device_id", status.DeviceID, "error", err)
	}
}

// forget drops a device that left the registry. An empty retained payload
// removes its state topic from the broker.
func (m *Monitor) forget(id string) {
	if m.recorder != nil {
		m.recorder.ForgetDevice(id)
	}
	if m.publisher == nil || !m.publisher.IsConnected() {
		return
	}
	if err := m.publisher.Publish(mqtt.Topics{}.CoreDeviceState(id), nil, 1, true); err != nil {
		m.logger.Warn("clearing device state failed", "device_id", id, "error", err)
	}
}

// LastReport returns the most recent sweep.
func (m *Monitor) LastReport() (Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return Report{}, ErrNoSweep
	}
	return *m.last, nil
}

// Sweeps returns the number of completed sweeps.
func (m *Monitor) Sweeps() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sweeps
}

// Interval returns the effective sweep interval.
func (m *Monitor) Interval() time.Duration {
	return m.interval
}
