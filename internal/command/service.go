package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-access/internal/adapter"
	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
)

// EventType is the core event published after every command.
const EventType = "access_command"

// DefaultConcurrency bounds ExecuteAll when no limit is configured.
const DefaultConcurrency = 8

// DeviceSource looks up device records. *device.Registry satisfies it.
type DeviceSource interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	ListDevices(ctx context.Context) ([]device.Device, error)
}

// Publisher publishes command events. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// OutcomeWriter stores command outcomes. *influxdb.Client satisfies it.
type OutcomeWriter interface {
	WriteCommandOutcome(o influxdb.CommandOutcome)
}

// Recorder counts command outcomes. *metrics.Recorder satisfies it.
type Recorder interface {
	ObserveCommand(command, adapterName, category string, d time.Duration)
}

// Logger is the logging interface used by the service.
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

// Result is the outcome of one command against one device.
type Result struct {
	DeviceID string            `json:"device_id"`
	Command  adapter.Operation `json:"command"`
	Success  bool              `json:"success"`
	Adapter  string            `json:"adapter,omitempty"`
	Category Category          `json:"category"`
	Duration time.Duration     `json:"-"`
	Err      error             `json:"-"`

	manufacturer string
}

// ErrorMessage returns Err's text, or "" when the command did not fail.
func (r Result) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// event is the MQTT payload published for every command.
type event struct {
	DeviceID   string   `json:"device_id"`
	Command    string   `json:"command"`
	Success    bool     `json:"success"`
	Adapter    string   `json:"adapter,omitempty"`
	Category   Category `json:"category"`
	DurationMS float64  `json:"duration_ms"`
	Error      string   `json:"error,omitempty"`
	Timestamp  string   `json:"timestamp"`
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher publishes an access_command event after every command.
func WithPublisher(p Publisher) Option { return func(s *Service) { s.publisher = p } }

// WithOutcomeWriter stores every outcome as a time-series point.
func WithOutcomeWriter(w OutcomeWriter) Option { return func(s *Service) { s.outcomes = w } }

// WithRecorder counts every outcome.
func WithRecorder(r Recorder) Option { return func(s *Service) { s.recorder = r } }

// WithLogger sets the service logger.
func WithLogger(l Logger) Option { return func(s *Service) { s.logger = l } }

// WithConcurrency bounds ExecuteAll fan-out. Values below 1 are ignored.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithClock replaces the clock used for durations and timestamps.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// Service executes commands against registered devices: it looks the device
// up, resolves its adapter, runs the operation and records the outcome.
//
// Recording sinks are optional; a failing sink never changes a Result.
// Safe for concurrent use.
type Service struct {
	devices     DeviceSource
	resolver    *adapter.Resolver
	publisher   Publisher
	outcomes    OutcomeWriter
	recorder    Recorder
	logger      Logger
	concurrency int
	now         func() time.Time
}

// NewService creates a command service.
func NewService(devices DeviceSource, resolver *adapter.Resolver, opts ...Option) *Service {
	s := &Service{
		devices:     devices,
		resolver:    resolver,
		logger:      noopLogger{},
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs op against the device with the given id.
func (s *Service) Execute(ctx context.Context, deviceID string, op adapter.Operation) Result {
	start := s.now()

	d, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		res := Result{DeviceID: deviceID, Command: op, Err: err}
		return s.finish(res, false, start)
	}
	return s.run(ctx, d, op, start)
}

// ExecuteDevice runs op against an already loaded device record.
func (s *Service) ExecuteDevice(ctx context.Context, d *device.Device, op adapter.Operation) Result {
	start := s.now()
	if d == nil {
		res := Result{Command: op, Err: fmt.Errorf("%w: nil device", adapter.ErrInvalidDevice)}
		return s.finish(res, false, start)
	}
	return s.run(ctx, d, op, start)
}

// ExecuteAll runs op against every listed device id with bounded
// concurrency. Results keep the order of ids.
func (s *Service) ExecuteAll(ctx context.Context, ids []string, op adapter.Operation) []Result {
	results := make([]Result, len(ids))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = s.Execute(ctx, id, op)
			return nil
		})
	}
	_ = g.Wait() // workers never fail; errors live in each Result

	return results
}

// CheckAll runs check_connection against every registered device, ordered
// like ListDevices.
func (s *Service) CheckAll(ctx context.Context) ([]Result, error) {
	devices, err := s.devices.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}

	results := make([]Result, len(devices))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range devices {
		g.Go(func() error {
			results[i] = s.ExecuteDevice(ctx, &devices[i], adapter.OpCheckConnection)
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

func (s *Service) run(ctx context.Context, d *device.Device, op adapter.Operation, start time.Time) Result {
	res := Result{DeviceID: d.ID, Command: op, manufacturer: d.NormalizedManufacturer()}

	a, err := s.resolver.Resolve(ctx, d)
	if err != nil {
		res.Err = err
		return s.finish(res, false, start)
	}
	res.Adapter = a.ProtocolName()

	var ok bool
	switch op {
	case adapter.OpRemoteOpen:
		ok, err = a.RemoteOpen(ctx, d)
	case adapter.OpRestartDevice:
		ok, err = a.RestartDevice(ctx, d)
	case adapter.OpSyncDeviceTime:
		ok, err = a.SyncDeviceTime(ctx, d)
	case adapter.OpCheckConnection:
		ok = a.CheckConnection(ctx, d)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownCommand, op)
	}
	res.Err = err
	return s.finish(res, ok, start)
}

// finish classifies the result and feeds the recording sinks.
func (s *Service) finish(res Result, ok bool, start time.Time) Result {
	end := s.now()
	res.Duration = end.Sub(start)
	res.Success = ok && res.Err == nil
	res.Category = Classify(ok, res.Err)

	s.log(res)

	if s.recorder != nil {
		s.recorder.ObserveCommand(string(res.Command), res.Adapter, string(res.Category), res.Duration)
	}
	if s.outcomes != nil {
		s.outcomes.WriteCommandOutcome(influxdb.CommandOutcome{
			DeviceID:     res.DeviceID,
			Command:      string(res.Command),
			Adapter:      res.Adapter,
			Manufacturer: res.manufacturer,
			Category:     string(res.Category),
			Success:      res.Success,
			Duration:     res.Duration,
			Timestamp:    end,
		})
	}
	s.publish(res, end)

	return res
}

func (s *Service) log(res Result) {
	args := []any{
		"device_id", res.DeviceID,
		"command", res.Command,
		"adapter", res.Adapter,
		"category", res.Category,
		"duration", res.Duration,
	}
	switch res.Category {
	case CategoryOK:
		s.logger.Info("command succeeded", args...)
	case CategoryNegative:
		s.logger.Warn("command refused by device", args...)
	case CategoryInternal:
		s.logger.Error("command failed", append(args, "error", res.Err)...)
	default:
		s.logger.Warn("command failed", append(args, "error", res.Err)...)
	}
}

func (s *Service) publish(res Result, at time.Time) {
	if s.publisher == nil || !s.publisher.IsConnected() {
		return
	}

	payload, err := json.Marshal(event{
		DeviceID:   res.DeviceID,
		Command:    string(res.Command),
		Success:    res.Success,
		Adapter:    res.Adapter,
		Category:   res.Category,
		DurationMS: float64(res.Duration.Microseconds()) / 1000,
		Error:      res.ErrorMessage(),
		Timestamp:  at.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		s.logger.Error("encoding command event", "error", err)
		return
	}

	if err := s.publisher.Publish(mqtt.Topics{}.CoreEvent(EventType), payload, 1, false); err != nil {
		s.logger.Warn("publishing command event failed", "device_id", res.DeviceID, "error", err)
	}
}
