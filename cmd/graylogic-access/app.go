package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nerrad567/gray-logic-access/internal/adapter"
	"github.com/nerrad567/gray-logic-access/internal/adapter/httpadapter"
	"github.com/nerrad567/gray-logic-access/internal/adapter/mqttbridge"
	"github.com/nerrad567/gray-logic-access/internal/adapter/tcp"
	"github.com/nerrad567/gray-logic-access/internal/command"
	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-access/migrations"
)

// Default configuration file path, used when present.
const defaultConfigPath = "configs/config.yaml"

// app holds every long-lived component built from the configuration.
// Commands build one app per invocation and Close it on return.
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	db       *database.DB
	devices  *device.Registry
	adapters *adapter.Registry
	resolver *adapter.Resolver
	metrics  *metrics.Recorder
	influx   *influxdb.Client
	mqtt     *mqtt.Client
	commands *command.Service

	closers []func()
}

// appOptions selects optional parts of the bootstrap.
type appOptions struct {
	configPath string

	// logOutput receives logs. Nil means the configured output.
	logOutput io.Writer
}

// getConfigPath resolves the configuration file: GRAYLOGIC_CONFIG, then the
// default path if it exists, else "" (built-in defaults only).
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// newApp loads configuration and wires the device registry, adapters,
// resolver, telemetry sinks and command service. On error everything opened
// so far is closed.
func newApp(ctx context.Context, opts appOptions) (_ *app, err error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, &exitError{code: command.CategoryClientError.ExitCode(), err: fmt.Errorf("loading config: %w", err)}
	}

	var log *logging.Logger
	if opts.logOutput != nil {
		log = logging.NewWithWriter(cfg.Logging, version, opts.logOutput)
	} else {
		log = logging.New(cfg.Logging, version)
	}

	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.openDatabase(ctx); err != nil {
		return nil, err
	}
	if err := a.connectMQTT(); err != nil {
		return nil, err
	}
	a.connectInfluxDB(ctx)

	if err := a.buildAdapters(); err != nil {
		return nil, err
	}
	if err := a.buildMetrics(); err != nil {
		return nil, err
	}
	a.buildCommandService()

	return a, nil
}

func (a *app) openDatabase(ctx context.Context) error {
	db, err := database.Open(ctx, database.Config{
		Path:        a.cfg.Database.Path,
		WALMode:     a.cfg.Database.WALMode,
		BusyTimeout: a.cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	a.db = db
	a.onClose(func() {
		if closeErr := db.Close(); closeErr != nil {
			a.log.Error("error closing database", "error", closeErr)
		}
	})
	a.log.Debug("database connected", "path", a.cfg.Database.Path)

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	a.devices = device.NewRegistry(device.NewSQLiteRepository(db.DB))
	a.devices.SetLogger(a.log)
	if err := a.devices.RefreshCache(ctx); err != nil {
		return fmt.Errorf("loading device registry: %w", err)
	}
	return nil
}

// connectMQTT connects to the broker when enabled. A failed connection is
// fatal only when the MQTT bridge adapter needs it; otherwise command events
// are simply not published.
func (a *app) connectMQTT() error {
	if !a.cfg.MQTT.Enabled {
		return nil
	}

	client, err := mqtt.Connect(a.cfg.MQTT, mqtt.WithLogger(a.log.With("component", "mqtt")))
	if err != nil {
		if a.cfg.Adapters.MQTTBridge.Enabled {
			return &exitError{
				code: command.CategoryUpstreamUnavailable.ExitCode(),
				err:  fmt.Errorf("connecting to MQTT: %w", err),
			}
		}
		a.log.Warn("MQTT unavailable, command events will not be published", "error", err)
		return nil
	}

	a.mqtt = client
	a.onClose(func() {
		if closeErr := client.Close(); closeErr != nil {
			a.log.Error("error closing MQTT", "error", closeErr)
		}
	})
	a.log.Debug("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", a.cfg.MQTT.Broker.Host, a.cfg.MQTT.Broker.Port),
		"client_id", a.cfg.MQTT.Broker.ClientID,
	)
	return nil
}

// connectInfluxDB connects when enabled. Telemetry is best-effort.
func (a *app) connectInfluxDB(ctx context.Context) {
	client, err := influxdb.Connect(ctx, a.cfg.InfluxDB)
	if errors.Is(err, influxdb.ErrDisabled) {
		return
	}
	if err != nil {
		a.log.Warn("InfluxDB unavailable, telemetry disabled", "error", err)
		return
	}

	client.SetOnError(func(err error) {
		a.log.Error("InfluxDB write error", "error", err)
	})
	a.influx = client
	a.onClose(func() {
		if closeErr := client.Close(); closeErr != nil {
			a.log.Error("error closing InfluxDB", "error", closeErr)
		}
	})
}

func (a *app) buildAdapters() error {
	ac := a.cfg.Adapters

	list := []adapter.ProtocolAdapter{
		tcp.New(tcp.Config{
			ConnectTimeout: ac.TCP.ConnectTimeout,
			ReadTimeout:    ac.TCP.ReadTimeout,
			RetryDelay:     ac.TCP.RetryDelay,
			MaxAttempts:    ac.TCP.MaxAttempts,
			Manufacturers:  ac.TCP.Manufacturers,
		}, tcp.WithLogger(a.log.With("component", "adapter.tcp"))),
		httpadapter.New(httpadapter.Config{
			Timeout:            ac.HTTP.Timeout,
			RetryDelay:         ac.HTTP.RetryDelay,
			MaxAttempts:        ac.HTTP.MaxAttempts,
			InsecureSkipVerify: ac.HTTP.InsecureSkipVerify,
			Manufacturers:      ac.HTTP.Manufacturers,
		}, httpadapter.WithLogger(a.log.With("component", "adapter.http"))),
	}

	if ac.MQTTBridge.Enabled && a.mqtt != nil {
		list = append(list, mqttbridge.New(a.mqtt, mqttbridge.Config{
			ResponseTimeout: ac.MQTTBridge.ResponseTimeout,
			Manufacturers:   ac.MQTTBridge.Manufacturers,
		}, mqttbridge.WithLogger(a.log.With("component", "adapter.mqtt_bridge"))))
	}

	reg, err := adapter.NewRegistry(list...)
	if err != nil {
		return fmt.Errorf("building adapter registry: %w", err)
	}
	reg.SetLogger(a.log)

	a.adapters = reg
	a.resolver = adapter.NewResolver(reg)
	a.resolver.SetLogger(a.log)
	return nil
}

func (a *app) buildMetrics() error {
	if !a.cfg.Metrics.Enabled {
		return nil
	}
	rec := metrics.New(a.cfg.Metrics.Namespace)
	if err := rec.RegisterResolver(a.cfg.Metrics.Namespace, a.resolver); err != nil {
		return fmt.Errorf("registering resolver metrics: %w", err)
	}
	a.metrics = rec
	return nil
}

func (a *app) buildCommandService() {
	opts := []command.Option{
		command.WithLogger(a.log),
		command.WithConcurrency(a.cfg.Monitor.Concurrency),
	}
	// Attach only live sinks; a typed nil defeats the service's nil checks.
	if a.mqtt != nil {
		opts = append(opts, command.WithPublisher(a.mqtt))
	}
	if a.influx != nil {
		opts = append(opts, command.WithOutcomeWriter(a.influx))
	}
	if a.metrics != nil {
		opts = append(opts, command.WithRecorder(a.metrics))
	}
	a.commands = command.NewService(a.devices, a.resolver, opts...)
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
