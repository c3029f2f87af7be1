package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-access/internal/api"
	"github.com/nerrad567/gray-logic-access/internal/command"
	"github.com/nerrad567/gray-logic-access/internal/monitor"
	"github.com/nerrad567/gray-logic-access/internal/process"
)

// newMonitorCmd runs the long-lived service: a periodic connectivity sweep
// and, when enabled, the read-only ops API with its live sweep feed.
func newMonitorCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Sweep device connectivity periodically and serve the ops API",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, appOptions{configPath: opts.configPath})
			if err != nil {
				return err
			}
			defer a.Close()

			a.log.Info("starting Gray Logic Access monitor",
				"version", version,
				"commit", commit,
				"devices", a.devices.GetDeviceCount(),
				"adapters", a.adapters.Len(),
			)

			helper, err := a.startHelper(ctx)
			if err != nil {
				return err
			}
			if helper != nil {
				defer helper.Stop()
			}

			hub := api.NewHub(a.cfg.API.WebSocket, a.log)
			go hub.Run(ctx)

			monOpts := []monitor.Option{
				monitor.WithLogger(a.log.With("component", "monitor")),
				monitor.WithBroadcaster(hub),
			}
			if a.metrics != nil {
				monOpts = append(monOpts, monitor.WithRecorder(a.metrics))
			}
			if a.influx != nil {
				monOpts = append(monOpts, monitor.WithReachabilityWriter(a.influx))
			}
			if a.mqtt != nil {
				monOpts = append(monOpts, monitor.WithPublisher(a.mqtt))
			}

			mon := monitor.New(a.commands, monitor.Config{Interval: a.cfg.Monitor.Interval}, monOpts...)
			mon.Start(ctx)
			defer mon.Stop()

			if a.cfg.API.Enabled {
				srv, err := a.newAPIServer(hub, mon, helper)
				if err != nil {
					return err
				}
				if err := srv.Start(ctx); err != nil {
					return err
				}
				defer func() {
					if closeErr := srv.Close(); closeErr != nil {
						a.log.Error("error closing API server", "error", closeErr)
					}
				}()
				a.log.Info("ops API listening", "address", srv.Addr())
			}

			a.log.Info("monitor running", "interval", mon.Interval())
			<-ctx.Done()
			a.log.Info("shutdown signal received")
			return nil
		},
	}
}

// startHelper launches the SDK bridge helper when one is configured.
func (a *app) startHelper(ctx context.Context) (*process.Supervisor, error) {
	hc := a.cfg.Adapters.MQTTBridge.Helper
	if hc.Binary == "" {
		return nil, nil
	}

	sup := process.New(process.Config{
		Name:            filepath.Base(hc.Binary),
		Binary:          hc.Binary,
		Args:            hc.Args,
		Env:             hc.Env,
		RestartDelay:    hc.RestartDelay,
		MaxRestartDelay: hc.MaxRestartDelay,
		MaxRestarts:     hc.MaxRestarts,
		GracefulTimeout: hc.GracefulTimeout,
	}, process.WithLogger(a.log.With("component", "helper")))

	if err := sup.Start(ctx); err != nil {
		return nil, &exitError{
			code: command.CategoryUpstreamUnavailable.ExitCode(),
			err:  fmt.Errorf("starting SDK bridge helper: %w", err),
		}
	}
	return sup, nil
}

func (a *app) newAPIServer(hub *api.Hub, mon *monitor.Monitor, helper *process.Supervisor) (*api.Server, error) {
	deps := api.Deps{
		Config:   a.cfg.API,
		Logger:   a.log.With("component", "api"),
		Devices:  a.devices,
		Resolver: a.resolver,
		Sweeps:   mon,
		DB:       a.db.DB,
		Hub:      hub,
		Version:  version,
	}
	if a.metrics != nil {
		deps.Metrics = a.metrics.Handler()
	}
	if a.mqtt != nil {
		deps.MQTT = a.mqtt
	}
	if helper != nil {
		deps.Helper = helper
	}
	return api.New(deps)
}
