package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-access/internal/adapter"
	"github.com/nerrad567/gray-logic-access/internal/command"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	jsonOutput bool

	stdout io.Writer
	stderr io.Writer
}

// newRootCmd builds the command tree. Output goes to stdout; logs of
// one-shot commands go to stderr.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "graylogic-access",
		Short: "Drive access-control devices through protocol adapters",
		Long: `graylogic-access sends remote-open, restart, time-sync and connectivity
commands to registered access-control devices. Each device is routed to the
adapter for its vendor or wire protocol: raw TCP, HTTP/HTTPS, or a vendor SDK
bridged over MQTT.

Configuration is read from --config, GRAYLOGIC_CONFIG, or configs/config.yaml,
with GRAYLOGIC_* environment overrides applied on top.`,
		SilenceUsage:  true,
		SilenceErrors: true, // execute reports errors and picks the exit code
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &exitError{code: command.CategoryClientError.ExitCode(), err: err}
	})
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", getConfigPath(), "path to the YAML configuration file")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(
		newDeviceCommandCmd(opts, "open", "Remotely open the door or gate of one or more devices", adapter.OpRemoteOpen),
		newDeviceCommandCmd(opts, "restart", "Restart one or more devices", adapter.OpRestartDevice),
		newDeviceCommandCmd(opts, "sync-time", "Push the current wall-clock time to one or more devices", adapter.OpSyncDeviceTime),
		newDeviceCommandCmd(opts, "check", "Check connectivity to one or more devices", adapter.OpCheckConnection),
		newCheckAllCmd(opts),
		newResolveCmd(opts),
		newAdaptersCmd(opts),
		newDevicesCmd(opts),
		newMigrationsCmd(opts),
		newMonitorCmd(opts),
	)

	return root
}

// bootstrap builds the app for a one-shot command with logs on stderr.
func (o *rootOptions) bootstrap(ctx context.Context) (*app, error) {
	return newApp(ctx, appOptions{configPath: o.configPath, logOutput: o.stderr})
}
