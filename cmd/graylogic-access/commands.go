package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-access/internal/adapter"
	"github.com/nerrad567/gray-logic-access/internal/command"
	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/migrations"
)

// newDeviceCommandCmd builds open, restart, sync-time and check. Several
// device ids run concurrently; results keep argument order.
func newDeviceCommandCmd(opts *rootOptions, use, short string, op adapter.Operation) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <device-id>...",
		Short: short,
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			results := a.commands.ExecuteAll(cmd.Context(), args, op)
			if err := printResults(opts.stdout, opts.jsonOutput, results); err != nil {
				return err
			}
			return resultsExit(results)
		},
	}
}

func newCheckAllCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-all",
		Short: "Check connectivity to every registered device",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.commands.CheckAll(cmd.Context())
			if err != nil {
				return err
			}
			if err := printResults(opts.stdout, opts.jsonOutput, results); err != nil {
				return err
			}
			return resultsExit(results)
		},
	}
}

// resolution is the printed outcome of the resolve command.
type resolution struct {
	DeviceID string              `json:"device_id"`
	CacheKey string              `json:"cache_key"`
	Adapter  *adapter.Descriptor `json:"adapter,omitempty"`
	Error    string              `json:"error,omitempty"`
}

func newResolveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <device-id>",
		Short: "Show which adapter would drive a device",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.devices.GetDevice(cmd.Context(), args[0])
			if err != nil {
				return &exitError{code: command.Classify(false, err).ExitCode(), err: err}
			}

			out := resolution{DeviceID: d.ID, CacheKey: adapter.CacheKey(d)}
			pa, resolveErr := a.resolver.Resolve(cmd.Context(), d)
			if resolveErr == nil {
				desc := adapter.Describe(pa)
				out.Adapter = &desc
			} else {
				out.Error = resolveErr.Error()
			}

			if opts.jsonOutput {
				if err := printJSON(opts.stdout, out); err != nil {
					return err
				}
			} else if out.Adapter != nil {
				fmt.Fprintf(opts.stdout, "%s -> %s (%s, priority %d) [key %s]\n",
					out.DeviceID, out.Adapter.ProtocolName, out.Adapter.Class, out.Adapter.Priority, out.CacheKey)
			} else {
				fmt.Fprintf(opts.stdout, "%s -> no adapter [key %s]: %s\n", out.DeviceID, out.CacheKey, out.Error)
			}

			if resolveErr != nil {
				return &exitError{code: command.Classify(false, resolveErr).ExitCode()}
			}
			return nil
		},
	}
}

func newAdaptersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "adapters",
		Short: "List registered adapters in resolution order",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			return printAdapters(opts.stdout, opts.jsonOutput, a.resolver.AdapterInfos())
		},
	}
}

func newDevicesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Manage the device registry",
	}
	cmd.AddCommand(newDevicesListCmd(opts), newDevicesAddCmd(opts), newDevicesRemoveCmd(opts))
	return cmd
}

func newDevicesListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered devices",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			devices, err := a.devices.ListDevices(cmd.Context())
			if err != nil {
				return err
			}
			return printDevices(opts.stdout, opts.jsonOutput, devices)
		},
	}
}

func newDevicesAddCmd(opts *rootOptions) *cobra.Command {
	var d device.Device

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a device",
		Long: fmt.Sprintf(`Register a device. Supported types: %s.
Protocols: %s, %s, %s, %s, %s.`,
			joinTypes(device.AllDeviceTypes()),
			device.ProtocolTCP, device.ProtocolHTTP, device.ProtocolHTTPS, device.ProtocolSDK, device.ProtocolMQTT),
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			d.ProtocolType = strings.ToUpper(strings.TrimSpace(d.ProtocolType))
			if err := a.devices.CreateDevice(cmd.Context(), &d); err != nil {
				return registryError(err)
			}

			if opts.jsonOutput {
				return printJSON(opts.stdout, d)
			}
			supported := "no adapter"
			if pa, err := a.resolver.Resolve(cmd.Context(), &d); err == nil {
				supported = "adapter " + pa.ProtocolName()
			}
			fmt.Fprintf(opts.stdout, "registered %s (%s)\n", d.ID, supported)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&d.ID, "id", "", "device id (generated when empty)")
	f.StringVar(&d.Name, "name", "", "display name")
	f.Var(newDeviceTypeValue(&d.Type), "type", "device type")
	f.StringVar(&d.Manufacturer, "manufacturer", "", "vendor name, blank or Generic for protocol-family devices")
	f.StringVar(&d.ProtocolType, "protocol", device.ProtocolTCP, "wire protocol")
	f.StringVar(&d.IPAddress, "ip", "", "IP address or hostname")
	f.IntVar(&d.Port, "port", 0, "TCP port")
	f.StringVar(&d.FirmwareVersion, "firmware", "", "firmware version")

	return cmd
}

func newDevicesRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <device-id>",
		Short: "Remove a device from the registry",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.devices.DeleteDevice(cmd.Context(), args[0]); err != nil {
				return registryError(err)
			}
			if a.metrics != nil {
				a.metrics.ForgetDevice(args[0])
			}
			fmt.Fprintf(opts.stdout, "removed %s\n", args[0])
			return nil
		},
	}
}

func newMigrationsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrations",
		Short: "Show applied and pending schema migrations",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			applied, pending, err := a.db.MigrationStatus(cmd.Context(), migrations.FS)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(opts.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tSTATUS\tAPPLIED")
			for _, r := range applied {
				fmt.Fprintf(tw, "%s\tapplied\t%s\n", r.Version, r.AppliedAt.Format("2006-01-02 15:04:05"))
			}
			for _, m := range pending {
				fmt.Fprintf(tw, "%s\tpending\t-\n", m.Version)
			}
			return tw.Flush()
		},
	}
}

// usageArgs reports positional argument errors as client errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return &exitError{code: command.CategoryClientError.ExitCode(), err: err}
		}
		return nil
	}
}

// registryError maps device registry failures to client_error when the
// caller supplied bad input.
func registryError(err error) error {
	switch {
	case errors.Is(err, device.ErrInvalidDevice),
		errors.Is(err, device.ErrInvalidDeviceType),
		errors.Is(err, device.ErrInvalidAddress),
		errors.Is(err, device.ErrInvalidName),
		errors.Is(err, device.ErrDeviceExists),
		errors.Is(err, device.ErrDeviceNotFound):
		return &exitError{code: command.CategoryClientError.ExitCode(), err: err}
	default:
		return err
	}
}

// deviceTypeValue is a pflag.Value restricted to the supported device types.
type deviceTypeValue struct {
	target *device.DeviceType
}

func newDeviceTypeValue(target *device.DeviceType) *deviceTypeValue {
	return &deviceTypeValue{target: target}
}

func (v *deviceTypeValue) String() string {
	if v.target == nil {
		return ""
	}
	return string(*v.target)
}

func (v *deviceTypeValue) Set(s string) error {
	t := device.DeviceType(strings.ToLower(strings.TrimSpace(s)))
	if err := device.ValidateDeviceType(t); err != nil {
		return fmt.Errorf("must be one of %s", joinTypes(device.AllDeviceTypes()))
	}
	*v.target = t
	return nil
}

func (v *deviceTypeValue) Type() string { return "type" }

func joinTypes(types []device.DeviceType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
