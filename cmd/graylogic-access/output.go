package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/nerrad567/gray-logic-access/internal/adapter"
	"github.com/nerrad567/gray-logic-access/internal/command"
	"github.com/nerrad567/gray-logic-access/internal/device"
)

// resultView is the printed form of a command.Result.
type resultView struct {
	DeviceID   string           `json:"device_id"`
	Command    string           `json:"command"`
	Success    bool             `json:"success"`
	Adapter    string           `json:"adapter,omitempty"`
	Category   command.Category `json:"category"`
	DurationMS float64          `json:"duration_ms"`
	Error      string           `json:"error,omitempty"`
}

func viewResult(r command.Result) resultView {
	return resultView{
		DeviceID:   r.DeviceID,
		Command:    string(r.Command),
		Success:    r.Success,
		Adapter:    r.Adapter,
		Category:   r.Category,
		DurationMS: float64(r.Duration.Microseconds()) / 1000,
		Error:      r.ErrorMessage(),
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResults(w io.Writer, asJSON bool, results []command.Result) error {
	views := make([]resultView, len(results))
	for i, r := range results {
		views[i] = viewResult(r)
	}
	if asJSON {
		return printJSON(w, views)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tCOMMAND\tADAPTER\tRESULT\tDURATION\tERROR")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.1fms\t%s\n",
			v.DeviceID, v.Command, orDash(v.Adapter), v.Category, v.DurationMS, orDash(v.Error))
	}
	return tw.Flush()
}

// resultsExit returns an exitError carrying the worst outcome, or nil when
// every result is ok.
func resultsExit(results []command.Result) error {
	code := 0
	for _, r := range results {
		code = max(code, r.Category.ExitCode())
	}
	if code == 0 {
		return nil
	}
	return &exitError{code: code}
}

func printAdapters(w io.Writer, asJSON bool, infos []adapter.Descriptor) error {
	if asJSON {
		return printJSON(w, infos)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tCLASS\tPRIORITY\tPROTOCOLS\tMANUFACTURERS")
	for _, d := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			d.ProtocolName, d.ProtocolVersion, d.Class, d.Priority,
			orDash(strings.Join(d.ProtocolTypes, ",")), orDash(strings.Join(d.SupportedManufacturers, ",")))
	}
	return tw.Flush()
}

func printDevices(w io.Writer, asJSON bool, devices []device.Device) error {
	if asJSON {
		if devices == nil {
			devices = []device.Device{}
		}
		return printJSON(w, devices)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tMANUFACTURER\tPROTOCOL\tADDRESS")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s:%d\n",
			d.ID, d.Name, d.Type, orDash(d.Manufacturer), d.ProtocolType, d.IPAddress, d.Port)
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
