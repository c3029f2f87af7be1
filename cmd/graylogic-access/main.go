// Gray Logic Access - access-control device gateway
//
// graylogic-access drives door controllers, face terminals, turnstiles and
// barrier gates from many vendors through one command surface. Each command
// is routed to the protocol adapter that speaks the device's wire protocol
// (raw TCP, HTTP/HTTPS, or a vendor SDK bridged over MQTT).
//
// Exit status reflects the worst outcome of the command:
//
//	0 ok
//	1 negative (the device refused)
//	2 client error (unknown device, no adapter, bad arguments)
//	3 upstream unavailable (transport failure)
//	4 internal error
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-access/internal/command"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// Cancel on Ctrl+C and SIGTERM so in-flight commands and the monitor
	// shut down cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// exitError carries a process exit status. A nil err means the outcome was
// already reported on stdout.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// execute runs the CLI and returns the process exit status.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", exitErr.err)
		}
		return exitErr.code
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	return command.Classify(false, err).ExitCode()
}
