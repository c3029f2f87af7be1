// Package process supervises the vendor SDK bridge helper.
//
// Some access terminals are only reachable through a vendor SDK that runs
// as a separate helper program. The helper speaks the request/response
// protocol of the MQTT bridge adapter on one side and the vendor SDK on the
// other. When configured, the monitor command starts the helper, restarts it
// with exponential backoff when it exits, and stops it on shutdown.
//
//	sup := process.New(process.Config{
//	    Name:   "zk-sdk-bridge",
//	    Binary: "/opt/zk/bridge",
//	    Args:   []string{"--broker", "tcp://localhost:1883"},
//	}, process.WithLogger(log))
//
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
//
// The helper runs in its own process group; Stop signals the whole group
// with SIGTERM and escalates to SIGKILL after GracefulTimeout.
package process
