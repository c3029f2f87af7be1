// Package mqtt is the access service's broker connection.
//
// Three things travel over it:
//
//   - access_command events on graylogic/core/event/access_command
//   - retained device reachability on graylogic/core/device/{id}/state
//   - MQTT bridge requests on graylogic/command/access/{device} and their
//     replies on graylogic/response/access/{request}
//
// Presence is retained on graylogic/system/status: online after every
// connect, offline with reason graceful_shutdown on Close, and offline with
// reason unexpected_disconnect as the broker-held will.
//
// Connect returns once the first session is up. paho reconnects after that
// with the configured backoff, and routes added with Subscribe are
// reinstalled on every reconnect.
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
