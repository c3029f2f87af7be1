package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	ackTimeout     = 5 * time.Second
	keepAlive      = 30 * time.Second

	// quiesceMillis lets in-flight bridge requests drain on Close.
	quiesceMillis uint = 250

	reconnectInitialDelay = time.Second
	reconnectMaxDelay     = time.Minute

	maxQoS = 2

	// Bridge requests and device state documents are a few hundred bytes.
	maxPayload = 64 << 10
)

// serviceName identifies this process in presence documents.
const serviceName = "access"

// Presence states and reasons published on graylogic/system/status.
const (
	statusOnline  = "online"
	statusOffline = "offline"

	reasonShutdown = "graceful_shutdown"
	reasonLost     = "unexpected_disconnect"
)

// presence is the retained document describing whether the service is up.
// The broker publishes the offline variant as our will when the link dies.
type presence struct {
	Service   string `json:"service"`
	ClientID  string `json:"client_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func presencePayload(clientID, status, reason string, at time.Time) []byte {
	b, _ := json.Marshal(presence{ //nolint:errchkjson // string fields only
		Service:   serviceName,
		ClientID:  clientID,
		Status:    status,
		Reason:    reason,
		Timestamp: at.UTC().Format(time.RFC3339),
	})
	return b
}

func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// clientOptions maps the mqtt config section onto paho options. Sessions
// are clean; the Client reinstalls its own subscriptions on reconnect.
func clientOptions(cfg config.MQTTConfig, now time.Time) *pahomqtt.ClientOptions {
	initial := cfg.Reconnect.InitialDelay
	if initial <= 0 {
		initial = reconnectInitialDelay
	}
	ceiling := cfg.Reconnect.MaxDelay
	if ceiling < initial {
		ceiling = reconnectMaxDelay
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(initial).
		SetMaxReconnectInterval(ceiling).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetBinaryWill(Topics{}.SystemStatus(),
			presencePayload(cfg.Broker.ClientID, statusOffline, reasonLost, now), 1, true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}
