package mqtt

import (
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
)

// Logger is the logging interface used by the Client. *logging.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for link changes and handler failures.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client is the service's broker connection. It publishes command events
// and device state, and carries the MQTT bridge request/response traffic.
// Safe for concurrent use.
type Client struct {
	conn   pahomqtt.Client
	cfg    config.MQTTConfig
	logger Logger
	now    func() time.Time

	// up is our view of the link; paho may still be mid-reconnect.
	up atomic.Bool

	routesMu sync.RWMutex
	routes   map[string]route
}

func newClient(cfg config.MQTTConfig, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg,
		logger: nopLogger{},
		now:    time.Now,
		routes: make(map[string]route),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the broker and waits up to ten seconds for the session.
// After that paho reconnects on its own; subscriptions made through the
// Client are reinstalled and the online presence is republished each time.
func Connect(cfg config.MQTTConfig, opts ...Option) (*Client, error) {
	c := newClient(cfg, opts...)

	po := clientOptions(cfg, c.now())
	po.SetOnConnectHandler(func(pahomqtt.Client) { c.linkUp() })
	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.linkDown(err) })
	po.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.logger.Warn("MQTT reconnecting", "broker", brokerURL(cfg.Broker))
	})

	c.conn = pahomqtt.NewClient(po)
	if err := await(c.conn.Connect(), connectTimeout, ErrConnectionFailed); err != nil {
		// Stop the background retry loop SetConnectRetry started.
		c.conn.Disconnect(0)
		return nil, err
	}
	c.up.Store(true)
	return c, nil
}

// linkUp runs on paho's callback goroutine for the first connect and every
// reconnect. It must not wait on tokens.
func (c *Client) linkUp() {
	c.up.Store(true)
	c.restoreRoutes()
	c.conn.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
		presencePayload(c.cfg.Broker.ClientID, statusOnline, "", c.now()))
	c.logger.Info("MQTT connected", "broker", brokerURL(c.cfg.Broker), "routes", c.routeCount())
}

func (c *Client) linkDown(err error) {
	c.up.Store(false)
	c.logger.Warn("MQTT connection lost", "broker", brokerURL(c.cfg.Broker), "error", err)
}

// IsConnected reports whether the broker link is currently open.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.up.Load() && c.conn.IsConnectionOpen()
}

// Close replaces the retained presence with a graceful offline document and
// disconnects. Calling Close on a Client that never connected is a no-op.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	if c.IsConnected() {
		tok := c.conn.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
			presencePayload(c.cfg.Broker.ClientID, statusOffline, reasonShutdown, c.now()))
		if err := await(tok, ackTimeout, ErrPublishFailed); err != nil {
			c.logger.Warn("publishing offline presence failed", "error", err)
		}
	}
	c.conn.Disconnect(quiesceMillis)
	c.up.Store(false)
	return nil
}
