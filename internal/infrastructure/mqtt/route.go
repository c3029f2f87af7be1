package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// MessageHandler handles one inbound message. It runs on a paho goroutine
// and should return quickly. A returned error is logged and otherwise
// ignored.
type MessageHandler func(topic string, payload []byte) error

type route struct {
	qos     byte
	handler MessageHandler
}

// Subscribe routes messages matching topic (wildcards allowed) to handler.
// The route survives reconnects. Subscribing to the same topic again
// replaces the handler.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := await(c.conn.Subscribe(topic, qos, c.dispatch(handler)), ackTimeout, ErrSubscribeFailed); err != nil {
		return err
	}

	c.routesMu.Lock()
	c.routes[topic] = route{qos: qos, handler: handler}
	c.routesMu.Unlock()
	c.logger.Debug("MQTT route added", "topic", topic, "qos", qos)
	return nil
}

// restoreRoutes resubscribes every route after a reconnect. It runs on the
// connect callback, so acknowledgements are awaited on separate goroutines.
func (c *Client) restoreRoutes() {
	c.routesMu.RLock()
	defer c.routesMu.RUnlock()

	for topic, r := range c.routes {
		tok := c.conn.Subscribe(topic, r.qos, c.dispatch(r.handler))
		go func() {
			if err := await(tok, ackTimeout, ErrSubscribeFailed); err != nil {
				c.logger.Error("restoring MQTT route failed", "topic", topic, "error", err)
			}
		}()
	}
}

func (c *Client) routeCount() int {
	c.routesMu.RLock()
	defer c.routesMu.RUnlock()
	return len(c.routes)
}

// dispatch adapts handler to paho, containing panics so one bad message
// cannot take down the paho router.
func (c *Client) dispatch(handler MessageHandler) func(pahomqtt.Client, pahomqtt.Message) {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("MQTT handler panicked", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("MQTT handler failed", "topic", msg.Topic(), "error", err)
		}
	}
}
