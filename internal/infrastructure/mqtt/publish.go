package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publish sends payload to topic and waits for the broker to acknowledge
// it. Publishing an empty retained payload removes the topic's retained
// message.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayload {
		return fmt.Errorf("%w: %d bytes on %s, limit %d", ErrPayloadTooLarge, len(payload), topic, maxPayload)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.conn.Publish(topic, qos, retained, payload), ackTimeout, ErrPublishFailed)
}

func checkTopic(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return fmt.Errorf("%w: got %d", ErrInvalidQoS, qos)
	}
	return nil
}

// await blocks on tok for at most timeout and wraps any failure in kind.
func await(tok pahomqtt.Token, timeout time.Duration, kind error) error {
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("%w: no acknowledgement within %v", kind, timeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return nil
}
