package mqtt

import "errors"

// Errors returned by the Client. Match with errors.Is.
var (
	// ErrNotConnected means the broker link is down. Callers treat it as a
	// transport failure.
	ErrNotConnected = errors.New("mqtt: not connected to broker")

	ErrConnectionFailed = errors.New("mqtt: broker connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")

	ErrInvalidTopic    = errors.New("mqtt: empty topic")
	ErrInvalidQoS      = errors.New("mqtt: qos must be 0, 1 or 2")
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")
)
