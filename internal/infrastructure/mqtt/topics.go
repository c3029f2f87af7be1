package mqtt

import "fmt"

// Topic roots. Bridge traffic is flat, graylogic/{category}/{protocol}/{id};
// everything this service owns lives under graylogic/core.
const (
	TopicPrefixBridge = "graylogic"
	TopicPrefixCore   = "graylogic/core"
	TopicPrefixSystem = "graylogic/system"
)

// Topics builds the topic names used by the access service.
//
//	mqtt.Topics{}.BridgeCommand("access", "hik-01") // graylogic/command/access/hik-01
type Topics struct{}

// BridgeCommand is where a request for deviceID is sent to a vendor bridge.
func (Topics) BridgeCommand(protocol, deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, deviceID)
}

// BridgeResponse is where a bridge answers requestID.
func (Topics) BridgeResponse(protocol, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefixBridge, protocol, requestID)
}

// AllBridgeResponses matches every answer from one bridge protocol.
func (Topics) AllBridgeResponses(protocol string) string {
	return fmt.Sprintf("%s/response/%s/+", TopicPrefixBridge, protocol)
}

// CoreDeviceState carries the retained reachability of one device.
func (Topics) CoreDeviceState(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/state", TopicPrefixCore, deviceID)
}

// CoreEvent carries events such as access_command.
func (Topics) CoreEvent(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixCore, eventType)
}

// SystemStatus carries the retained presence document.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
