package ws

import (
	"encoding/json"
	"time"
)

// MessageType discriminates WebSocket messages.
type MessageType string

// Server to client messages.
const (
	MessageConnected           MessageType = "server.connected"
	MessageError               MessageType = "server.error"
	MessageHeartbeatAck        MessageType = "heartbeat.ack"
	MessageAnomalyDetected     MessageType = "anomaly.detected"
	MessageAnomalyAcknowledged MessageType = "anomaly.acknowledged"
	MessageAnomaliesCleared    MessageType = "anomalies.cleared"
	MessageBaselineUpdated     MessageType = "baseline.updated"
	MessageDeviceConnected     MessageType = "device.connected"
	MessageDeviceDisconnected  MessageType = "device.disconnected"
)

// Client to server frames.
const (
	FrameSensorReading     MessageType = "sensor.reading"
	FramePerformanceSample MessageType = "performance.sample"
	FrameHeartbeat         MessageType = "heartbeat"
)

// Message is the envelope for all server to client messages.
type Message struct {
	Type      MessageType `json:"type"`
	DeviceID  string      `json:"device_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data,omitempty"`
}

// Frame is the envelope of a client to server frame. Data is decoded once
// Type is known.
type Frame struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ConnectedData is the payload of server.connected.
type ConnectedData struct {
	Role         string `json:"role"`
	SensorOnline bool   `json:"sensor_online"`
}

// ErrorData is the payload of server.error.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
