package websocket

import (
	"time"

	"github.com/KevinKickass/sunspec-gateway/internal/sunspec"
)

// MessageType tags every frame pushed to the live view.
type MessageType string

const (
	MessageTypeTelemetry   MessageType = "telemetry"
	MessageTypeSystemState MessageType = "system_state"
	MessageTypeWelcome     MessageType = "welcome"
	MessageTypePong        MessageType = "pong"
	MessageTypeError       MessageType = "error"
)

type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

// SystemStateData announces a lifecycle transition.
type SystemStateData struct {
	State    string `json:"state"`
	Previous string `json:"previous_state"`
}

type WelcomeData struct {
	ClientID string `json:"client_id"`
}

func NewMessage(msgType MessageType, data any) Message {
	return Message{Type: msgType, Timestamp: time.Now(), Data: data}
}

// NewTelemetryMessage stamps the message with the sample time, not the
// send time.
func NewTelemetryMessage(snap sunspec.Snapshot) Message {
	return Message{Type: MessageTypeTelemetry, Timestamp: snap.Timestamp, Data: snap}
}

func NewSystemStateMessage(state, previous string) Message {
	return NewMessage(MessageTypeSystemState, SystemStateData{State: state, Previous: previous})
}
