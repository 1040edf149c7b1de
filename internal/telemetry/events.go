// Package telemetry defines the event envelope that flows over the dashboard's
// push channel. The backend sends {type, data} frames; the receiver stamps each
// one with its own arrival time before handing it to consumers.
package telemetry

import (
	"encoding/json"
	"errors"
	"time"
)

// EventType identifies the kind of push event.
type EventType = string

const (
	EventNewRequest      EventType = "new_request"
	EventTankerUpdate    EventType = "tanker_update"
	EventAlertEscalation EventType = "alert_escalation"
	EventStatsUpdate     EventType = "stats_update"

	// Channel-management sentinels. These never reach consumers.
	EventConnected EventType = "connected"
	EventPong      EventType = "pong"
)

// Ping is the bare text frame the client sends as a liveness probe. The server
// answers with a pong event; the probe itself is not JSON.
const Ping = "ping"

// Event is a single pushed message. Timestamp is the receiver's arrival time,
// not anything the sender claimed.
type Event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// ErrNoType is returned by Decode for JSON objects without a "type" field.
var ErrNoType = errors.New("telemetry: event has no type")

// IsManagement reports whether t is a transport bookkeeping event.
func IsManagement(t string) bool {
	return t == EventConnected || t == EventPong
}

// Decode parses one frame and stamps it with at. Anything that is not a JSON
// object carrying a non-empty type is rejected.
func Decode(frame []byte, at time.Time) (Event, error) {
	var wire struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(frame, &wire); err != nil {
		return Event{}, err
	}
	if wire.Type == "" {
		return Event{}, ErrNoType
	}
	return Event{Type: wire.Type, Data: wire.Data, Timestamp: at}, nil
}

// Encode builds a wire frame. A nil data map is sent as an empty object so
// clients can always index into it.
func Encode(eventType string, data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	return json.Marshal(map[string]any{"type": eventType, "data": data})
}
