// Package mqtt mirrors machine status and lifecycle events to a broker.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/coffee-machine/internal/broadcast"
	"github.com/sweeney/coffee-machine/internal/codec"
	"github.com/sweeney/coffee-machine/internal/machine"
)

// TopicStatus carries the latest machine snapshot, retained.
const TopicStatus = "coffee/machine/status"

// TopicSystem carries lifecycle and seat-switch events.
const TopicSystem = "coffee/machine/system"

// Publisher publishes to MQTT. Errors are reported, never fatal.
type Publisher interface {
	// PublishStatus sends a machine snapshot. It must not block on the
	// broker since it runs on the tick path.
	PublishStatus(s machine.Snapshot) error

	// PublishSystem sends a lifecycle event and waits for delivery.
	PublishSystem(event SystemEvent) error

	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent is a lifecycle event (STARTUP, SHUTDOWN, HEARTBEAT,
// RECONNECTED) or a seat-switch transition.
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // SHUTDOWN only, e.g. SIGTERM
	RawPayload []byte // pre-formatted payload; returned as is by FormatSystemPayload
	Retained   bool
}

// SystemPayload is the payload for events without a status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatStatusPayload encodes a snapshot the same way the websocket JSON
// codec does, so subscribers can share a decoder.
func FormatStatusPayload(s machine.Snapshot) ([]byte, error) {
	return codec.JSON{}.Encode(broadcast.StatusMessage(s))
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}
