// Package mqtt mirrors node telemetry and button events to an MQTT broker
// for off-vehicle monitoring. It is never on the control path.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/steering-node/internal/buttons"
	"github.com/sweeney/steering-node/internal/state"
)

// Topics
const (
	TopicTelemetry = "vehicle/steering/telemetry"
	TopicButtons   = "vehicle/steering/buttons"
	TopicSystem    = "vehicle/steering/system"
)

// Publisher publishes node data to MQTT.
type Publisher interface {
	// PublishStatus sends a telemetry snapshot.
	// Returns error if publishing fails (should not crash the process).
	PublishStatus(snap state.Snapshot, info state.Info) error

	// PublishEvent sends one debounced button event.
	PublishEvent(ev buttons.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a lifecycle event (STARTUP, SHUTDOWN, OFFLINE).
type SystemEvent struct {
	Timestamp time.Time
	Event     string
	Reason    string // e.g. "SIGTERM" (shutdown only)
	BootID    string
	Retained  bool
}

// SystemPayload is the MQTT message payload for system events.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
	BootID    string `json:"boot_id,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
			BootID:    event.BootID,
		},
	})
}

// EventPayload is the MQTT message payload for a button event.
type EventPayload struct {
	Button ButtonPayload `json:"button"`
}

// ButtonPayload contains the button event details.
type ButtonPayload struct {
	Timestamp string `json:"timestamp"`
	ID        uint8  `json:"id"`
	Name      string `json:"name"`
	Event     string `json:"event"`
	Pressed   bool   `json:"pressed"`
	Toggle    *bool  `json:"toggle,omitempty"`
}

// FormatEventPayload creates the JSON payload for a button event.
func FormatEventPayload(ev buttons.Event) ([]byte, error) {
	p := ButtonPayload{
		Timestamp: ev.Time.UTC().Format(time.RFC3339Nano),
		ID:        uint8(ev.Button),
		Name:      ev.Button.String(),
		Event:     string(ev.Kind),
		Pressed:   ev.Pressed,
	}
	if ev.Kind == buttons.EventToggled {
		v := ev.Toggle
		p.Toggle = &v
	}
	return json.Marshal(EventPayload{Button: p})
}
