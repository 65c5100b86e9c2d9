// Package mqtt publishes enlarger telemetry with abstraction for
// testing. The darkroom must keep working with no broker reachable, so
// the real publisher buffers while disconnected and replays on
// reconnect.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/atriantas/enlarger-server/internal/exposure"
	"github.com/atriantas/enlarger-server/internal/heating"
)

// Topics for enlarger telemetry.
const (
	TopicExposure = "darkroom/enlarger/exposure"
	TopicHeating  = "darkroom/enlarger/heating"
	TopicSystem   = "darkroom/enlarger/system"
)

// Publisher publishes telemetry events.
type Publisher interface {
	// PublishExposure sends an exposure lifecycle event.
	PublishExposure(event exposure.Event) error

	// PublishHeating sends a heating transition or sensor fault.
	PublishHeating(event heating.Event) error

	// PublishSystem sends a daemon lifecycle event (startup, shutdown).
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a daemon lifecycle event.
type SystemEvent struct {
	Timestamp time.Time
	Event     string // "STARTUP", "SHUTDOWN"
	Reason    string // "SIGTERM", "SIGINT" (shutdown only)
	Retained  bool
}

// ExposurePayload is the MQTT message for exposure events.
type ExposurePayload struct {
	Exposure ExposureInner `json:"exposure"`
}

// ExposureInner contains the exposure event details.
type ExposureInner struct {
	Timestamp  string `json:"timestamp"`
	Event      string `json:"event"`
	Pin        int    `json:"pin"`
	Name       string `json:"name"`
	DurationMS uint32 `json:"duration_ms"`
}

// HeatingPayload is the MQTT message for heating events.
type HeatingPayload struct {
	Heating HeatingInner `json:"heating"`
}

// HeatingInner contains the heating event details.
type HeatingInner struct {
	Timestamp   string   `json:"timestamp"`
	Event       string   `json:"event"`
	Temperature *float64 `json:"temperature,omitempty"`
	Target      float64  `json:"target"`
}

// SystemPayload is the MQTT message for system events.
type SystemPayload struct {
	System SystemInner `json:"system"`
}

// SystemInner contains the system event details.
type SystemInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatExposurePayload creates the JSON payload for an exposure event.
func FormatExposurePayload(event exposure.Event, now time.Time) ([]byte, error) {
	payload := ExposurePayload{
		Exposure: ExposureInner{
			Timestamp:  now.UTC().Format(time.RFC3339),
			Event:      string(event.Type),
			Pin:        event.Pin,
			Name:       event.Name,
			DurationMS: event.DurationMS,
		},
	}
	return json.Marshal(payload)
}

// FormatHeatingPayload creates the JSON payload for a heating event.
func FormatHeatingPayload(event heating.Event, now time.Time) ([]byte, error) {
	inner := HeatingInner{
		Timestamp: now.UTC().Format(time.RFC3339),
		Event:     string(event.Type),
		Target:    event.Target,
	}
	if event.Type != heating.EventSensorFault {
		temp := event.Temperature
		inner.Temperature = &temp
	}
	return json.Marshal(HeatingPayload{Heating: inner})
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	payload := SystemPayload{
		System: SystemInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
