package main

import (
	"log"

	"github.com/atriantas/enlarger-server/internal/exposure"
	"github.com/atriantas/enlarger-server/internal/heating"
	"github.com/atriantas/enlarger-server/internal/mqtt"
)

// telemetry fans component events out to MQTT. Publishes run on their
// own goroutines so a slow broker can never stall an exposure task or
// the heating loop.
type telemetry struct {
	pub mqtt.Publisher // nil when telemetry is disabled
}

func newTelemetry(pub mqtt.Publisher) *telemetry {
	return &telemetry{pub: pub}
}

func (t *telemetry) ExposureEvent(e exposure.Event) {
	if t.pub == nil {
		return
	}
	go func() {
		if err := t.pub.PublishExposure(e); err != nil {
			log.Printf("telemetry: exposure publish: %v", err)
		}
	}()
}

func (t *telemetry) HeatingEvent(e heating.Event) {
	if t.pub == nil {
		return
	}
	go func() {
		if err := t.pub.PublishHeating(e); err != nil {
			log.Printf("telemetry: heating publish: %v", err)
		}
	}()
}
