// Command enlarger-server drives a darkroom relay board: synchronized
// enlarger exposure timers, manual relay control, and a hysteresis
// heating loop for chemical baths, with an HTTP control API and MQTT
// telemetry.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atriantas/enlarger-server/internal/clock"
	"github.com/atriantas/enlarger-server/internal/config"
	"github.com/atriantas/enlarger-server/internal/exposure"
	"github.com/atriantas/enlarger-server/internal/gpio"
	"github.com/atriantas/enlarger-server/internal/heating"
	"github.com/atriantas/enlarger-server/internal/mqtt"
	"github.com/atriantas/enlarger-server/internal/relay"
	"github.com/atriantas/enlarger-server/internal/sensor"
	"github.com/atriantas/enlarger-server/internal/web"
)

func main() {
	cfg := config.Load()
	httpAddr := flag.String("http", cfg.HTTPAddr, "HTTP listen address")
	broker := flag.String("broker", cfg.MQTTBroker, "MQTT broker address (empty to disable telemetry)")
	heatingPin := flag.Int("heating-pin", cfg.HeatingPin, "BCM pin of the heating relay")
	target := flag.Float64("target", cfg.HeatingTarget, "Initial bath target temperature in °C")
	flag.Parse()

	cfg.HTTPAddr = *httpAddr
	cfg.MQTTBroker = *broker
	cfg.HeatingPin = *heatingPin
	cfg.HeatingTarget = *target

	if err := cfg.Validate(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg *config.Config) error {
	drv, err := gpio.NewRealDriver(pins()...)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer drv.Close()

	// Forces every relay OFF before anything else runs.
	bank, err := relay.New(drv, relay.DefaultPins)
	if err != nil {
		return fmt.Errorf("init relay bank: %w", err)
	}
	defer bank.AllOff()

	clk := clock.NewSystem()

	// Telemetry is optional: an unreachable broker must never keep the
	// darkroom dark.
	var publisher mqtt.Publisher
	var connStatus mqtt.ConnectionStatus
	if cfg.MQTTBroker != "" {
		real, err := mqtt.NewRealPublisher(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTUsername, cfg.MQTTPassword)
		if err != nil {
			log.Printf("mqtt connect failed, continuing without telemetry: %v", err)
		} else {
			publisher = real
			connStatus = real
			defer real.Close()
		}
	}
	sink := newTelemetry(publisher)

	sched := exposure.New(bank, clk, sink, cfg.HeatingPin)

	src := sensor.NewDS18B20()
	heat := heating.New(bank, clk, src, sink, cfg.HeatingPin)
	if err := heat.SetTarget(cfg.HeatingTarget); err != nil {
		return fmt.Errorf("heating target: %w", err)
	}

	srv := web.New(cfg.HTTPAddr, bank, sched, heat, connStatus)

	publishSystem(publisher, "STARTUP", "")
	log.Printf("started: http=%s heating-pin=%d target=%.1f°C broker=%q",
		cfg.HTTPAddr, cfg.HeatingPin, cfg.HeatingTarget, cfg.MQTTBroker)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var shutdownReason string
	go func() {
		s := <-sigCh
		shutdownReason = sigName(s)
		log.Printf("received %s, shutting down", shutdownReason)
		cancel()
	}()

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		return heat.Run(ctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sched.StopAll()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	publishSystem(publisher, "SHUTDOWN", shutdownReason)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func pins() []int {
	out := make([]int, 0, len(relay.DefaultPins))
	for pin := range relay.DefaultPins {
		out = append(out, pin)
	}
	return out
}

func publishSystem(p mqtt.Publisher, event, reason string) {
	if p == nil {
		return
	}
	err := p.PublishSystem(mqtt.SystemEvent{
		Timestamp: time.Now().UTC(),
		Event:     event,
		Reason:    reason,
		Retained:  true,
	})
	if err != nil {
		log.Printf("failed to publish %s event: %v", event, err)
		return
	}
	log.Printf("published %s event", event)
}

func sigName(s os.Signal) string {
	if s == syscall.SIGINT {
		return "SIGINT"
	}
	return "SIGTERM"
}
