// Package web provides the HTTP control surface of the enlarger
// daemon: timers, manual relay control, and the heating loop. It is a
// thin layer; all semantics live in the exposure, heating and relay
// packages.
package web

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/atriantas/enlarger-server/internal/exposure"
	"github.com/atriantas/enlarger-server/internal/heating"
	"github.com/atriantas/enlarger-server/internal/mqtt"
	"github.com/atriantas/enlarger-server/internal/relay"
)

// Server serves the control API over HTTP.
type Server struct {
	httpServer *http.Server
	bank       *relay.Bank
	sched      *exposure.Scheduler
	heat       *heating.Controller
	conn       mqtt.ConnectionStatus // nil when telemetry is disabled
	start      time.Time
}

// New creates a Server over the given components. conn may be nil.
func New(addr string, bank *relay.Bank, sched *exposure.Scheduler, heat *heating.Controller, conn mqtt.ConnectionStatus) *Server {
	s := &Server{
		bank:  bank,
		sched: sched,
		heat:  heat,
		conn:  conn,
		start: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/timer/start", s.handleTimerStart)
	mux.HandleFunc("/api/timer/stop", s.handleTimerStop)
	mux.HandleFunc("/api/timer/stop-all", s.handleTimerStopAll)
	mux.HandleFunc("/api/timer/status", s.handleTimerStatus)
	mux.HandleFunc("/api/relay", s.handleRelay)
	mux.HandleFunc("/api/relays/off", s.handleRelaysOff)
	mux.HandleFunc("/api/temperature", s.handleTemperature)
	mux.HandleFunc("/api/temperature/target", s.handleTemperatureTarget)
	mux.HandleFunc("/api/temperature/enable", s.handleTemperatureEnable)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

// handleTimerStart starts a synchronized exposure: the relay turns on
// a fixed delay after the response is sent, so the client's own
// countdown can line up with the hardware.
func (s *Server) handleTimerStart(w http.ResponseWriter, r *http.Request) {
	pin, ok := s.pinParam(w, r)
	if !ok {
		return
	}

	raw := r.URL.Query().Get("duration")
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "duration must be a number of seconds")
		return
	}
	if seconds <= 0 {
		writeError(w, http.StatusBadRequest, "duration must be positive")
		return
	}
	if seconds > exposure.MaxDuration.Seconds() {
		writeError(w, http.StatusBadRequest, "duration too long (max 3600s)")
		return
	}

	info, err := s.sched.Start(pin, time.Duration(seconds*float64(time.Second)), true)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TimerStartJSON{
		Status:      "success",
		Pin:         pin,
		Name:        s.bank.Name(pin),
		DurationS:   seconds,
		StartAt:     info.StartAt,
		SyncDelayMS: info.SyncDelayMS,
	})
}

func (s *Server) handleTimerStop(w http.ResponseWriter, r *http.Request) {
	pin, ok := s.pinParam(w, r)
	if !ok {
		return
	}
	stopped := s.sched.Stop(pin)
	writeJSON(w, http.StatusOK, TimerStopJSON{
		Status:  "success",
		Pin:     pin,
		Stopped: stopped,
	})
}

func (s *Server) handleTimerStopAll(w http.ResponseWriter, r *http.Request) {
	s.sched.StopAll()
	writeJSON(w, http.StatusOK, StatusOnlyJSON{Status: "success"})
}

func (s *Server) handleTimerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TimerStatusJSON{
		Status:       "success",
		ActiveTimers: s.sched.Active(),
		Timers:       s.timers(),
	})
}

// handleRelay sets a relay by hand. A live timer on the pin is stopped
// first; the manual command wins.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	pin, ok := s.pinParam(w, r)
	if !ok {
		return
	}

	state := strings.ToLower(r.URL.Query().Get("state"))
	if state != "on" && state != "off" {
		writeError(w, http.StatusBadRequest, "state must be 'on' or 'off'")
		return
	}

	s.sched.Stop(pin)
	if err := s.bank.Set(pin, state == "on"); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to set relay state")
		return
	}

	writeJSON(w, http.StatusOK, RelayJSON{
		Status: "success",
		Pin:    pin,
		Name:   s.bank.Name(pin),
		On:     state == "on",
	})
}

func (s *Server) handleRelaysOff(w http.ResponseWriter, r *http.Request) {
	s.sched.StopAll()
	s.bank.AllOff()
	writeJSON(w, http.StatusOK, StatusOnlyJSON{Status: "success"})
}

func (s *Server) handleTemperature(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, heatingJSON(s.heat.Status()))
}

func (s *Server) handleTemperatureTarget(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("target")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "target is required (query param: ?target=X)")
		return
	}
	target, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "target must be a number")
		return
	}
	if err := s.heat.SetTarget(target); err != nil {
		writeError(w, http.StatusBadRequest, "target out of range (15-50)")
		return
	}
	writeJSON(w, http.StatusOK, heatingJSON(s.heat.Status()))
}

func (s *Server) handleTemperatureEnable(w http.ResponseWriter, r *http.Request) {
	raw := strings.ToLower(r.URL.Query().Get("enabled"))
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "enabled must be 'true' or 'false'")
		return
	}
	s.heat.SetEnabled(enabled)
	writeJSON(w, http.StatusOK, heatingJSON(s.heat.Status()))
}

// pinParam parses and validates the gpio query parameter, writing the
// error response itself on failure.
func (s *Server) pinParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("gpio")
	pin, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "gpio must be an integer pin number")
		return 0, false
	}
	if !s.bank.Valid(pin) {
		writeError(w, http.StatusBadRequest, "invalid gpio pin")
		return 0, false
	}
	return pin, true
}

// writeCoreError maps scheduler errors onto HTTP status codes.
func (s *Server) writeCoreError(w http.ResponseWriter, err error) {
	switch err {
	case relay.ErrInvalidPin:
		writeError(w, http.StatusBadRequest, "invalid gpio pin")
	case exposure.ErrReservedPin:
		writeError(w, http.StatusBadRequest, "pin is owned by the heating controller")
	case exposure.ErrDurationRange:
		writeError(w, http.StatusBadRequest, "duration out of range")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
