package web

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/atriantas/enlarger-server/internal/heating"
)

// StatusOnlyJSON is the body of endpoints with nothing else to report.
type StatusOnlyJSON struct {
	Status string `json:"status"`
}

// ErrorJSON is the body of every error response.
type ErrorJSON struct {
	Error string `json:"error"`
}

// RelayStateJSON is one relay in the status snapshot.
type RelayStateJSON struct {
	Pin  int    `json:"pin"`
	Name string `json:"name"`
	On   bool   `json:"on"`
}

// TimerJSON is one exposure task in the status snapshot.
type TimerJSON struct {
	Pin         int    `json:"pin"`
	Name        string `json:"name"`
	Running     bool   `json:"running"`
	Scheduled   bool   `json:"scheduled"`
	StartAt     uint32 `json:"start_at,omitempty"`
	ElapsedMS   uint32 `json:"elapsed_ms"`
	RemainingMS uint32 `json:"remaining_ms"`
	DurationMS  uint32 `json:"duration_ms"`
}

// HeatingJSON is the heating controller's externally visible state.
type HeatingJSON struct {
	Temperature *float64 `json:"temperature"`
	Target      float64  `json:"target"`
	RelayOn     bool     `json:"relay_on"`
	Connected   bool     `json:"connected"`
	Enabled     bool     `json:"enabled"`
}

// StatusJSON is the full daemon snapshot served at /api/status.
type StatusJSON struct {
	Status        string           `json:"status"`
	UptimeS       int64            `json:"uptime_s"`
	Relays        []RelayStateJSON `json:"relays"`
	ActiveTimers  int              `json:"active_timers"`
	Timers        []TimerJSON      `json:"timers"`
	Heating       HeatingJSON      `json:"heating"`
	MQTTConnected bool             `json:"mqtt_connected"`
}

// TimerStartJSON is the body of a successful /api/timer/start.
type TimerStartJSON struct {
	Status      string  `json:"status"`
	Pin         int     `json:"pin"`
	Name        string  `json:"name"`
	DurationS   float64 `json:"duration_s"`
	StartAt     uint32  `json:"start_at"`
	SyncDelayMS int64   `json:"sync_delay_ms"`
}

// TimerStopJSON is the body of /api/timer/stop. Stopped is false when
// the pin had no live task.
type TimerStopJSON struct {
	Status  string `json:"status"`
	Pin     int    `json:"pin"`
	Stopped bool   `json:"stopped"`
}

// TimerStatusJSON is the body of /api/timer/status.
type TimerStatusJSON struct {
	Status       string      `json:"status"`
	ActiveTimers int         `json:"active_timers"`
	Timers       []TimerJSON `json:"timers"`
}

// RelayJSON is the body of a successful /api/relay.
type RelayJSON struct {
	Status string `json:"status"`
	Pin    int    `json:"pin"`
	Name   string `json:"name"`
	On     bool   `json:"on"`
}

func (s *Server) snapshot() StatusJSON {
	states := s.bank.States()
	relays := make([]RelayStateJSON, 0, len(states))
	for pin, st := range states {
		relays = append(relays, RelayStateJSON{Pin: pin, Name: st.Name, On: st.On})
	}
	sort.Slice(relays, func(i, j int) bool { return relays[i].Pin < relays[j].Pin })

	timers := s.timers()
	return StatusJSON{
		Status:        "success",
		UptimeS:       int64(time.Since(s.start).Seconds()),
		Relays:        relays,
		ActiveTimers:  len(timers),
		Timers:        timers,
		Heating:       heatingJSON(s.heat.Status()),
		MQTTConnected: s.conn != nil && s.conn.IsConnected(),
	}
}

func (s *Server) timers() []TimerJSON {
	statuses := s.sched.AllStatuses()
	timers := make([]TimerJSON, 0, len(statuses))
	for pin, st := range statuses {
		timers = append(timers, TimerJSON{
			Pin:         pin,
			Name:        s.bank.Name(pin),
			Running:     st.Running,
			Scheduled:   st.Scheduled,
			StartAt:     st.StartAt,
			ElapsedMS:   st.ElapsedMS,
			RemainingMS: st.RemainingMS,
			DurationMS:  st.DurationMS,
		})
	}
	sort.Slice(timers, func(i, j int) bool { return timers[i].Pin < timers[j].Pin })
	return timers
}

func heatingJSON(st heating.Status) HeatingJSON {
	return HeatingJSON{
		Temperature: st.Temperature,
		Target:      st.Target,
		RelayOn:     st.RelayOn,
		Connected:   st.Connected,
		Enabled:     st.Enabled,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorJSON{Error: msg})
}
