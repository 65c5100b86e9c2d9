package exposure

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/atriantas/enlarger-server/internal/clock"
	"github.com/atriantas/enlarger-server/internal/gpio"
	"github.com/atriantas/enlarger-server/internal/relay"
)

// recordingSink collects emitted events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) ExposureEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func newTestScheduler(t *testing.T) (*Scheduler, *gpio.FakeDriver, *clock.Fake, *recordingSink) {
	t.Helper()
	drv := gpio.NewFakeDriver()
	bank, err := relay.New(drv, relay.DefaultPins)
	if err != nil {
		t.Fatalf("relay.New: %v", err)
	}
	clk := clock.NewFake(0)
	sink := &recordingSink{}
	s := New(bank, clk, sink, gpio.PinHeating)
	return s, drv, clk, sink
}

// waitFor polls cond with a real-time deadline; task goroutines run
// concurrently with the test even under the fake clock.
func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestImmediateStart(t *testing.T) {
	s, drv, clk, _ := newTestScheduler(t)
	pin := gpio.PinEnlarger

	info, err := s.Start(pin, 5*time.Second, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if info.Scheduled {
		t.Error("immediate start must not report a scheduled start tick")
	}
	if info.SyncDelayMS != 150 {
		t.Errorf("SyncDelayMS: got %d, want 150", info.SyncDelayMS)
	}

	waitFor(t, "relay on", func() bool { return drv.State(pin) })

	clk.BlockUntil(1)
	clk.Advance(5 * time.Second)

	waitFor(t, "relay off", func() bool { return !drv.State(pin) })
	waitFor(t, "task idle", func() bool { return s.Status(pin) == nil })

	if s.Stop(pin) {
		t.Error("Stop after completion must report no task cancelled")
	}
}

func TestScheduledStartDelay(t *testing.T) {
	s, drv, clk, _ := newTestScheduler(t)
	pin := gpio.PinEnlarger

	info, err := s.Start(pin, 5*time.Second, true)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !info.Scheduled || info.StartAt != 150 {
		t.Fatalf("StartAt: got %d (scheduled=%v), want 150", info.StartAt, info.Scheduled)
	}

	st := s.Status(pin)
	if st == nil || !st.Scheduled || st.StartAt != 150 {
		t.Fatalf("status before start: got %+v, want scheduled at 150", st)
	}

	// Not yet due: the relay must stay off.
	clk.BlockUntil(1)
	clk.Advance(149 * time.Millisecond)
	if drv.State(pin) {
		t.Fatal("relay turned on before the scheduled start tick")
	}

	clk.Advance(1 * time.Millisecond)
	waitFor(t, "relay on at start tick", func() bool { return drv.State(pin) })

	clk.BlockUntil(1)
	clk.Advance(5 * time.Second)
	waitFor(t, "relay off after duration", func() bool { return !drv.State(pin) })
}

// The reference scenario: 5s exposure scheduled at t=0, status sampled
// at t=2000ms.
func TestStatusDuringRun(t *testing.T) {
	s, drv, clk, _ := newTestScheduler(t)
	pin := gpio.PinEnlarger

	if _, err := s.Start(pin, 5*time.Second, true); err != nil {
		t.Fatalf("Start: %v", err)
	}

	clk.BlockUntil(1)
	clk.Advance(150 * time.Millisecond)
	waitFor(t, "relay on", func() bool { return drv.State(pin) })

	clk.BlockUntil(1)
	clk.Advance(1850 * time.Millisecond) // now at t=2000ms

	st := s.Status(pin)
	if st == nil || !st.Running {
		t.Fatalf("status: got %+v, want running", st)
	}
	if st.ElapsedMS != 1850 {
		t.Errorf("ElapsedMS: got %d, want 1850", st.ElapsedMS)
	}
	if st.RemainingMS != 3150 {
		t.Errorf("RemainingMS: got %d, want 3150", st.RemainingMS)
	}

	clk.Advance(3150 * time.Millisecond)
	waitFor(t, "relay off at t=5150ms", func() bool { return !drv.State(pin) })
}

// Restarting a pin cancels the old task and its OFF write lands before
// the new task's ON write.
func TestRestartSamePin(t *testing.T) {
	s, drv, clk, _ := newTestScheduler(t)
	pin := gpio.PinSafelight

	if _, err := s.Start(pin, 10*time.Second, false); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	waitFor(t, "first relay on", func() bool { return drv.State(pin) })

	clk.BlockUntil(1)
	clk.Advance(1 * time.Second)

	if _, err := s.Start(pin, 3*time.Second, false); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	waitFor(t, "second relay on", func() bool { return drv.State(pin) })

	// Boot OFF, first ON, displaced OFF, second ON — never a window
	// with two owners.
	hist := drv.History(pin)
	want := []bool{false, true, false, true}
	if len(hist) != len(want) {
		t.Fatalf("history: got %v, want %v", hist, want)
	}
	for i := range want {
		if hist[i] != want[i] {
			t.Fatalf("history: got %v, want %v", hist, want)
		}
	}

	// The displaced task abandoned its waiter in the fake clock, so
	// wait for the new task's waiter to join it before advancing.
	clk.BlockUntil(2)
	clk.Advance(3 * time.Second)
	waitFor(t, "second relay off", func() bool { return !drv.State(pin) })
}

func TestStopCancelsAndForcesOff(t *testing.T) {
	s, drv, clk, sink := newTestScheduler(t)
	pin := gpio.PinEnlarger

	if _, err := s.Start(pin, 10*time.Second, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "relay on", func() bool { return drv.State(pin) })
	clk.BlockUntil(1)

	if !s.Stop(pin) {
		t.Fatal("Stop must report a cancelled task")
	}
	// Stop waits for the task's cleanup: the relay is already off.
	if drv.State(pin) {
		t.Fatal("relay must be off when Stop returns")
	}
	if s.Status(pin) != nil {
		t.Error("status must be nil after stop")
	}

	types := sink.types()
	if len(types) != 2 || types[0] != EventStarted || types[1] != EventCancelled {
		t.Errorf("events: got %v, want [EXPOSURE_STARTED EXPOSURE_CANCELLED]", types)
	}
}

func TestStopIdempotent(t *testing.T) {
	s, drv, _, _ := newTestScheduler(t)
	pin := gpio.PinEnlarger

	if s.Stop(pin) {
		t.Error("Stop on idle pin must return false")
	}
	if drv.State(pin) {
		t.Error("relay must stay off")
	}

	if _, err := s.Start(pin, time.Second, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "relay on", func() bool { return drv.State(pin) })

	if !s.Stop(pin) {
		t.Error("first Stop must cancel")
	}
	if s.Stop(pin) {
		t.Error("second Stop must be a no-op")
	}
}

func TestStopScheduledBeforeStart(t *testing.T) {
	s, drv, _, sink := newTestScheduler(t)
	pin := gpio.PinEnlarger

	if _, err := s.Start(pin, 5*time.Second, true); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.Stop(pin) {
		t.Fatal("Stop must cancel the scheduled task")
	}

	// Only the boot write and the cleanup OFF: the relay never saw ON.
	for _, on := range drv.History(pin) {
		if on {
			t.Fatal("relay turned on despite cancellation before the start tick")
		}
	}
	types := sink.types()
	if len(types) != 1 || types[0] != EventCancelled {
		t.Errorf("events: got %v, want [EXPOSURE_CANCELLED]", types)
	}
}

func TestStopAll(t *testing.T) {
	s, drv, _, _ := newTestScheduler(t)
	pins := []int{gpio.PinEnlarger, gpio.PinSafelight, gpio.PinWhiteLight}

	for _, pin := range pins {
		if _, err := s.Start(pin, 10*time.Second, false); err != nil {
			t.Fatalf("Start pin %d: %v", pin, err)
		}
	}
	for _, pin := range pins {
		p := pin
		waitFor(t, "relay on", func() bool { return drv.State(p) })
	}

	s.StopAll()

	for _, pin := range pins {
		if drv.State(pin) {
			t.Errorf("pin %d: expected off after StopAll", pin)
		}
	}
	if s.Active() != 0 {
		t.Errorf("Active: got %d, want 0", s.Active())
	}
}

func TestWriteErrorStillReleasesPin(t *testing.T) {
	s, drv, clk, _ := newTestScheduler(t)
	pin := gpio.PinEnlarger
	drv.FailWrites(pin, errors.New("bus fault"))

	if _, err := s.Start(pin, time.Second, false); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The ON write fails but the countdown still runs and terminates.
	clk.BlockUntil(1)
	clk.Advance(time.Second)
	waitFor(t, "task terminal", func() bool { return s.Status(pin) == nil })

	// The pin is free for a new task once writes recover.
	drv.FailWrites(pin, nil)
	if _, err := s.Start(pin, time.Second, false); err != nil {
		t.Fatalf("restart after write failure: %v", err)
	}
	waitFor(t, "relay on after recovery", func() bool { return drv.State(pin) })
}

// panickySink fails on every event, the worst-behaved sink possible.
type panickySink struct{}

func (panickySink) ExposureEvent(Event) { panic("sink failure") }

// A panic thrown from the task body must still force the relay off,
// release the pin, and never escape the task goroutine.
func TestTaskPanicStillForcesOffAndReleasesPin(t *testing.T) {
	drv := gpio.NewFakeDriver()
	bank, err := relay.New(drv, relay.DefaultPins)
	if err != nil {
		t.Fatalf("relay.New: %v", err)
	}
	clk := clock.NewFake(0)
	s := New(bank, clk, panickySink{}, gpio.PinHeating)
	pin := gpio.PinEnlarger

	if _, err := s.Start(pin, time.Second, false); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The ON-transition event panics mid-body; cleanup still runs.
	waitFor(t, "relay off after panic", func() bool { return !drv.State(pin) })
	waitFor(t, "task idle", func() bool { return s.Status(pin) == nil })

	hist := drv.History(pin)
	want := []bool{false, true, false}
	if len(hist) != len(want) {
		t.Fatalf("history: got %v, want %v", hist, want)
	}
	for i := range want {
		if hist[i] != want[i] {
			t.Fatalf("history: got %v, want %v", hist, want)
		}
	}

	// The pin is free again, and stopping the new task survives the
	// sink panicking on the cancellation event too.
	if _, err := s.Start(pin, time.Second, false); err != nil {
		t.Fatalf("restart after panic: %v", err)
	}
	waitFor(t, "relay on again", func() bool { return drv.State(pin) })
	if !s.Stop(pin) {
		t.Error("Stop must cancel the new task")
	}
	if drv.State(pin) {
		t.Error("relay must be off when Stop returns")
	}
}

// Stop racing the scheduled start tick: whatever the interleaving, the
// relay ends OFF when Stop returns and is pulsed ON at most once.
func TestStopRacingStartTickStaysFailSafe(t *testing.T) {
	for i := 0; i < 25; i++ {
		s, drv, clk, _ := newTestScheduler(t)
		pin := gpio.PinEnlarger

		if _, err := s.Start(pin, time.Second, true); err != nil {
			t.Fatalf("Start: %v", err)
		}
		clk.BlockUntil(1)

		stopped := make(chan bool, 1)
		go func() { stopped <- s.Stop(pin) }()
		clk.Advance(150 * time.Millisecond)
		<-stopped

		if drv.State(pin) {
			t.Fatal("relay on after Stop returned")
		}
		if st := s.Status(pin); st != nil {
			t.Fatalf("status after stop: %+v", st)
		}
		hist := drv.History(pin)
		if hist[len(hist)-1] {
			t.Fatalf("history must end OFF: %v", hist)
		}
		ons := 0
		for _, on := range hist {
			if on {
				ons++
			}
		}
		if ons > 1 {
			t.Fatalf("relay pulsed ON %d times: %v", ons, hist)
		}
	}
}

func TestValidation(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)

	if _, err := s.Start(99, time.Second, false); !errors.Is(err, relay.ErrInvalidPin) {
		t.Errorf("invalid pin: got %v, want ErrInvalidPin", err)
	}
	if _, err := s.Start(gpio.PinHeating, time.Second, false); !errors.Is(err, ErrReservedPin) {
		t.Errorf("heating pin: got %v, want ErrReservedPin", err)
	}
	if _, err := s.Start(gpio.PinEnlarger, 0, false); !errors.Is(err, ErrDurationRange) {
		t.Errorf("zero duration: got %v, want ErrDurationRange", err)
	}
	if _, err := s.Start(gpio.PinEnlarger, MaxDuration+time.Second, false); !errors.Is(err, ErrDurationRange) {
		t.Errorf("over max: got %v, want ErrDurationRange", err)
	}
	if _, err := s.Start(gpio.PinEnlarger, MaxDuration, false); err != nil {
		t.Errorf("at max: got %v, want nil", err)
	}
}

// A scheduled start must stay correct when the tick counter wraps
// between the call and the start moment.
func TestScheduledStartAcrossWraparound(t *testing.T) {
	drv := gpio.NewFakeDriver()
	bank, err := relay.New(drv, relay.DefaultPins)
	if err != nil {
		t.Fatalf("relay.New: %v", err)
	}
	clk := clock.NewFake(0xFFFFFFB0) // 80ms before the wrap point
	s := New(bank, clk, nil, gpio.PinHeating)
	pin := gpio.PinEnlarger

	info, err := s.Start(pin, time.Second, true)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if info.StartAt != 70 { // 0xFFFFFFB0 + 150 wraps to 70
		t.Fatalf("StartAt: got %d, want 70", info.StartAt)
	}

	clk.BlockUntil(1)
	clk.Advance(149 * time.Millisecond)
	if drv.State(pin) {
		t.Fatal("relay on before wrapped start tick")
	}
	clk.Advance(1 * time.Millisecond)
	waitFor(t, "relay on across wrap", func() bool { return drv.State(pin) })
}

func TestAllStatuses(t *testing.T) {
	s, drv, _, _ := newTestScheduler(t)

	if _, err := s.Start(gpio.PinEnlarger, 10*time.Second, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.Start(gpio.PinSafelight, 10*time.Second, true); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "enlarger on", func() bool { return drv.State(gpio.PinEnlarger) })

	all := s.AllStatuses()
	if len(all) != 2 {
		t.Fatalf("got %d statuses, want 2", len(all))
	}
	if !all[gpio.PinEnlarger].Running {
		t.Error("enlarger: expected running")
	}
	if !all[gpio.PinSafelight].Scheduled {
		t.Error("safelight: expected scheduled")
	}

	s.StopAll()
}
