package exposure

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/atriantas/enlarger-server/internal/clock"
	"github.com/atriantas/enlarger-server/internal/relay"
)

// Scheduler owns, per relay pin, at most one outstanding exposure
// task.
//
// The slots map is written only by Start, Stop and StopAll — never by
// a task's own bookkeeping — so the cancellation handle for a task
// stays reachable for its entire lifetime. The task writes its
// progress into the slot's separate, individually locked fields.
type Scheduler struct {
	bank     *relay.Bank
	clock    clock.Clock
	sink     EventSink
	reserved map[int]bool

	mu    sync.Mutex
	slots map[int]*slot
}

// slot is the per-pin record of one exposure task.
type slot struct {
	pin        int
	durationMS uint32
	scheduled  bool
	startAt    uint32 // valid when scheduled

	cancel context.CancelFunc
	done   chan struct{} // closed after the task's OFF write

	// progress fields, written by the task body under progMu
	progMu    sync.Mutex
	state     State
	startedAt uint32 // tick the relay actually turned on
}

// New creates a Scheduler over the bank. Reserved pins belong to other
// controllers; Start rejects them.
func New(bank *relay.Bank, clk clock.Clock, sink EventSink, reserved ...int) *Scheduler {
	r := make(map[int]bool, len(reserved))
	for _, pin := range reserved {
		r[pin] = true
	}
	return &Scheduler{
		bank:     bank,
		clock:    clk,
		sink:     sink,
		reserved: r,
		slots:    make(map[int]*slot),
	}
}

// Start begins an exposure on pin. Any existing task on the pin is
// cancelled first and its relay observed OFF before the new task is
// created, so two tasks can never both own the pin. Start returns as
// soon as the task is spawned; it never waits for the exposure itself.
//
// With scheduled=true the relay turns on SyncDelay from now; otherwise
// immediately.
func (s *Scheduler) Start(pin int, duration time.Duration, scheduled bool) (ScheduleInfo, error) {
	if !s.bank.Valid(pin) {
		return ScheduleInfo{}, relay.ErrInvalidPin
	}
	if s.reserved[pin] {
		return ScheduleInfo{}, ErrReservedPin
	}
	if duration <= 0 || duration > MaxDuration {
		return ScheduleInfo{}, ErrDurationRange
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old := s.slots[pin]; old != nil {
		old.cancel()
		<-old.done // old task's OFF write has completed
		delete(s.slots, pin)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sl := &slot{
		pin:        pin,
		durationMS: uint32(duration / time.Millisecond),
		cancel:     cancel,
		done:       make(chan struct{}),
		state:      StateRunning,
	}
	info := ScheduleInfo{
		Pin:         pin,
		Duration:    duration,
		SyncDelayMS: int64(SyncDelay / time.Millisecond),
	}
	if scheduled {
		sl.scheduled = true
		sl.startAt = s.clock.Now() + uint32(SyncDelay/time.Millisecond)
		sl.state = StateScheduled
		info.Scheduled = true
		info.StartAt = sl.startAt
	}

	s.slots[pin] = sl
	go s.run(ctx, sl)

	log.Printf("exposure: start pin %d (%s) for %v scheduled=%v", pin, s.bank.Name(pin), duration, scheduled)
	return info, nil
}

// run is the task body. Its deferred cleanup forces the relay OFF on
// every exit path — completion, cancellation and panic alike — before
// signalling done.
func (s *Scheduler) run(ctx context.Context, sl *slot) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("exposure: task panic on pin %d: %v", sl.pin, r)
		}
		if err := s.bank.Set(sl.pin, false); err != nil {
			log.Printf("exposure: pin %d off write failed: %v", sl.pin, err)
		}

		final := StateCompleted
		event := EventCompleted
		if ctx.Err() != nil {
			final = StateCancelled
			event = EventCancelled
		}
		sl.progMu.Lock()
		sl.state = final
		sl.progMu.Unlock()

		log.Printf("exposure: pin %d %s", sl.pin, final)
		// A sink panic here must not skip the done signal.
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("exposure: event sink panic on pin %d: %v", sl.pin, r)
				}
			}()
			s.emit(Event{
				Pin:        sl.pin,
				Name:       s.bank.Name(sl.pin),
				Type:       event,
				At:         s.clock.Now(),
				DurationMS: sl.durationMS,
			})
		}()
		close(sl.done)
	}()

	if sl.scheduled {
		// Wrap-safe wait for the synchronized start tick.
		for {
			wait := clock.Diff(sl.startAt, s.clock.Now())
			if wait <= 0 {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-s.clock.After(time.Duration(wait) * time.Millisecond):
			}
		}
	}

	// Cancellation that already landed skips the ON pulse entirely.
	if ctx.Err() != nil {
		return
	}

	sl.progMu.Lock()
	sl.state = StateRunning
	sl.startedAt = s.clock.Now()
	sl.progMu.Unlock()

	if err := s.bank.Set(sl.pin, true); err != nil {
		// The countdown still runs so the task terminates normally and
		// releases the pin.
		log.Printf("exposure: pin %d on write failed: %v", sl.pin, err)
	}
	s.emit(Event{
		Pin:        sl.pin,
		Name:       s.bank.Name(sl.pin),
		Type:       EventStarted,
		At:         s.clock.Now(),
		DurationMS: sl.durationMS,
	})

	select {
	case <-ctx.Done():
	case <-s.clock.After(time.Duration(sl.durationMS) * time.Millisecond):
	}
}

// Stop cancels the task on pin, if any, and reports whether a live
// task was cancelled. When it returns true, the relay has already been
// observed OFF. Cancelling a terminal or absent task is a no-op.
func (s *Scheduler) Stop(pin int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(pin)
}

func (s *Scheduler) stopLocked(pin int) bool {
	sl := s.slots[pin]
	if sl == nil {
		return false
	}
	delete(s.slots, pin)

	sl.progMu.Lock()
	terminal := sl.state == StateCompleted || sl.state == StateCancelled
	sl.progMu.Unlock()

	sl.cancel()
	<-sl.done

	if terminal {
		return false
	}
	log.Printf("exposure: stopped pin %d", pin)
	return true
}

// StopAll cancels every live task. Used on shutdown and on "all
// relays off" requests.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pin := range s.slots {
		s.stopLocked(pin)
	}
}

// Status returns the state of the task on pin, or nil when the pin is
// idle (no task, or the task already reached a terminal state).
func (s *Scheduler) Status(pin int) *Status {
	s.mu.Lock()
	sl := s.slots[pin]
	s.mu.Unlock()
	if sl == nil {
		return nil
	}

	sl.progMu.Lock()
	defer sl.progMu.Unlock()

	switch sl.state {
	case StateCompleted, StateCancelled:
		return nil
	case StateRunning:
		elapsed := clock.Diff(s.clock.Now(), sl.startedAt)
		if elapsed < 0 {
			elapsed = 0
		}
		remaining := int32(sl.durationMS) - elapsed
		if remaining < 0 {
			remaining = 0
		}
		return &Status{
			Pin:         sl.pin,
			Running:     true,
			ElapsedMS:   uint32(elapsed),
			RemainingMS: uint32(remaining),
			DurationMS:  sl.durationMS,
		}
	default:
		return &Status{
			Pin:        sl.pin,
			Scheduled:  true,
			StartAt:    sl.startAt,
			DurationMS: sl.durationMS,
		}
	}
}

// AllStatuses returns the status of every non-idle pin.
func (s *Scheduler) AllStatuses() map[int]*Status {
	s.mu.Lock()
	pins := make([]int, 0, len(s.slots))
	for pin := range s.slots {
		pins = append(pins, pin)
	}
	s.mu.Unlock()

	out := make(map[int]*Status)
	for _, pin := range pins {
		if st := s.Status(pin); st != nil {
			out[pin] = st
		}
	}
	return out
}

// Active returns the number of non-terminal tasks.
func (s *Scheduler) Active() int {
	return len(s.AllStatuses())
}

func (s *Scheduler) emit(e Event) {
	if s.sink != nil {
		s.sink.ExposureEvent(e)
	}
}
