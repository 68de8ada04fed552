// Package reflection implements the Reflection Trigger: a single-threaded
// idle timer that, after a quiet period with enough new messages, fires a
// synthetic system-prompted turn to summarize the conversation so far.
package reflection

import (
	"context"
	"sync"
	"time"

	"lucid/internal/config"
	"lucid/internal/logging"
)

// State is one of the trigger's three states.
type State string

const (
	StateIdle   State = "idle"
	StateArmed  State = "armed"
	StateFiring State = "firing"
)

// FireFunc runs one reflection turn: reserving ids, injecting the synthetic
// system-role prompt chunk, generating, and persisting both chunks through
// the usual pipeline. Supplied by the Session Controller, which is the only
// component with access to the generator and Working Set.
type FireFunc func(ctx context.Context, prompt string) error

// Trigger runs the idle -> armed -> firing -> idle state machine described
// in spec.md §4.7. Grounded on the teacher's
// store.LocalStore.runReflectionWorker: a mutex-guarded start/stop pair
// around a single background goroutine, torn down via a closed stop
// channel and awaited via a done channel.
type Trigger struct {
	cfg  config.ReflectionConfig
	fire FireFunc

	mu         sync.Mutex
	state      State
	lastUserTS time.Time
	messages   int

	resetCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New constructs a Trigger. Call Start to begin the background timer.
func New(cfg config.ReflectionConfig, fire FireFunc) *Trigger {
	return &Trigger{
		cfg:   cfg,
		fire:  fire,
		state: StateIdle,
	}
}

// Start launches the background goroutine. No-op if already running or if
// reflection is disabled in config.
func (t *Trigger) Start() {
	if !t.cfg.Enabled {
		return
	}
	t.mu.Lock()
	if t.stopCh != nil {
		t.mu.Unlock()
		return
	}
	t.resetCh = make(chan struct{}, 1)
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})
	stop, done, reset := t.stopCh, t.doneCh, t.resetCh
	t.mu.Unlock()

	go t.run(stop, done, reset)
}

// Stop halts the background goroutine and waits briefly for it to exit.
func (t *Trigger) Stop() {
	t.mu.Lock()
	stop := t.stopCh
	done := t.doneCh
	t.stopCh = nil
	t.doneCh = nil
	t.resetCh = nil
	t.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		logging.ReflectionWarn("timed out waiting for reflection worker to stop")
	}
}

// State returns the trigger's current state.
func (t *Trigger) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// RecordUserMessage records a new user message: resets the inactivity
// clock, increments the since-last-reflection counter, and (re)arms the
// timer. The clock, counter and armed state always update; only the timer
// re-arm is skipped if the trigger has not been started (or reflection is
// disabled).
func (t *Trigger) RecordUserMessage() {
	t.mu.Lock()
	t.lastUserTS = time.Now()
	t.messages++
	t.state = StateArmed
	reset := t.resetCh
	t.mu.Unlock()

	if reset == nil {
		return
	}
	select {
	case reset <- struct{}{}:
	default:
	}
}

func (t *Trigger) interval() time.Duration {
	return time.Duration(t.cfg.MinInactivityMS) * time.Millisecond
}

func (t *Trigger) run(stop <-chan struct{}, done chan<- struct{}, reset <-chan struct{}) {
	defer close(done)

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-stop:
			stopAndDrain(timer)
			return
		case <-reset:
			stopAndDrain(timer)
			timer.Reset(t.interval())
		case <-timer.C:
			t.handleExpiry()
		}
	}
}

func stopAndDrain(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

func (t *Trigger) handleExpiry() {
	t.mu.Lock()
	idle := time.Since(t.lastUserTS) >= t.interval()
	enoughMessages := t.messages >= t.cfg.MinMessages
	t.mu.Unlock()

	if !idle || !enoughMessages {
		t.mu.Lock()
		t.state = StateIdle
		t.mu.Unlock()
		return
	}

	t.mu.Lock()
	t.state = StateFiring
	t.mu.Unlock()
	logging.Reflection("firing reflection (messages since last=%d)", t.messages)

	prompt := t.cfg.Prompt
	if prompt == "" {
		prompt = config.DefaultReflectionConfig().Prompt
	}
	err := t.fire(context.Background(), prompt)

	t.mu.Lock()
	if err != nil {
		logging.ReflectionWarn("reflection turn failed: %v", err)
	} else {
		t.messages = 0
	}
	t.state = StateIdle
	t.mu.Unlock()
}
