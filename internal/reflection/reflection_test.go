package reflection

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"lucid/internal/config"
)

func testConfig(minInactivityMS, minMessages int) config.ReflectionConfig {
	cfg := config.DefaultReflectionConfig()
	cfg.Enabled = true
	cfg.MinInactivityMS = minInactivityMS
	cfg.MinMessages = minMessages
	return cfg
}

func TestRecordUserMessageArmsState(t *testing.T) {
	defer goleak.VerifyNone(t)
	trig := New(testConfig(50*1000, 100), func(ctx context.Context, prompt string) error { return nil })
	trig.Start()
	defer trig.Stop()

	trig.RecordUserMessage()
	if got := trig.State(); got != StateArmed {
		t.Errorf("expected state armed after first message, got %s", got)
	}
}

func TestFiresAfterInactivityWithEnoughMessages(t *testing.T) {
	defer goleak.VerifyNone(t)
	fired := make(chan string, 1)
	trig := New(testConfig(20, 2), func(ctx context.Context, prompt string) error {
		fired <- prompt
		return nil
	})
	trig.Start()
	defer trig.Stop()

	trig.RecordUserMessage()
	trig.RecordUserMessage()

	select {
	case prompt := <-fired:
		if prompt != trig.cfg.Prompt {
			t.Errorf("expected configured prompt, got %q", prompt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected reflection to fire after inactivity")
	}

	deadline := time.Now().Add(time.Second)
	for trig.State() != StateIdle && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := trig.State(); got != StateIdle {
		t.Errorf("expected state idle after firing, got %s", got)
	}
}

func TestDoesNotFireWithTooFewMessages(t *testing.T) {
	defer goleak.VerifyNone(t)
	var fireCount int32
	trig := New(testConfig(20, 5), func(ctx context.Context, prompt string) error {
		atomic.AddInt32(&fireCount, 1)
		return nil
	})
	trig.Start()
	defer trig.Stop()

	trig.RecordUserMessage()
	trig.RecordUserMessage()

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&fireCount) != 0 {
		t.Errorf("expected no firing with only 2 of 5 required messages, fired %d times", fireCount)
	}
}

func TestResetPostponesFiring(t *testing.T) {
	defer goleak.VerifyNone(t)
	fired := make(chan struct{}, 1)
	trig := New(testConfig(60, 1), func(ctx context.Context, prompt string) error {
		fired <- struct{}{}
		return nil
	})
	trig.Start()
	defer trig.Stop()

	trig.RecordUserMessage()
	time.Sleep(30 * time.Millisecond)
	trig.RecordUserMessage() // resets the 60ms window before it would have expired

	select {
	case <-fired:
		t.Fatal("did not expect firing before the reset window elapsed")
	case <-time.After(40 * time.Millisecond):
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expected reflection to eventually fire after the reset window elapsed")
	}
}

func TestStopHaltsWorkerCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)
	trig := New(testConfig(1000, 1), func(ctx context.Context, prompt string) error { return nil })
	trig.Start()
	trig.RecordUserMessage()
	trig.Stop()
}

func TestDisabledTriggerStartIsNoOp(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := testConfig(1000, 1)
	cfg.Enabled = false
	var fired int32
	trig := New(cfg, func(ctx context.Context, prompt string) error {
		atomic.AddInt32(&fired, 1)
		return nil
	})
	trig.Start()
	trig.RecordUserMessage()
	trig.Stop()
	if atomic.LoadInt32(&fired) != 0 {
		t.Error("expected disabled trigger to never fire")
	}
}
