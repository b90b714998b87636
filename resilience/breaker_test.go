package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute, nil)
	fail := func() error { return errors.New("upload failed") }

	for i := 0; i < 3; i++ {
		if err := b.Execute(fail); err == nil {
			t.Fatal("expected failure")
		}
	}
	if b.State() != BreakerOpen {
		t.Errorf("state = %s, want open", b.State())
	}
	if err := b.Execute(fail); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("err = %v, want ErrBreakerOpen", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Minute, nil)
	fail := func() error { return errors.New("boom") }
	ok := func() error { return nil }

	_ = b.Execute(fail)
	_ = b.Execute(fail)
	_ = b.Execute(ok)
	_ = b.Execute(fail)
	_ = b.Execute(fail)

	if b.State() != BreakerClosed {
		t.Errorf("state = %s, want closed (non-consecutive failures)", b.State())
	}
}

func TestBreaker_HalfOpenProbeRecovers(t *testing.T) {
	var transitions []string
	b := NewBreaker(1, 10*time.Millisecond, func(from, to BreakerState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	_ = b.Execute(func() error { return errors.New("down") })
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	time.Sleep(15 * time.Millisecond)
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %s, want half-open after cooldown", b.State())
	}

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe should pass: %v", err)
	}
	if b.State() != BreakerClosed {
		t.Errorf("state = %s, want closed after successful probe", b.State())
	}
	if len(transitions) == 0 {
		t.Error("expected state change callbacks")
	}
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b := NewBreaker(1, 5*time.Millisecond, nil)
	_ = b.Execute(func() error { return errors.New("down") })

	time.Sleep(10 * time.Millisecond)
	_ = b.Execute(func() error { return errors.New("still down") })

	if b.State() != BreakerOpen {
		t.Errorf("state = %s, want open after failed probe", b.State())
	}
}

func TestRateLimiter_AllowWithinBurst(t *testing.T) {
	rl := NewRateLimiter(1000, 2)
	if !rl.Allow() || !rl.Allow() {
		t.Error("burst of 2 should allow two immediate events")
	}
	if rl.Allow() {
		t.Error("third immediate event should be limited")
	}
}

func TestRateLimiter_WaitRefills(t *testing.T) {
	rl := NewRateLimiter(100, 1)
	if !rl.Allow() {
		t.Fatal("first event should pass")
	}

	start := time.Now()
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("Wait took %v, expected ~10ms at 100/s", elapsed)
	}
}
