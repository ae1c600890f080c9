package stream

import (
	"errors"
	"testing"
	"time"
)

var errPublish = errors.New("publish failed")

func failN(n int) func() error {
	return func() error {
		if n > 0 {
			n--
			return errPublish
		}
		return nil
	}
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	fail := func() error { return errPublish }

	for i := 0; i < 2; i++ {
		if err := b.Do(fail); !errors.Is(err, errPublish) {
			t.Fatalf("attempt %d: err = %v, want publish error", i, err)
		}
		if b.State() != BreakerClosed {
			t.Fatalf("attempt %d: state = %s, want closed", i, b.State())
		}
	}

	if err := b.Do(fail); !errors.Is(err, errPublish) {
		t.Fatalf("tripping attempt: err = %v", err)
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want open after 3 failures", b.State())
	}

	// While open, calls are rejected without running fn.
	ran := false
	err := b.Do(func() error { ran = true; return nil })
	if !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("err = %v, want ErrBreakerOpen", err)
	}
	if ran {
		t.Error("fn must not run while the breaker is open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	b.Do(func() error { return errPublish })
	b.Do(func() error { return errPublish })
	b.Do(func() error { return nil })

	// Two more failures stay under the threshold again.
	b.Do(func() error { return errPublish })
	b.Do(func() error { return errPublish })
	if b.State() != BreakerClosed {
		t.Errorf("state = %s, want closed after the reset", b.State())
	}
}

func TestBreaker_ProbeClosesOnSuccess(t *testing.T) {
	b := NewBreaker(1, time.Millisecond)
	b.Do(func() error { return errPublish })
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	time.Sleep(5 * time.Millisecond)
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe err = %v", err)
	}
	if b.State() != BreakerClosed {
		t.Errorf("state = %s, want closed after successful probe", b.State())
	}
}

func TestBreaker_ProbeReopensOnFailure(t *testing.T) {
	b := NewBreaker(2, time.Millisecond)
	b.Do(func() error { return errPublish })
	b.Do(func() error { return errPublish })

	time.Sleep(5 * time.Millisecond)
	// The half-open probe fails: straight back to open, no threshold.
	if err := b.Do(func() error { return errPublish }); !errors.Is(err, errPublish) {
		t.Fatalf("probe err = %v", err)
	}
	if b.State() != BreakerOpen {
		t.Errorf("state = %s, want open after failed probe", b.State())
	}
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	b := NewBreaker(1, time.Millisecond)
	var transitions []string
	b.OnStateChange = func(from, to BreakerState) {
		transitions = append(transitions, from.String()+">"+to.String())
	}

	b.Do(func() error { return errPublish })
	time.Sleep(5 * time.Millisecond)
	b.Do(failN(0))

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %s, want %s", i, transitions[i], want[i])
		}
	}
}
