package timectrl

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestManualClockSetTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 7, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)

	newNow := start.Add(42 * time.Second)
	clock.SetTime(newNow)

	if got := clock.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
}

func TestManualClockAfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2025, time.January, 1, 7, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)

	ch := clock.After(15 * time.Minute)
	clock.Advance(10 * time.Minute)
	select {
	case <-ch:
		t.Fatalf("After fired before its deadline")
	default:
	}

	clock.Advance(5 * time.Minute)
	select {
	case got := <-ch:
		if want := start.Add(15 * time.Minute); !got.Equal(want) {
			t.Fatalf("After delivered %v, want %v", got, want)
		}
	default:
		t.Fatalf("After did not fire at its deadline")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestTimeControllerRunsImmediatelyAndOnTrigger(t *testing.T) {
	start := time.Date(2025, time.January, 1, 7, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)
	tc := NewTimeController(clock, 15*time.Minute)

	var runs atomic.Int32
	tc.AddListener(func(context.Context, time.Time) { runs.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tc.Run(ctx) }()

	waitFor(t, func() bool { return runs.Load() == 1 })

	tc.Trigger()
	waitFor(t, func() bool { return runs.Load() == 2 })

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}

func TestTimeControllerTicksOnInterval(t *testing.T) {
	tc := NewTimeController(SystemClock{}, 5*time.Millisecond)

	var runs atomic.Int32
	tc.AddListener(func(context.Context, time.Time) { runs.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tc.Run(ctx) }()

	waitFor(t, func() bool { return runs.Load() >= 3 })
}
