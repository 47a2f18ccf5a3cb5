package clock_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/artpar/mergedash/adapters/clock"
)

var epoch = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func TestReal_Now(t *testing.T) {
	c := clock.Real{}

	before := time.Now()
	got := c.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", got, before, after)
	}
}

func TestReal_AfterFunc(t *testing.T) {
	c := clock.Real{}
	fired := make(chan struct{})

	c.AfterFunc(time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestReal_AfterFunc_Stop(t *testing.T) {
	c := clock.Real{}
	var fired atomic.Bool

	timer := c.AfterFunc(50*time.Millisecond, func() { fired.Store(true) })
	if !timer.Stop() {
		t.Fatal("Stop() = false for pending timer")
	}
	time.Sleep(100 * time.Millisecond)
	if fired.Load() {
		t.Error("stopped timer fired")
	}
}

func TestFake_SetAndAdvance(t *testing.T) {
	c := clock.NewFake(epoch)
	if !c.Now().Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", c.Now(), epoch)
	}

	c.Advance(time.Hour)
	if want := epoch.Add(time.Hour); !c.Now().Equal(want) {
		t.Errorf("after Advance Now() = %v, want %v", c.Now(), want)
	}

	c.Advance(-2 * time.Hour)
	if want := epoch.Add(-time.Hour); !c.Now().Equal(want) {
		t.Errorf("after negative Advance Now() = %v, want %v", c.Now(), want)
	}

	next := time.Date(2025, 12, 25, 10, 30, 0, 0, time.UTC)
	c.Set(next)
	if !c.Now().Equal(next) {
		t.Errorf("after Set Now() = %v, want %v", c.Now(), next)
	}
}

func TestFake_AfterFunc_FiresAtDeadline(t *testing.T) {
	c := clock.NewFake(epoch)
	var firedAt time.Time

	c.AfterFunc(200*time.Millisecond, func() { firedAt = c.Now() })

	c.Advance(199 * time.Millisecond)
	if !firedAt.IsZero() {
		t.Fatal("timer fired early")
	}

	c.Advance(time.Second)
	if want := epoch.Add(200 * time.Millisecond); !firedAt.Equal(want) {
		t.Errorf("fired at %v, want %v", firedAt, want)
	}
	if want := epoch.Add(1199 * time.Millisecond); !c.Now().Equal(want) {
		t.Errorf("Now() = %v, want %v", c.Now(), want)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestFake_AfterFunc_Order(t *testing.T) {
	c := clock.NewFake(epoch)
	var order []string

	c.AfterFunc(500*time.Millisecond, func() { order = append(order, "timeout") })
	c.AfterFunc(200*time.Millisecond, func() { order = append(order, "delay") })
	c.AfterFunc(200*time.Millisecond, func() { order = append(order, "delay2") })

	c.Advance(time.Second)

	want := []string{"delay", "delay2", "timeout"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestFake_AfterFunc_Stop(t *testing.T) {
	c := clock.NewFake(epoch)
	fired := false

	timer := c.AfterFunc(time.Second, func() { fired = true })
	if c.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", c.Pending())
	}
	if !timer.Stop() {
		t.Error("Stop() = false for pending timer")
	}
	if timer.Stop() {
		t.Error("second Stop() = true")
	}

	c.Advance(time.Hour)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestFake_AfterFunc_ScheduledFromCallback(t *testing.T) {
	c := clock.NewFake(epoch)
	var chained bool

	c.AfterFunc(time.Second, func() {
		c.AfterFunc(time.Second, func() { chained = true })
	})

	c.Advance(3 * time.Second)
	if !chained {
		t.Error("timer scheduled from a callback should fire within the same Advance")
	}
}

func TestFake_ConcurrentAccess(t *testing.T) {
	c := clock.NewFake(time.Now())

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				_ = c.Now()
				c.AfterFunc(time.Millisecond, func() {})
				c.Advance(time.Second)
			}
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}
