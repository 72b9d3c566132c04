package lifecycle

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestState_ShuttingDown(t *testing.T) {
	s := New(clockwork.NewFakeClock(), 0, 0)
	if s.ShuttingDown() {
		t.Error("ShuttingDown() = true, want false by default")
	}
	s.SetShuttingDown(true)
	if !s.ShuttingDown() {
		t.Error("ShuttingDown() = false after SetShuttingDown(true)")
	}
	s.SetShuttingDown(false)
	if s.ShuttingDown() {
		t.Error("ShuttingDown() = true after SetShuttingDown(false)")
	}
}

func TestState_ReadyAfterDelay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock, 3*time.Second, time.Minute)

	if s.Ready() {
		t.Error("Ready() = true before delay elapsed")
	}
	clock.Advance(3 * time.Second)
	if !s.Ready() {
		t.Error("Ready() = false after delay elapsed")
	}
	if s.PastMinimumLifespan() {
		t.Error("PastMinimumLifespan() = true after 3s, want false")
	}
	clock.Advance(time.Minute)
	if !s.PastMinimumLifespan() {
		t.Error("PastMinimumLifespan() = false after 63s")
	}
	if got := s.Uptime(); got != 63*time.Second {
		t.Errorf("Uptime() = %v, want 63s", got)
	}
}

func TestState_ZeroDelayReadyImmediately(t *testing.T) {
	if !New(nil, 0, 0).Ready() {
		t.Error("Ready() = false with zero delay")
	}
}
