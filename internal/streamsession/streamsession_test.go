package streamsession

import (
	"sync"
	"testing"
	"time"
)

type fakeOwner struct {
	mu             sync.Mutex
	opened         []string
	rebinds        []time.Duration
	stalled        int
	slept          []string
	slowingEvents  int
}

func (o *fakeOwner) OnSessionOpened(sessionID, addr string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, sessionID)
}
func (o *fakeOwner) OnRebindRequested(pause time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rebinds = append(o.rebinds, pause)
}
func (o *fakeOwner) OnStalled() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stalled++
}
func (o *fakeOwner) OnSleep(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.slept = append(o.slept, reason)
}
func (o *fakeOwner) OnSlowingThresholdExceeded() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.slowingEvents++
}

func noopSchedule(fn func(), delay time.Duration) func() { return func() {} }

func TestOpenStartsCreating(t *testing.T) {
	owner := &fakeOwner{}
	ss := New(TransportWS, DefaultConfig(), owner, Continuation{}, noopSchedule)
	ss.Open()
	if ss.State() != Creating {
		t.Errorf("state = %v, want CREATING", ss.State())
	}
}

func TestFirstConnectionOKOpensSessionAndPauses(t *testing.T) {
	owner := &fakeOwner{}
	ss := New(TransportWS, DefaultConfig(), owner, Continuation{}, noopSchedule)
	ss.Open()
	ss.OnConnectionOK("s123", "server1")

	if ss.State() != FirstPause {
		t.Errorf("state = %v, want FIRST_PAUSE", ss.State())
	}
	if len(owner.opened) != 1 || owner.opened[0] != "s123" {
		t.Errorf("opened = %v", owner.opened)
	}
}

func TestSubsequentBindGoesToReceiving(t *testing.T) {
	owner := &fakeOwner{}
	ss := New(TransportWS, DefaultConfig(), owner, Continuation{SessionID: "s123"}, noopSchedule)
	ss.Bind(false)
	ss.OnConnectionOK("s123", "server1")

	if ss.State() != Receiving {
		t.Errorf("state = %v, want RECEIVING", ss.State())
	}
}

func TestLoopRequestsRebind(t *testing.T) {
	owner := &fakeOwner{}
	ss := New(TransportWS, DefaultConfig(), owner, Continuation{}, noopSchedule)
	ss.Open()
	ss.OnConnectionOK("s1", "addr")
	ss.OnLoop(500 * time.Millisecond)

	if ss.State() != Pause {
		t.Errorf("state = %v, want PAUSE", ss.State())
	}
	if len(owner.rebinds) != 1 || owner.rebinds[0] != 500*time.Millisecond {
		t.Errorf("rebinds = %v", owner.rebinds)
	}
}

func TestSleepNotifiesOwnerFromAnyState(t *testing.T) {
	owner := &fakeOwner{}
	ss := New(TransportWS, DefaultConfig(), owner, Continuation{}, noopSchedule)
	ss.Open()
	ss.Sleep("transport broken")

	if ss.State() != Sleep {
		t.Errorf("state = %v, want SLEEP", ss.State())
	}
	if len(owner.slept) != 1 || owner.slept[0] != "transport broken" {
		t.Errorf("slept = %v", owner.slept)
	}
}

func TestDataNotificationCountIsMonotonic(t *testing.T) {
	owner := &fakeOwner{}
	ss := New(TransportWS, DefaultConfig(), owner, Continuation{}, noopSchedule)
	ss.SetDataNotificationCount(10)
	ss.SetDataNotificationCount(5) // stale, should not regress
	if ss.DataNotificationCount() != 10 {
		t.Errorf("count = %d, want 10 (monotonic)", ss.DataNotificationCount())
	}
	ss.SetDataNotificationCount(42)
	if ss.DataNotificationCount() != 42 {
		t.Errorf("count = %d, want 42", ss.DataNotificationCount())
	}
}

func TestSlowingResetsBelowFloor(t *testing.T) {
	sl := NewSlowing(0)
	sl.now = func() time.Time { return sl.start }
	if sl.Observe(0) {
		t.Error("no delay should never exceed the switch threshold")
	}
	if sl.Mean() != 0 {
		t.Errorf("mean = %v, want 0", sl.Mean())
	}
}

func TestSlowingSignalsAboveSwitchThreshold(t *testing.T) {
	sl := NewSlowing(0)
	base := sl.start
	// Simulate large, repeated delay: wall clock far ahead of reported
	// stream seconds, driving the smoothed mean above 7000ms.
	sl.now = func() time.Time { return base.Add(15 * time.Second) }
	for i := 0; i < 10; i++ {
		sl.Observe(0)
	}
	if sl.Mean() <= switchThresholdMS {
		t.Fatalf("expected mean to exceed switch threshold, got %v", sl.Mean())
	}
}
