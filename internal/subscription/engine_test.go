package subscription

import (
	"sync/atomic"
	"testing"

	"github.com/nugget/tlcp-client/internal/codec"
	"github.com/nugget/tlcp-client/internal/protocol"
)

type recordingSink struct {
	adds    []int64
	deletes []int64
}

func (s *recordingSink) SendAdd(sub *Subscription)    { s.adds = append(s.adds, sub.ID()) }
func (s *recordingSink) SendDelete(sub *Subscription) { s.deletes = append(s.deletes, sub.ID()) }
func (s *recordingSink) SendReconf(sub *Subscription, reconfID int64, frequency string) {}

func syncDispatch(fn func()) { fn() }

type recordingListener struct {
	subscribed   int
	unsubscribed int
	updates      []*ItemUpdate
	eos          []string
}

func (l *recordingListener) OnSubscription()               { l.subscribed++ }
func (l *recordingListener) OnUnsubscription()              { l.unsubscribed++ }
func (l *recordingListener) OnSubscriptionError(int, string) {}
func (l *recordingListener) OnItemUpdate(u *ItemUpdate)      { l.updates = append(l.updates, u) }
func (l *recordingListener) OnEndOfSnapshot(item string, pos int) {
	l.eos = append(l.eos, item)
}
func (l *recordingListener) OnClearSnapshot(string, int)                {}
func (l *recordingListener) OnItemLostUpdates(string, int, int)         {}
func (l *recordingListener) OnRealMaxFrequency(string)                  {}
func (l *recordingListener) OnCommandSecondLevelSubscriptionError(int, string) {}
func (l *recordingListener) OnCommandSecondLevelItemLostUpdates(string, int)  {}
func (l *recordingListener) OnListenStart()                             {}
func (l *recordingListener) OnListenEnd()                                {}

func newEngine() (*Engine, *recordingSink) {
	sink := &recordingSink{}
	var counter int64 = 100
	next := func() int64 { counter++; return counter }
	return NewEngine(sink, syncDispatch, next), sink
}

func TestAddTransitionsThroughSubscribingAfterSend(t *testing.T) {
	e, sink := newEngine()
	sub := newMergeSub(t)
	e.Add(sub, 1)
	if sub.State() != StateSubscribing {
		t.Errorf("state = %v, want SUBSCRIBING", sub.State())
	}
	if len(sink.adds) != 1 || sink.adds[0] != 1 {
		t.Errorf("expected one SendAdd for subId 1, got %v", sink.adds)
	}
}

func TestSubscriptionOKTransitionsToPushingAndFiresListener(t *testing.T) {
	e, _ := newEngine()
	sub := newMergeSub(t)
	l := &recordingListener{}
	sub.SetListener(l)
	e.Add(sub, 1)
	e.OnSubscriptionOK(1)

	if sub.State() != StatePushing {
		t.Errorf("state = %v, want PUSHING", sub.State())
	}
	if l.subscribed != 1 {
		t.Errorf("OnSubscription calls = %d, want 1", l.subscribed)
	}
}

func TestUpdateHappyPath(t *testing.T) {
	// §8 scenario 1
	e, _ := newEngine()
	sub := newMergeSub(t)
	l := &recordingListener{}
	sub.SetListener(l)
	e.Add(sub, 1)
	e.OnSubscriptionOK(1)

	fields, err := codec.DecodeFieldVector("x|y")
	if err != nil {
		t.Fatal(err)
	}
	e.OnUpdate(1, 1, fields)

	if len(l.updates) != 1 {
		t.Fatalf("expected one update, got %d", len(l.updates))
	}
	u := l.updates[0]
	if u.ItemName != "item1" {
		t.Errorf("itemName = %q, want item1", u.ItemName)
	}
	if u.Values["a"] != "x" || u.Values["b"] != "y" {
		t.Errorf("values = %v", u.Values)
	}
	if len(u.ChangedFields) != 2 {
		t.Errorf("changedFields = %v, want both positions changed", u.ChangedFields)
	}
	if !u.IsSnapshot {
		t.Error("update before EOS should be marked as snapshot")
	}
}

func TestUpdateWithUnchangedRun(t *testing.T) {
	// §8 scenario 2
	e, _ := newEngine()
	sub := newMergeSub(t)
	e.Add(sub, 1)
	e.OnSubscriptionOK(1)

	first, _ := codec.DecodeFieldVector("x|y")
	e.OnUpdate(1, 1, first)

	second, _ := codec.DecodeFieldVector("z|^1")
	e.OnUpdate(1, 1, second)

	l := &recordingListener{}
	sub.SetListener(l)
	third, _ := codec.DecodeFieldVector("w|^1")
	e.OnUpdate(1, 1, third)

	u := l.updates[0]
	if u.Values["a"] != "w" || u.Values["b"] != "y" {
		t.Errorf("values = %v, want a=w b=y", u.Values)
	}
	if len(u.ChangedFields) != 1 || u.ChangedFields[0] != 1 {
		t.Errorf("changedFields = %v, want [1]", u.ChangedFields)
	}
}

func TestEndOfSnapshotStopsMarkingUpdatesAsSnapshot(t *testing.T) {
	e, _ := newEngine()
	sub := newMergeSub(t)
	e.Add(sub, 1)
	e.OnSubscriptionOK(1)
	e.OnEndOfSnapshot(1, 1)

	l := &recordingListener{}
	sub.SetListener(l)
	fields, _ := codec.DecodeFieldVector("x|y")
	e.OnUpdate(1, 1, fields)

	if l.updates[0].IsSnapshot {
		t.Error("update after EOS should not be marked as snapshot")
	}
}

func TestCommandAddThenDeleteClearsKeyTable(t *testing.T) {
	// §8 scenario 3
	items, _ := protocol.NewListDescriptor([]string{"item1"}, protocol.ValidateItemName)
	fields, _ := protocol.NewListDescriptor([]string{"key", "command", "v"}, protocol.ValidateFieldName)
	sub := New(ModeCommand, items, fields)

	e, _ := newEngine()
	e.Add(sub, 2)
	e.OnSubscriptionOK(2)

	add, _ := codec.DecodeFieldVector("k1|ADD|10")
	e.OnUpdate(2, 1, add)

	row, ok := e.keys[2].Get(1, "k1")
	if !ok || row["3"] != "10" {
		t.Fatalf("expected key table row for k1, got %v ok=%v", row, ok)
	}

	del, _ := codec.DecodeFieldVector("k1|DELETE|^1")
	e.OnUpdate(2, 1, del)

	if _, ok := e.keys[2].Get(1, "k1"); ok {
		t.Error("key table row for k1 should be removed after DELETE")
	}
}

func TestSessionLossPausesPushingSubscriptions(t *testing.T) {
	e, _ := newEngine()
	sub := newMergeSub(t)
	e.Add(sub, 1)
	e.OnSubscriptionOK(1)

	e.OnSessionLoss()
	if sub.State() != StatePaused {
		t.Errorf("state = %v, want PAUSED after session loss", sub.State())
	}
}

func TestSessionStartResendsPausedSubscriptions(t *testing.T) {
	e, sink := newEngine()
	sub := newMergeSub(t)
	e.Add(sub, 1)
	e.OnSubscriptionOK(1)
	e.OnSessionLoss()

	e.OnSessionStart()
	if sub.State() != StateSubscribing {
		t.Errorf("state = %v, want SUBSCRIBING after resend", sub.State())
	}
	if len(sink.adds) != 2 {
		t.Errorf("expected a second SendAdd on resend, got %d", len(sink.adds))
	}
}

func TestUnsubscriptionWhileWaitingIsSilent(t *testing.T) {
	// Resolved Open Question: UNSUB while WAITING moves to OFF without
	// any error callback; only the ordinary OnUnsubscription fires.
	e, _ := newEngine()
	sub := newMergeSub(t)
	l := &recordingListener{}
	sub.SetListener(l)
	e.Add(sub, 1)
	// sub is now SUBSCRIBING per Add's synchronous send; force back to
	// WAITING to exercise the case directly.
	sub.Transition(StateWaiting)

	e.OnUnsubscription(1)
	if sub.State() != StateOff {
		t.Errorf("state = %v, want OFF", sub.State())
	}
	if l.unsubscribed != 1 {
		t.Errorf("expected OnUnsubscription to fire once, got %d", l.unsubscribed)
	}
}

func TestCommandCreatesAndTearsDownSecondLevelChild(t *testing.T) {
	items, _ := protocol.NewListDescriptor([]string{"item1"}, protocol.ValidateItemName)
	fields, _ := protocol.NewListDescriptor([]string{"key", "command", "v"}, protocol.ValidateFieldName)
	sub := New(ModeCommand, items, fields)
	secondLevel, _ := protocol.NewListDescriptor([]string{"detail"}, protocol.ValidateFieldName)
	sub.SecondLevelFields = secondLevel

	e, sink := newEngine()
	e.Add(sub, 5)
	e.OnSubscriptionOK(5)

	add, _ := codec.DecodeFieldVector("k1|ADD|10")
	e.OnUpdate(5, 1, add)

	if len(sink.adds) != 2 {
		t.Fatalf("expected a child SendAdd, got %d adds total", len(sink.adds))
	}

	var childCreated atomic.Bool
	for _, id := range sink.adds {
		if id != 5 {
			childCreated.Store(true)
		}
	}
	if !childCreated.Load() {
		t.Fatal("expected a distinct child subId to have been added")
	}

	del, _ := codec.DecodeFieldVector("k1|DELETE|^1")
	e.OnUpdate(5, 1, del)

	if len(sink.deletes) != 1 {
		t.Errorf("expected the child subscription to be torn down, got %d deletes", len(sink.deletes))
	}
}
