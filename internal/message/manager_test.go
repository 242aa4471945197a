package message

import (
	"testing"

	"github.com/nugget/tlcp-client/internal/protocol"
)

type fakeSink struct {
	sent []*protocol.MessageRequest
	oks  []func()
	errs []func(int, string)
}

func (f *fakeSink) SendMessage(req *protocol.MessageRequest, onOK func(), onErr func(code int, msg string)) {
	f.sent = append(f.sent, req)
	f.oks = append(f.oks, onOK)
	f.errs = append(f.errs, onErr)
}

type fakeListener struct {
	processed int
	denied    []string
	discarded int
	errored   int
	aborted   []bool
}

func (l *fakeListener) OnProcessed()                     { l.processed++ }
func (l *fakeListener) OnDeny(code int, message string)  { l.denied = append(l.denied, message) }
func (l *fakeListener) OnDiscarded()                     { l.discarded++ }
func (l *fakeListener) OnError()                         { l.errored++ }
func (l *fakeListener) OnAbort(sentOnNetwork bool)       { l.aborted = append(l.aborted, sentOnNetwork) }

func TestUnorderedMessageHasNoProg(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink, false)
	m.OnSessionOpen()
	m.Send("hello", "", -1, nil)

	if len(sink.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sink.sent))
	}
	if sink.sent[0].HasProg {
		t.Error("unordered message should not carry LS_msg_prog")
	}
	if sink.sent[0].Sequence != protocol.UnorderedSequenceName {
		t.Errorf("sequence = %q, want %q", sink.sent[0].Sequence, protocol.UnorderedSequenceName)
	}
}

func TestOrderedMessagesGetContiguousProg(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink, false)
	m.OnSessionOpen()
	m.Send("m1", "s1", -1, nil)
	m.Send("m2", "s1", -1, nil)
	m.Send("m3", "s1", -1, nil)

	if len(sink.sent) != 3 {
		t.Fatalf("sent = %d, want 3", len(sink.sent))
	}
	for i, want := range []int64{1, 2, 3} {
		if sink.sent[i].MsgProg != want {
			t.Errorf("message %d prog = %d, want %d", i, sink.sent[i].MsgProg, want)
		}
		if !sink.sent[i].HasProg {
			t.Errorf("message %d should carry LS_msg_prog", i)
		}
	}
}

func TestProcessedOutcomeFiresListener(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink, false)
	m.OnSessionOpen()
	lst := &fakeListener{}
	m.Send("hello", "s1", -1, lst)

	sink.oks[0]()
	if lst.processed != 1 {
		t.Errorf("processed = %d, want 1", lst.processed)
	}
}

func TestMessageQueuedWhileDisconnectedWhenEnabled(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink, true)
	lst := &fakeListener{}
	m.Send("hello", "s1", -1, lst)

	if len(sink.sent) != 0 {
		t.Fatalf("sent = %d, want 0 (queued while disconnected)", len(sink.sent))
	}

	m.OnSessionOpen()
	if len(sink.sent) != 1 {
		t.Fatalf("sent after session open = %d, want 1", len(sink.sent))
	}
}

func TestMessageAbortedImmediatelyWhenQueueingDisabled(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink, false)
	lst := &fakeListener{}
	m.Send("hello", "s1", -1, lst)

	if len(sink.sent) != 0 {
		t.Fatalf("sent = %d, want 0", len(sink.sent))
	}
	if len(lst.aborted) != 1 || lst.aborted[0] != false {
		t.Errorf("aborted = %v, want [false]", lst.aborted)
	}
}

// TestMessageErrorCascadeAbortsLaterMessages mirrors the §8 ordering
// scenario: sequence "s1" has m1/m2/m3 in flight; the server reports
// MSGERR for m2 (prog 2). m3, submitted after m2, must be aborted with
// sentOnNetwork=true since it was already sent; m1 is unaffected.
func TestMessageErrorCascadeAbortsLaterMessages(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink, false)
	m.OnSessionOpen()

	l1, l2, l3 := &fakeListener{}, &fakeListener{}, &fakeListener{}
	m.Send("m1", "s1", -1, l1)
	m.Send("m2", "s1", -1, l2)
	m.Send("m3", "s1", -1, l3)

	sink.oks[0]() // m1 processed normally
	if l1.processed != 1 {
		t.Fatalf("m1 processed = %d, want 1", l1.processed)
	}

	m.OnMessageOutcome("s1", 2, "MSGERR", 7, "bad")

	if l2.errored != 1 {
		t.Errorf("m2 errored = %d, want 1", l2.errored)
	}
	if len(l3.aborted) != 1 || l3.aborted[0] != true {
		t.Errorf("m3 aborted = %v, want [true]", l3.aborted)
	}
}

func TestSequenceStaysAbortedForFutureSends(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink, false)
	m.OnSessionOpen()

	l1 := &fakeListener{}
	m.Send("m1", "s1", -1, l1)
	m.OnMessageOutcome("s1", 1, "MSGERR", 7, "bad")

	l2 := &fakeListener{}
	m.Send("m2", "s1", -1, l2)
	if len(l2.aborted) != 1 {
		t.Fatalf("m2 should be aborted immediately on an already-aborted sequence")
	}
	if len(sink.sent) != 1 {
		t.Errorf("sent = %d, want 1 (m2 never reached the sink)", len(sink.sent))
	}
}

func TestDenyAndDiscardOutcomes(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink, false)
	m.OnSessionOpen()

	lDeny := &fakeListener{}
	m.Send("m1", "s1", -1, lDeny)
	m.OnMessageOutcome("s1", 1, "MSGDENY", 12, "denied reason")
	if len(lDeny.denied) != 1 || lDeny.denied[0] != "denied reason" {
		t.Errorf("denied = %v", lDeny.denied)
	}

	lDiscard := &fakeListener{}
	m.Send("m1", "s2", -1, lDiscard)
	m.OnMessageOutcome("s2", 1, "MSGDISCARD", 0, "")
	if lDiscard.discarded != 1 {
		t.Errorf("discarded = %d, want 1", lDiscard.discarded)
	}
}

func TestListenerlessMessageProducesNoCallbackButStillSends(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink, false)
	m.OnSessionOpen()
	m.Send("m1", "s1", -1, nil)

	if len(sink.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sink.sent))
	}
	if sink.sent[0].Outcome {
		t.Error("listener-less message should set LS_outcome=false")
	}
	// Should not panic when the outcome arrives with no listener attached.
	sink.oks[0]()
}
