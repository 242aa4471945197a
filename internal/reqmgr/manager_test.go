package reqmgr

import (
	"testing"

	"github.com/nugget/tlcp-client/internal/batch"
	"github.com/nugget/tlcp-client/internal/protocol"
)

type fakeRealization struct {
	sent   []batch.Batch
	closed bool
	forced bool
}

func (f *fakeRealization) SendBatch(b batch.Batch) { f.sent = append(f.sent, b) }
func (f *fakeRealization) Close(force bool)         { f.closed = true; f.forced = force }

type fakeListener struct {
	ok     int
	errs   []string
}

func (l *fakeListener) OnRequestOK()                       { l.ok++ }
func (l *fakeListener) OnRequestError(code int, msg string) { l.errs = append(l.errs, msg) }

func TestAddControlSendsImmediatelyWhenIdle(t *testing.T) {
	real := &fakeRealization{}
	m := New(batch.New(nil), real)

	m.AddControl(&protocol.ControlRequest{ReqID: 1, Op: protocol.OpAdd, SubID: 1}, nil, nil)

	if len(real.sent) != 1 {
		t.Fatalf("expected immediate send while idle, got %d sends", len(real.sent))
	}
	if m.State() != StateWaiting {
		t.Errorf("state = %v, want WAITING", m.State())
	}
}

func TestSecondRequestQueuesUntilBatchCompletes(t *testing.T) {
	real := &fakeRealization{}
	m := New(batch.New(nil), real)

	m.AddControl(&protocol.ControlRequest{ReqID: 1, Op: protocol.OpAdd, SubID: 1}, nil, nil)
	m.AddControl(&protocol.ControlRequest{ReqID: 2, Op: protocol.OpAdd, SubID: 2}, nil, nil)

	if len(real.sent) != 1 {
		t.Fatalf("expected only one send while a batch is in flight, got %d", len(real.sent))
	}

	m.OnBatchComplete()
	if len(real.sent) != 2 {
		t.Fatalf("expected the queued request to dequeue after completion, got %d sends", len(real.sent))
	}
}

func TestRequestOKDeliversToListenerAndClearsPending(t *testing.T) {
	real := &fakeRealization{}
	m := New(batch.New(nil), real)
	l := &fakeListener{}

	m.AddControl(&protocol.ControlRequest{ReqID: 1, Op: protocol.OpAdd, SubID: 1}, nil, l)
	m.OnRequestOK(1)

	if l.ok != 1 {
		t.Errorf("OnRequestOK calls = %d, want 1", l.ok)
	}
	// A second ack for the same id should be a no-op (already consumed).
	m.OnRequestOK(1)
	if l.ok != 1 {
		t.Errorf("duplicate ack should not redeliver, got %d calls", l.ok)
	}
}

func TestRequestErrorDeliversToListener(t *testing.T) {
	real := &fakeRealization{}
	m := New(batch.New(nil), real)
	l := &fakeListener{}

	m.AddControl(&protocol.ControlRequest{ReqID: 1, Op: protocol.OpAdd, SubID: 1}, nil, l)
	m.OnRequestError(1, 20, "bad request")

	if len(l.errs) != 1 || l.errs[0] != "bad request" {
		t.Errorf("errs = %v", l.errs)
	}
}

func TestCloseWithoutWaitClosesImmediately(t *testing.T) {
	real := &fakeRealization{}
	m := New(batch.New(nil), real)
	m.Close(false)

	if !real.closed || !real.forced {
		t.Errorf("expected an immediate forced close, got closed=%v forced=%v", real.closed, real.forced)
	}
	if m.State() != StateEnd {
		t.Errorf("state = %v, want END", m.State())
	}
}

func TestCloseWaitPendingDefersUntilBatchCompletes(t *testing.T) {
	real := &fakeRealization{}
	m := New(batch.New(nil), real)
	m.AddControl(&protocol.ControlRequest{ReqID: 1, Op: protocol.OpAdd, SubID: 1}, nil, nil)

	m.Close(true)
	if real.closed {
		t.Fatal("close(true) should not close while a batch is in flight")
	}
	if m.State() != StateEnding {
		t.Errorf("state = %v, want ENDING", m.State())
	}

	m.OnBatchComplete()
	if !real.closed {
		t.Error("expected close to finish once the in-flight batch completed")
	}
	if m.State() != StateEnd {
		t.Errorf("state = %v, want END", m.State())
	}
}
