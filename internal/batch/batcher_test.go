package batch

import (
	"testing"

	"github.com/nugget/tlcp-client/internal/protocol"
)

func TestEmptyBatcherHasNoNext(t *testing.T) {
	b := New(nil)
	if !b.Empty() {
		t.Fatal("new batcher should be empty")
	}
	if _, ok := b.Next(); ok {
		t.Fatal("Next() on empty batcher should return false")
	}
}

func TestControlRequestsMergeIntoOneBatch(t *testing.T) {
	b := New(nil)
	b.AddControl(&protocol.ControlRequest{ReqID: 1, Op: protocol.OpAdd, SubID: 1}, nil)
	b.AddControl(&protocol.ControlRequest{ReqID: 2, Op: protocol.OpAdd, SubID: 2}, nil)

	batch, ok := b.Next()
	if !ok {
		t.Fatal("expected a batch")
	}
	if batch.Lane != LaneControl {
		t.Errorf("lane = %v, want control", batch.Lane)
	}
	if len(batch.Requests) != 2 {
		t.Fatalf("expected both control requests merged, got %d", len(batch.Requests))
	}
}

func TestHeartbeatNeverMergesWithOthers(t *testing.T) {
	b := New(nil)
	b.AddHeartbeat(&protocol.HeartbeatRequest{ReqID: 1})
	b.AddHeartbeat(&protocol.HeartbeatRequest{ReqID: 2})

	batch, ok := b.Next()
	if !ok {
		t.Fatal("expected a batch")
	}
	if len(batch.Requests) != 1 {
		t.Errorf("heartbeat batch should contain exactly one request, got %d", len(batch.Requests))
	}

	batch2, ok := b.Next()
	if !ok {
		t.Fatal("expected second heartbeat batch")
	}
	if len(batch2.Requests) != 1 {
		t.Errorf("second heartbeat batch should contain exactly one request, got %d", len(batch2.Requests))
	}
}

func TestRoundRobinAcrossLanes(t *testing.T) {
	b := New(nil)
	b.AddMessage(&protocol.MessageRequest{ReqID: 1, Message: "hi"})
	b.AddControl(&protocol.ControlRequest{ReqID: 2, Op: protocol.OpAdd, SubID: 1}, nil)

	first, _ := b.Next()
	if first.Lane != LaneMessage {
		t.Errorf("first batch lane = %v, want message", first.Lane)
	}
	second, _ := b.Next()
	if second.Lane != LaneControl {
		t.Errorf("second batch lane = %v, want control", second.Lane)
	}
}

func TestReplacementAbortsSupersededRequest(t *testing.T) {
	b := New(nil)
	aborted := false
	b.AddControl(&protocol.ControlRequest{ReqID: 1, Op: protocol.OpAdd, SubID: 1}, func() { aborted = true })
	b.AddControl(&protocol.ControlRequest{ReqID: 2, Op: protocol.OpDelete, SubID: 1}, nil)

	if !aborted {
		t.Fatal("replacing a pending request for the same subId should abort the previous one")
	}

	batch, ok := b.Next()
	if !ok {
		t.Fatal("expected a batch")
	}
	if len(batch.Requests) != 1 {
		t.Fatalf("expected the replacement to collapse into one request, got %d", len(batch.Requests))
	}
	cr := batch.Requests[0].(*protocol.ControlRequest)
	if cr.Op != protocol.OpDelete {
		t.Errorf("surviving request op = %v, want delete", cr.Op)
	}
}

func TestDestroyRequestsForSameTargetCollapse(t *testing.T) {
	b := New(nil)
	aborted := false
	b.AddDestroy(&protocol.ControlRequest{ReqID: 1, Op: protocol.OpDestroy, TargetSessionID: "S1"}, func() { aborted = true })
	b.AddDestroy(&protocol.ControlRequest{ReqID: 2, Op: protocol.OpDestroy, TargetSessionID: "S1"}, nil)

	if !aborted {
		t.Fatal("second destroy for the same target should abort the first")
	}
	batch, ok := b.Next()
	if !ok {
		t.Fatal("expected a batch")
	}
	if len(batch.Requests) != 1 {
		t.Errorf("expected exactly one surviving destroy request, got %d", len(batch.Requests))
	}
}

func TestRequestLimitSplitsOversizeBatch(t *testing.T) {
	b := New(nil)
	b.RequestLimit = 40
	b.AddControl(&protocol.ControlRequest{ReqID: 1, Op: protocol.OpAdd, SubID: 1, Mode: "MERGE", Group: "item1", Schema: "a b c d e f"}, nil)
	b.AddControl(&protocol.ControlRequest{ReqID: 2, Op: protocol.OpAdd, SubID: 2, Mode: "MERGE", Group: "item2", Schema: "a b c d e f"}, nil)

	first, ok := b.Next()
	if !ok {
		t.Fatal("expected a batch")
	}
	if len(first.Requests) != 1 {
		t.Fatalf("expected the limit to keep the oversize pair split, got %d requests in first batch", len(first.Requests))
	}

	second, ok := b.Next()
	if !ok {
		t.Fatal("expected a second batch for the remaining request")
	}
	if len(second.Requests) != 1 {
		t.Errorf("expected one request in second batch, got %d", len(second.Requests))
	}
}

func TestOversizeRequestIsSentAlone(t *testing.T) {
	b := New(nil)
	b.RequestLimit = 10 // smaller than any single encoded request
	b.AddControl(&protocol.ControlRequest{ReqID: 1, Op: protocol.OpAdd, SubID: 1, Mode: "MERGE", Group: "item1", Schema: "a b"}, nil)

	batch, ok := b.Next()
	if !ok {
		t.Fatal("expected a batch even though the single request exceeds the limit")
	}
	if len(batch.Requests) != 1 {
		t.Errorf("expected the oversize request to still go out alone, got %d requests", len(batch.Requests))
	}
}
