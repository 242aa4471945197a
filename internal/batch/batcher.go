// Package batch implements the control-request batcher (§4.4): four
// lanes (message, heartbeat, control, destroy), per-key replacement
// rules in the control lane, and round-robin dequeue with a
// size-limited body.
package batch

import (
	"log/slog"

	"github.com/nugget/tlcp-client/internal/protocol"
)

// Lane identifies one of the batcher's four queues.
type Lane int

const (
	LaneMessage Lane = iota
	LaneHeartbeat
	LaneControl
	LaneDestroy
)

func (l Lane) String() string {
	switch l {
	case LaneMessage:
		return "message"
	case LaneHeartbeat:
		return "heartbeat"
	case LaneControl:
		return "control"
	case LaneDestroy:
		return "destroy"
	default:
		return "unknown"
	}
}

// entry is one queued request plus an optional abort callback (nil
// for message and heartbeat requests).
type entry struct {
	req   protocol.Request
	abort func() // invoked if this entry is superseded in its replacement slot
}

// Batch is a group of compatible requests ready to be sent together:
// either as a single HTTP body or (one at a time) as WS frames.
type Batch struct {
	Lane     Lane
	Requests []protocol.Request
}

// Batcher sorts compatible requests into four lanes and assembles
// round-robin batches under a request-length budget.
type Batcher struct {
	logger *slog.Logger

	lanes       [4][]entry
	controlKeys map[string]int // replacement key -> index into lanes[LaneControl]
	destroyKeys map[string]int // target session id -> index into lanes[LaneDestroy]

	nextLane int // round-robin cursor across non-empty lanes

	// RequestLimit is the maximum combined body length for a batch,
	// received from the server on CONOK; 0 means unlimited (§4.4).
	RequestLimit int
}

// New creates an empty Batcher.
func New(logger *slog.Logger) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		logger:      logger,
		controlKeys: make(map[string]int),
		destroyKeys: make(map[string]int),
	}
}

// AddMessage enqueues a message request; message-lane requests are
// never replaced or merged beyond size limits, only ordered by arrival.
func (b *Batcher) AddMessage(req *protocol.MessageRequest) {
	b.lanes[LaneMessage] = append(b.lanes[LaneMessage], entry{req: req})
}

// AddHeartbeat enqueues a reverse-heartbeat request. The heartbeat lane
// is never merged with any other lane and is sent alone (§4.4).
func (b *Batcher) AddHeartbeat(req *protocol.HeartbeatRequest) {
	b.lanes[LaneHeartbeat] = append(b.lanes[LaneHeartbeat], entry{req: req})
}

// AddControl enqueues a control request, applying the §4.4 replacement
// rules. abort, if non-nil, is invoked on any previous occupant of the
// same replacement slot that gets superseded.
func (b *Batcher) AddControl(req *protocol.ControlRequest, abort func()) {
	key := req.ReplacementKey()
	if key == "" {
		b.lanes[LaneControl] = append(b.lanes[LaneControl], entry{req: req, abort: abort})
		return
	}

	if idx, ok := b.controlKeys[key]; ok {
		prev := b.lanes[LaneControl][idx]
		prevReq, _ := prev.req.(*protocol.ControlRequest)

		if prevReq != nil && prevReq.Op == protocol.OpAdd && req.Op == protocol.OpAdd {
			b.logger.Warn("batcher: repeated add for subscription replaces pending add",
				"subId", req.SubID)
		}
		if prev.abort != nil {
			prev.abort()
		}
		b.lanes[LaneControl][idx] = entry{req: req, abort: abort}
		return
	}

	b.controlKeys[key] = len(b.lanes[LaneControl])
	b.lanes[LaneControl] = append(b.lanes[LaneControl], entry{req: req, abort: abort})
}

// AddDestroy enqueues a destroy request targeted at a specific session
// id, keyed so duplicate destroys for the same target collapse (§4.4).
func (b *Batcher) AddDestroy(req *protocol.ControlRequest, abort func()) {
	key := req.TargetSessionID
	if idx, ok := b.destroyKeys[key]; ok {
		prev := b.lanes[LaneDestroy][idx]
		if prev.abort != nil {
			prev.abort()
		}
		b.lanes[LaneDestroy][idx] = entry{req: req, abort: abort}
		return
	}
	b.destroyKeys[key] = len(b.lanes[LaneDestroy])
	b.lanes[LaneDestroy] = append(b.lanes[LaneDestroy], entry{req: req, abort: abort})
}

// Empty reports whether every lane is empty.
func (b *Batcher) Empty() bool {
	for _, l := range b.lanes {
		if len(l) > 0 {
			return false
		}
	}
	return true
}

// Next assembles the next batch by round-robin across non-empty lanes
// and removes its requests from the batcher. Returns (Batch{}, false)
// if everything is empty.
//
// The first request in a lane establishes the batch; subsequent
// requests from the same lane are folded in as long as the combined
// encoded body length stays under RequestLimit (0 = unlimited). A
// single oversize request is still sent alone. The heartbeat lane never
// merges with anything, including other heartbeats beyond the first.
func (b *Batcher) Next() (Batch, bool) {
	for attempts := 0; attempts < 4; attempts++ {
		lane := Lane((b.nextLane + attempts) % 4)
		if len(b.lanes[lane]) == 0 {
			continue
		}
		b.nextLane = (int(lane) + 1) % 4
		return b.drainLane(lane), true
	}
	return Batch{}, false
}

func (b *Batcher) drainLane(lane Lane) Batch {
	entries := b.lanes[lane]

	if lane == LaneHeartbeat {
		first := entries[0]
		b.lanes[lane] = entries[1:]
		return Batch{Lane: lane, Requests: []protocol.Request{first.req}}
	}

	first := entries[0]
	taken := []protocol.Request{first.req}
	bodyLen := len(first.req.Encode())
	i := 1
	for i < len(entries) {
		candidateLen := len(entries[i].req.Encode())
		if b.RequestLimit > 0 && bodyLen+candidateLen+2 > b.RequestLimit && len(taken) > 0 {
			break
		}
		taken = append(taken, entries[i].req)
		bodyLen += candidateLen + 2
		i++
	}

	b.lanes[lane] = entries[i:]
	b.reindex(lane)
	return Batch{Lane: lane, Requests: taken}
}

// reindex rebuilds the replacement-key index for a lane after a drain,
// since indices shift.
func (b *Batcher) reindex(lane Lane) {
	switch lane {
	case LaneControl:
		clear(b.controlKeys)
		for i, e := range b.lanes[LaneControl] {
			if cr, ok := e.req.(*protocol.ControlRequest); ok {
				if key := cr.ReplacementKey(); key != "" {
					b.controlKeys[key] = i
				}
			}
		}
	case LaneDestroy:
		clear(b.destroyKeys)
		for i, e := range b.lanes[LaneDestroy] {
			if cr, ok := e.req.(*protocol.ControlRequest); ok {
				b.destroyKeys[cr.TargetSessionID] = i
			}
		}
	}
}
