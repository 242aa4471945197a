// Package reqmgr implements the control-request manager (§4.5): a
// transport-aware dispatcher that hands batched requests from
// internal/batch to a concrete transport realization (HTTP or WS),
// and tracks in-flight requests and their listeners by request id.
package reqmgr

import (
	"sync"

	"github.com/nugget/tlcp-client/internal/batch"
	"github.com/nugget/tlcp-client/internal/protocol"
	"github.com/nugget/tlcp-client/internal/tutor"
)

// State is the manager's lifecycle (§4.5).
type State int

const (
	StateIdle State = iota
	StateWaiting
	StateEnd
	StateEnding
)

// Listener receives the outcome of one request, correlated by request
// id (sessions requests are never tracked here — they have their own
// direct response handling in the stream session).
type Listener interface {
	OnRequestOK()
	OnRequestError(code int, message string)
}

// pending is one outstanding tracked request.
type pending struct {
	tutor    *tutor.Tutor
	listener Listener
}

// Realization is implemented by the transport-specific half (HTTP or
// WS) that actually puts bytes on the wire for a batch.
type Realization interface {
	// SendBatch transmits b and returns once the send has been
	// initiated (not necessarily acknowledged). For HTTP this posts the
	// body; for WS this sends one frame per request in the batch.
	SendBatch(b batch.Batch)
	// Close tears down the active connection. forceConnectionClose
	// asks the underlying transport to drop the connection rather than
	// let it finish.
	Close(forceConnectionClose bool)
}

// Manager is the transport-agnostic half of the control-request
// manager: batching, replacement, dispatch-on-ack bookkeeping. A
// concrete Realization (HTTP or WS) performs the actual send.
type Manager struct {
	mu    sync.Mutex
	state State

	batcher     *batch.Batcher
	realization Realization
	pendingReq  map[int64]*pending

	inFlight bool
}

// New creates an idle Manager over the given batcher and realization.
func New(batcher *batch.Batcher, realization Realization) *Manager {
	return &Manager{
		batcher:     batcher,
		realization: realization,
		pendingReq:  make(map[int64]*pending),
		state:       StateIdle,
	}
}

// AddControl enqueues a control request with its tutor/listener and, if
// idle, immediately dequeues and sends one batch synchronously.
func (m *Manager) AddControl(req *protocol.ControlRequest, tu *tutor.Tutor, l Listener) {
	m.mu.Lock()
	if req.ReqID != 0 {
		m.pendingReq[req.ReqID] = &pending{tutor: tu, listener: l}
	}
	if req.Op == protocol.OpDestroy {
		m.batcher.AddDestroy(req, func() { m.abortPending(req.ReqID) })
	} else {
		m.batcher.AddControl(req, func() { m.abortPending(req.ReqID) })
	}
	m.mu.Unlock()

	m.pumpIfIdle()
}

// AddMessage enqueues a message request.
func (m *Manager) AddMessage(req *protocol.MessageRequest, tu *tutor.Tutor, l Listener) {
	m.mu.Lock()
	if req.ReqID != 0 {
		m.pendingReq[req.ReqID] = &pending{tutor: tu, listener: l}
	}
	m.batcher.AddMessage(req)
	m.mu.Unlock()

	m.pumpIfIdle()
}

// AddHeartbeat enqueues a reverse-heartbeat request. Heartbeats carry
// no listener: their only purpose is keeping the control channel from
// going silent.
func (m *Manager) AddHeartbeat(req *protocol.HeartbeatRequest) {
	m.mu.Lock()
	m.batcher.AddHeartbeat(req)
	m.mu.Unlock()
	m.pumpIfIdle()
}

func (m *Manager) pumpIfIdle() {
	m.mu.Lock()
	if m.state != StateIdle || m.inFlight {
		m.mu.Unlock()
		return
	}
	b, ok := m.batcher.Next()
	if !ok {
		m.mu.Unlock()
		return
	}
	m.inFlight = true
	m.state = StateWaiting
	m.mu.Unlock()

	m.realization.SendBatch(b)
}

// OnBatchComplete is invoked by the realization when a batch's
// send/response cycle finishes (HTTP response received, or WS frame
// flushed), transitioning WAITING -> IDLE and triggering the next
// dequeue.
func (m *Manager) OnBatchComplete() {
	m.mu.Lock()
	m.inFlight = false
	if m.state == StateWaiting {
		m.state = StateIdle
	}
	ending := m.state == StateEnding
	m.mu.Unlock()

	if ending {
		m.finishClose()
		return
	}
	m.pumpIfIdle()
}

// OnRequestOK consumes the tutor and delivers to the listener for reqID
// (REQOK, §4.6).
func (m *Manager) OnRequestOK(reqID int64) {
	p := m.takePending(reqID)
	if p == nil {
		return
	}
	if p.tutor != nil {
		p.tutor.Abort()
	}
	if p.listener != nil {
		p.listener.OnRequestOK()
	}
}

// OnRequestError consumes the tutor and delivers to the listener for
// reqID (REQERR, §4.6).
func (m *Manager) OnRequestError(reqID int64, code int, message string) {
	p := m.takePending(reqID)
	if p == nil {
		return
	}
	if p.tutor != nil {
		p.tutor.Abort()
	}
	if p.listener != nil {
		p.listener.OnRequestError(code, message)
	}
}

func (m *Manager) takePending(reqID int64) *pending {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pendingReq[reqID]
	if !ok {
		return nil
	}
	delete(m.pendingReq, reqID)
	return p
}

func (m *Manager) abortPending(reqID int64) {
	if reqID == 0 {
		return
	}
	m.mu.Lock()
	p, ok := m.pendingReq[reqID]
	if ok {
		delete(m.pendingReq, reqID)
	}
	m.mu.Unlock()
	if ok && p.tutor != nil {
		p.tutor.Abort()
	}
}

// Close implements §4.5's close(waitPending): if waitPending is false,
// or nothing is in flight, the active connection is closed immediately
// and the manager moves to END; the connection is closed whether or not
// the in-flight batch carries a destroy request. Otherwise it marks
// ENDING and closes once the in-flight batch completes.
func (m *Manager) Close(waitPending bool) {
	m.mu.Lock()
	if !waitPending || !m.inFlight {
		m.state = StateEnd
		m.mu.Unlock()
		m.realization.Close(!waitPending)
		return
	}
	m.state = StateEnding
	m.mu.Unlock()
}

func (m *Manager) finishClose() {
	m.mu.Lock()
	m.state = StateEnd
	m.mu.Unlock()
	m.realization.Close(false)
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
