// Package message implements the sequenced user-message manager
// (§4.10): per-sequence contiguous numbering, outcome dispatch, and
// the sequence-abort cascade on MSGERR.
package message

import (
	"sync"

	"github.com/nugget/tlcp-client/internal/protocol"
)

// Listener receives the outcome of one submitted message (§6.3).
type Listener interface {
	OnProcessed()
	OnDeny(code int, message string)
	OnDiscarded()
	OnError()
	OnAbort(sentOnNetwork bool)
}

// RequestSink hands an encoded message request to the control-request
// manager.
type RequestSink interface {
	SendMessage(req *protocol.MessageRequest, onOK func(), onErr func(code int, msg string))
}

type outgoing struct {
	req      *protocol.MessageRequest
	listener Listener
	sent     bool
}

// sequenceState tracks the next number to assign and every pending
// message for one named sequence, in submission order.
type sequenceState struct {
	nextProg int64 // next LS_msg_prog to assign, starting at 1
	pending  []*outgoing
	aborted  bool
}

// Manager owns all outgoing messages across every sequence.
type Manager struct {
	mu       sync.Mutex
	sink     RequestSink
	seqs     map[string]*sequenceState
	sessionOpen         bool
	enqueueWhileOffline bool
}

// New creates an empty Manager. enqueueWhileOffline mirrors the
// per-client enqueueWhileDisconnected setting (§4.10).
func New(sink RequestSink, enqueueWhileOffline bool) *Manager {
	return &Manager{
		sink:                sink,
		seqs:                make(map[string]*sequenceState),
		enqueueWhileOffline: enqueueWhileOffline,
	}
}

// OnSessionOpen marks the session as available and flushes any
// messages that were queued while disconnected.
func (m *Manager) OnSessionOpen() {
	m.mu.Lock()
	m.sessionOpen = true
	var toSend []*outgoing
	for _, s := range m.seqs {
		for _, o := range s.pending {
			if !o.sent {
				toSend = append(toSend, o)
			}
		}
	}
	m.mu.Unlock()

	for _, o := range toSend {
		m.send(o)
	}
}

// OnSessionLoss marks the session as unavailable. Messages already
// handed to the sink stay pending until an outcome arrives; this
// manager does not resend them. Messages not yet sent wait for
// OnSessionOpen.
func (m *Manager) OnSessionLoss() {
	m.mu.Lock()
	m.sessionOpen = false
	m.mu.Unlock()
}

// Send submits a message on the given sequence (empty sequence means
// UNORDERED_MESSAGES, fire-and-forget unless a listener is attached).
func (m *Manager) Send(text string, sequence string, maxWait int, listener Listener) {
	ordered := sequence != "" && sequence != protocol.UnorderedSequenceName

	m.mu.Lock()
	if sequence == "" {
		sequence = protocol.UnorderedSequenceName
	}
	s, ok := m.seqs[sequence]
	if !ok {
		s = &sequenceState{nextProg: 1}
		m.seqs[sequence] = s
	}

	if s.aborted {
		m.mu.Unlock()
		if listener != nil {
			listener.OnAbort(false)
		}
		return
	}

	req := &protocol.MessageRequest{
		Message:  text,
		Sequence: sequence,
		MaxWait:  maxWait,
		Outcome:  listener != nil,
	}
	if ordered {
		req.HasProg = true
		req.MsgProg = s.nextProg
		s.nextProg++
	}

	o := &outgoing{req: req, listener: listener}
	s.pending = append(s.pending, o)

	sessionOpen := m.sessionOpen
	enqueueOffline := m.enqueueWhileOffline
	m.mu.Unlock()

	if sessionOpen {
		m.send(o)
		return
	}
	if !enqueueOffline {
		m.removeOutgoing(sequence, o)
		if listener != nil {
			listener.OnAbort(false)
		}
	}
	// else: left pending, flushed by OnSessionOpen.
}

func (m *Manager) send(o *outgoing) {
	m.mu.Lock()
	o.sent = true
	m.mu.Unlock()

	m.sink.SendMessage(o.req, func() {
		if o.listener != nil {
			o.listener.OnProcessed()
		}
		m.removeOutgoing(o.req.Sequence, o)
	}, func(code int, msg string) {
		if o.listener != nil {
			o.listener.OnError()
		}
		m.abortSequenceAfter(o.req.Sequence, o)
	})
}

func (m *Manager) removeOutgoing(sequence string, target *outgoing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.seqs[sequence]
	if !ok {
		return
	}
	s.pending = removeFrom(s.pending, target)
}

// abortSequenceAfter implements the MSGERR cascade (§4.10 scenario 4):
// the erroring message has already had OnError fired by the caller;
// every message submitted after it in the same sequence gets
// OnAbort(sentOnNetwork=true/false per whether it had already been
// sent), and the sequence is marked aborted for future submissions.
func (m *Manager) abortSequenceAfter(sequence string, failed *outgoing) {
	m.mu.Lock()
	s, ok := m.seqs[sequence]
	if !ok {
		m.mu.Unlock()
		return
	}
	s.aborted = true

	idx := -1
	for i, o := range s.pending {
		if o == failed {
			idx = i
			break
		}
	}
	var toAbort []*outgoing
	if idx >= 0 {
		toAbort = append(toAbort, s.pending[idx+1:]...)
		s.pending = s.pending[:idx]
	}
	m.mu.Unlock()

	for _, o := range toAbort {
		if o.listener != nil {
			o.listener.OnAbort(o.sent)
		}
	}
}

// OnMessageOutcome routes a decoded MSG line to the right pending
// message by sequence+number (§4.6/§4.10). The caller (the client
// facade's protocol listener) is responsible for parsing the codec.Decoder's OnMessage
// callback fields into these arguments.
func (m *Manager) OnMessageOutcome(sequence string, number int64, outcome string, code int, text string) {
	m.mu.Lock()
	s, ok := m.seqs[sequence]
	var target *outgoing
	if ok {
		for _, o := range s.pending {
			if o.req.MsgProg == number || (!o.req.HasProg && sequence == protocol.UnorderedSequenceName) {
				target = o
				break
			}
		}
	}
	m.mu.Unlock()
	if target == nil {
		return
	}

	switch outcome {
	case "MSGOK":
		if target.listener != nil {
			target.listener.OnProcessed()
		}
		m.removeOutgoing(sequence, target)
	case "MSGDENY":
		if target.listener != nil {
			target.listener.OnDeny(code, text)
		}
		m.removeOutgoing(sequence, target)
	case "MSGDISCARD":
		if target.listener != nil {
			target.listener.OnDiscarded()
		}
		m.removeOutgoing(sequence, target)
	case "MSGERR":
		if target.listener != nil {
			target.listener.OnError()
		}
		m.abortSequenceAfter(sequence, target)
	}
}

func removeFrom(list []*outgoing, target *outgoing) []*outgoing {
	out := list[:0]
	for _, o := range list {
		if o != target {
			out = append(out, o)
		}
	}
	return out
}
