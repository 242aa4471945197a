// Package streamsession implements one physical stream connection to
// the server (§4.7): its lifecycle state machine, stream-sense
// fallback, and slowing detection. A server session (see
// internal/serversession) owns a sequence of these.
package streamsession

import (
	"sync"
	"time"
)

// State is the stream session's lifecycle state.
type State int

const (
	Off State = iota
	Creating
	Created
	FirstPause
	FirstBinding
	Pause
	Binding
	Receiving
	Stalling
	Stalled
	Sleep
)

func (s State) String() string {
	switch s {
	case Off:
		return "OFF"
	case Creating:
		return "CREATING"
	case Created:
		return "CREATED"
	case FirstPause:
		return "FIRST_PAUSE"
	case FirstBinding:
		return "FIRST_BINDING"
	case Pause:
		return "PAUSE"
	case Binding:
		return "BINDING"
	case Receiving:
		return "RECEIVING"
	case Stalling:
		return "STALLING"
	case Stalled:
		return "STALLED"
	case Sleep:
		return "SLEEP"
	default:
		return "UNKNOWN"
	}
}

// TransportKind distinguishes the physical channel family.
type TransportKind int

const (
	TransportWS TransportKind = iota
	TransportHTTP
)

// Continuation carries state preserved across a stream-session switch
// within the same logical session (§4.7: "takes either an existing
// session's continuation state ... or starts fresh").
type Continuation struct {
	SessionID             string
	BindCount             int
	DataNotificationCount int64
	SlowingMean           float64
}

// Owner is how a StreamSession reports lifecycle events back to the
// server session that owns it.
type Owner interface {
	// OnSessionOpened fires on first CONOK (sessionId, server instance).
	OnSessionOpened(sessionID, serverInstanceAddress string)
	// OnRebindRequested fires on LOOP; pauseMillis is the server-mandated
	// delay before the new stream session is opened.
	OnRebindRequested(pauseMillis time.Duration)
	// OnStalled fires on entry to Stalled.
	OnStalled()
	// OnSleep fires when this stream session gives up and the owner must
	// decide on recovery vs. a fresh session.
	OnSleep(reason string)
	// OnSlowingThresholdExceeded fires when slowing detection recommends
	// a transport-family switch to polling (§4.7).
	OnSlowingThresholdExceeded()
}

// Config carries the timeouts that drive state transitions (§5
// defaults; overridable via connection options).
type Config struct {
	KeepaliveInterval time.Duration
	StalledTimeout    time.Duration
	ReconnectTimeout  time.Duration
	SlowingEnabled    bool
}

// DefaultConfig matches the §5 default timeouts relevant to one stream
// session.
func DefaultConfig() Config {
	return Config{
		KeepaliveInterval: 0, // server-decided
		StalledTimeout:    2000 * time.Millisecond,
		ReconnectTimeout:  3000 * time.Millisecond,
		SlowingEnabled:    true,
	}
}

// StreamSession owns one transport channel and its lifecycle state.
type StreamSession struct {
	mu sync.Mutex

	kind   TransportKind
	cfg    Config
	owner  Owner
	cont   Continuation
	state  State
	slower *Slowing

	schedule func(fn func(), delay time.Duration) (cancel func())
	cancelStall func()
}

// New creates a StreamSession either fresh (cont zero value) or
// continuing a previous one (non-zero cont, e.g. across a stream-sense
// transport switch or recovery bind).
func New(kind TransportKind, cfg Config, owner Owner, cont Continuation, schedule func(fn func(), delay time.Duration) (cancel func())) *StreamSession {
	return &StreamSession{
		kind:     kind,
		cfg:      cfg,
		owner:    owner,
		cont:     cont,
		state:    Off,
		slower:   NewSlowing(cont.SlowingMean),
		schedule: schedule,
	}
}

func (s *StreamSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *StreamSession) transition(to State) {
	s.mu.Lock()
	s.state = to
	s.mu.Unlock()
}

// Open starts a brand-new logical session: OFF -> CREATING.
func (s *StreamSession) Open() {
	s.transition(Creating)
}

// Bind attaches to an existing logical session (recovery or ordinary
// rebind): OFF -> FIRST_BINDING (or PAUSE -> BINDING, depending on
// whether this is the session's first bind).
func (s *StreamSession) Bind(first bool) {
	if first {
		s.transition(FirstBinding)
	} else {
		s.transition(Binding)
	}
}

// OnConnectionOK handles CONOK: CREATING -> CREATED on the first bind.
func (s *StreamSession) OnConnectionOK(sessionID, serverInstanceAddress string) {
	s.mu.Lock()
	first := s.state == Creating
	s.cont.SessionID = sessionID
	if first {
		s.state = Created
	}
	s.mu.Unlock()

	if first {
		s.owner.OnSessionOpened(sessionID, serverInstanceAddress)
		s.transition(FirstPause)
	} else {
		s.transition(Receiving)
		s.armStallTimer()
	}
}

// OnLoop handles LOOP: schedules a rebind after pauseMillis and moves
// to PAUSE (or, on the very first LOOP, FIRST_PAUSE -> FIRST_BINDING
// happens via Bind once the owner re-opens).
func (s *StreamSession) OnLoop(pauseMillis time.Duration) {
	s.transition(Pause)
	s.owner.OnRebindRequested(pauseMillis)
}

// OnDataReceived refreshes the stall timer; call on every byte/line
// received while Receiving.
func (s *StreamSession) OnDataReceived() {
	s.mu.Lock()
	if s.state == Stalling || s.state == Stalled {
		s.state = Receiving
	}
	s.mu.Unlock()
	s.armStallTimer()
}

func (s *StreamSession) armStallTimer() {
	s.mu.Lock()
	if s.cancelStall != nil {
		s.cancelStall()
	}
	timeout := s.cfg.KeepaliveInterval + s.cfg.StalledTimeout
	s.cancelStall = s.schedule(s.onStallTimeout, timeout)
	s.mu.Unlock()
}

func (s *StreamSession) onStallTimeout() {
	s.mu.Lock()
	switch s.state {
	case Receiving:
		s.state = Stalling
		reconnect := s.cfg.ReconnectTimeout
		s.cancelStall = s.schedule(s.onStallTimeout, reconnect)
		s.mu.Unlock()
	case Stalling:
		s.state = Stalled
		s.mu.Unlock()
		s.owner.OnStalled()
		s.Sleep("stalled")
	default:
		s.mu.Unlock()
	}
}

// Sleep transitions to SLEEP from any state (on END/CONERR/transport
// broken) and notifies the owner.
func (s *StreamSession) Sleep(reason string) {
	s.mu.Lock()
	if s.cancelStall != nil {
		s.cancelStall()
		s.cancelStall = nil
	}
	s.state = Sleep
	s.mu.Unlock()
	s.owner.OnSleep(reason)
}

// OnSync feeds the slowing detector with a server-reported
// seconds-since-stream-start marker (§4.7).
func (s *StreamSession) OnSync(secondsSinceStart int64) {
	if s.slower.Observe(secondsSinceStart) && s.cfg.SlowingEnabled {
		s.owner.OnSlowingThresholdExceeded()
	}
}

// Continuation returns the current continuation snapshot, for handing
// off to a successor stream session.
func (s *StreamSession) Continuation() Continuation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cont
	c.SlowingMean = s.slower.Mean()
	return c
}

// SetDataNotificationCount updates the continuation's progress counter
// on PROG (§4.8 recovery gap detection).
func (s *StreamSession) SetDataNotificationCount(n int64) {
	s.mu.Lock()
	if n > s.cont.DataNotificationCount {
		s.cont.DataNotificationCount = n
	}
	s.mu.Unlock()
}

func (s *StreamSession) DataNotificationCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cont.DataNotificationCount
}
