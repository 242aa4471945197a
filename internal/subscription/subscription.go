package subscription

import (
	"fmt"
	"sync"

	"github.com/nugget/tlcp-client/internal/protocol"
)

// Mode is the TLCP delivery mode.
type Mode string

const (
	ModeMerge    Mode = "MERGE"
	ModeDistinct Mode = "DISTINCT"
	ModeCommand  Mode = "COMMAND"
	ModeRaw      Mode = "RAW"
)

// State is the per-subscription lifecycle state (§4.9 diagram).
type State int

const (
	StateOff State = iota
	StateWaiting
	StatePaused
	StateSubscribing
	StatePushing
)

func (s State) String() string {
	switch s {
	case StateOff:
		return "OFF"
	case StateWaiting:
		return "WAITING"
	case StatePaused:
		return "PAUSED"
	case StateSubscribing:
		return "SUBSCRIBING"
	case StatePushing:
		return "PUSHING"
	default:
		return "UNKNOWN"
	}
}

// Listener receives per-subscription callbacks (§6.3), dispatched on
// the events thread by the owning engine.
type Listener interface {
	OnSubscription()
	OnUnsubscription()
	OnSubscriptionError(code int, message string)
	OnItemUpdate(u *ItemUpdate)
	OnEndOfSnapshot(itemName string, itemPos int)
	OnClearSnapshot(itemName string, itemPos int)
	OnItemLostUpdates(itemName string, itemPos int, lost int)
	OnRealMaxFrequency(frequency string)
	OnCommandSecondLevelSubscriptionError(code int, message string)
	OnCommandSecondLevelItemLostUpdates(key string, lost int)
	OnListenStart()
	OnListenEnd()
}

// ItemUpdate is delivered to Listener.OnItemUpdate for every U line
// applied to a PUSHING subscription.
type ItemUpdate struct {
	ItemName      string
	ItemPos       int
	Values        map[string]string // field name -> current value; only set when a list field descriptor is in use
	ValuesByPos   map[int]string    // 1-based position -> current value, always set
	ChangedFields []int             // 1-based positions changed by this update
	IsSnapshot    bool
	CommandValue  string // "ADD"/"UPDATE"/"DELETE" for COMMAND mode, else ""
	Key           string // COMMAND key for this row, else ""
}

// Subscription is a value object carrying the subscribe request shape
// plus the mutable runtime state the engine maintains for it. Its
// descriptors/adapters may only be mutated while State == StateOff
// (§3 invariant).
type Subscription struct {
	mu sync.RWMutex

	id int64 // LS_subId, assigned by the engine on add

	Mode        Mode
	Items       protocol.Descriptor
	Fields      protocol.Descriptor
	DataAdapter string
	Selector    string

	Snapshot              string // "true"/"false"/number-as-string/""
	RequestedMaxFrequency string
	RequestedBufferSize   string
	RequestedMaxBandwidth string

	// Second-level (COMMAND only).
	SecondLevelFields      protocol.Descriptor
	SecondLevelDataAdapter string

	state    State
	listener Listener

	reconfID int64 // monotonic, detects stale reconf acks (§4.9)
}

// New creates an inactive subscription in state OFF.
func New(mode Mode, items, fields protocol.Descriptor) *Subscription {
	return &Subscription{Mode: mode, Items: items, Fields: fields, state: StateOff}
}

// ID returns the assigned LS_subId, or 0 if not yet attached.
func (s *Subscription) ID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// SetID assigns the LS_subId on attachment; only callable while OFF.
func (s *Subscription) SetID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
}

// SetListener attaches the user listener. Safe at any state.
func (s *Subscription) SetListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

func (s *Subscription) Listener() Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listener
}

// State returns the current lifecycle state.
func (s *Subscription) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsActive reports whether the subscription is attached to a session
// (State != StateOff), which forbids descriptor/adapter mutation.
func (s *Subscription) IsActive() bool {
	return s.State() != StateOff
}

// Transition moves the subscription to a new state. It does not
// validate the edge against the §4.9 diagram; callers (the engine) own
// that responsibility since only they know the triggering event.
func (s *Subscription) Transition(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = to
}

// NextReconfID returns a fresh monotonically increasing reconf id used
// to detect stale acknowledgements for superseded reconf requests.
func (s *Subscription) NextReconfID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconfID++
	return s.reconfID
}

// CurrentReconfID returns the last issued reconf id.
func (s *Subscription) CurrentReconfID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reconfID
}

// ValidateMutable returns a ConfigurationError if a descriptor/adapter
// field is being mutated while the subscription is active.
func (s *Subscription) ValidateMutable() error {
	if s.IsActive() {
		return protocol.NewConfigurationError("cannot modify subscription %d while active", s.ID())
	}
	return nil
}

// SetRequestedMaxFrequency validates and applies a frequency change.
// "unfiltered" is rejected while active (§8 boundary behavior);
// setting the same value as current is a no-op that produces no wire
// request — the caller (engine) is responsible for detecting the
// no-op case before issuing a reconf.
func (s *Subscription) SetRequestedMaxFrequency(freq string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if freq == "unfiltered" && s.state != StateOff {
		return protocol.NewConfigurationError("requested max frequency 'unfiltered' is not allowed on an active subscription")
	}
	s.RequestedMaxFrequency = freq
	return nil
}

func (s *Subscription) String() string {
	return fmt.Sprintf("Subscription{id=%d mode=%s state=%s}", s.ID(), s.Mode, s.State())
}
