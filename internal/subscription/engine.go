package subscription

import (
	"strconv"
	"sync"

	"github.com/nugget/tlcp-client/internal/codec"
	"github.com/nugget/tlcp-client/internal/protocol"
)

// RequestSink is how the engine hands outgoing control requests to the
// control-request manager; it is a narrow capability so the engine
// never imports internal/reqmgr directly.
type RequestSink interface {
	SendAdd(sub *Subscription)
	SendDelete(sub *Subscription)
	SendReconf(sub *Subscription, reconfID int64, frequency string)
}

// Dispatch is how the engine hands a listener callback to the events
// thread.
type Dispatch func(fn func())

// itemState tracks per-item snapshot/command bookkeeping independent
// of the full key table, which lives in keys below.
type itemState struct {
	sawEOS bool
	vector []string // last full merged field vector (non-COMMAND modes)
}

// Engine owns every subscription attached to one logical session and
// applies incoming protocol events to them.
type Engine struct {
	mu   sync.Mutex
	subs map[int64]*Subscription

	// keys is the COMMAND key table: subId -> itemIndex -> keyValue -> row.
	keys map[int64]*Matrix[int, string, map[string]string]
	// children maps a COMMAND subId to key -> second-level child
	// reference, when two-level behavior is active for that
	// subscription.
	children map[int64]map[string]childRef
	// cmdPositions holds the server-declared 1-based key/command field
	// positions for each COMMAND subId, reported on SUBCMD (§4.6).
	cmdPositions map[int64][2]int
	// childParent reverse-maps a second-level child subId to its parent,
	// for routing CONS/frequency reports.
	childParent map[int64]int64
	// frequencies holds the last CONS-reported real max frequency for
	// every subId (parent or child), used to compute the combined
	// maximum a COMMAND parent reports to its listener.
	frequencies map[int64]string

	items map[int64]map[int]*itemState

	sink     RequestSink
	dispatch Dispatch

	// NextSubID allocates ids for second-level child subscriptions
	// created internally by the engine (see internal/idgen).
	NextSubID func() int64
}

// childRef identifies a second-level child subscription created for one
// COMMAND key, and the first-level item position it was created under.
type childRef struct {
	subID int64
	item  int
}

// NewEngine builds an empty subscription engine.
func NewEngine(sink RequestSink, dispatch Dispatch, nextSubID func() int64) *Engine {
	return &Engine{
		subs:         make(map[int64]*Subscription),
		keys:         make(map[int64]*Matrix[int, string, map[string]string]),
		children:     make(map[int64]map[string]childRef),
		cmdPositions: make(map[int64][2]int),
		childParent:  make(map[int64]int64),
		frequencies:  make(map[int64]string),
		items:        make(map[int64]map[int]*itemState),
		sink:         sink,
		dispatch:     dispatch,
		NextSubID:    nextSubID,
	}
}

// Add attaches a subscription, assigning it subId and transitioning it
// OFF -> WAITING, then sending the add request.
func (e *Engine) Add(sub *Subscription, subID int64) {
	e.mu.Lock()
	sub.SetID(subID)
	sub.Transition(StateWaiting)
	e.subs[subID] = sub
	if sub.Mode == ModeCommand {
		e.keys[subID] = NewMatrix[int, string, map[string]string]()
	}
	e.mu.Unlock()

	e.sink.SendAdd(sub)
	sub.Transition(StateSubscribing)
}

// Remove detaches a subscription: sends delete (if attached) and
// transitions to OFF, tearing down any COMMAND children.
func (e *Engine) Remove(subID int64) {
	e.mu.Lock()
	sub, ok := e.subs[subID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.subs, subID)
	delete(e.keys, subID)
	delete(e.cmdPositions, subID)
	delete(e.frequencies, subID)
	delete(e.childParent, subID)
	children := e.children[subID]
	delete(e.children, subID)
	delete(e.items, subID)
	e.mu.Unlock()

	for _, child := range children {
		e.Remove(child.subID)
	}

	if sub.State() != StateOff {
		e.sink.SendDelete(sub)
	}
	sub.Transition(StateOff)
}

// OnSessionLoss transitions every PUSHING/SUBSCRIBING subscription to
// PAUSED (§4.9).
func (e *Engine) OnSessionLoss() {
	e.mu.Lock()
	subs := make([]*Subscription, 0, len(e.subs))
	for _, s := range e.subs {
		subs = append(subs, s)
	}
	e.mu.Unlock()

	for _, s := range subs {
		if st := s.State(); st == StatePushing || st == StateSubscribing {
			s.Transition(StatePaused)
		}
	}
}

// OnSessionStart resends pending add requests for every PAUSED
// subscription (§4.9 "on session start the engine sends pending add
// requests").
func (e *Engine) OnSessionStart() {
	e.mu.Lock()
	subs := make([]*Subscription, 0, len(e.subs))
	for _, s := range e.subs {
		subs = append(subs, s)
	}
	e.mu.Unlock()

	for _, s := range subs {
		if s.State() == StatePaused {
			s.Transition(StateWaiting)
			e.sink.SendAdd(s)
			s.Transition(StateSubscribing)
		}
	}
}

func (e *Engine) lookup(subID int64) (*Subscription, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.subs[subID]
	return s, ok
}

// OnSubscriptionOK handles SUBOK.
func (e *Engine) OnSubscriptionOK(subID int64) {
	sub, ok := e.lookup(subID)
	if !ok {
		return
	}
	sub.Transition(StatePushing)
	if l := sub.Listener(); l != nil {
		e.dispatch(l.OnSubscription)
	}
}

// OnSubscriptionCommandOK handles SUBCMD, which additionally declares
// the server-chosen 1-based key and command field positions (§4.6) used
// by applyCommand for every subsequent U line on this subscription.
func (e *Engine) OnSubscriptionCommandOK(subID int64, keyPos, cmdPos int) {
	e.mu.Lock()
	e.cmdPositions[subID] = [2]int{keyPos, cmdPos}
	e.mu.Unlock()
	e.OnSubscriptionOK(subID)
}

// OnUnsubscription handles UNSUB: transition to OFF and tear down any
// COMMAND children. Per the resolved Open Question, if the
// subscription was already locally removed (dequeued by a prior
// Remove) this is a silent no-op: there is nothing left to transition.
func (e *Engine) OnUnsubscription(subID int64) {
	sub, ok := e.lookup(subID)
	if !ok {
		return
	}
	e.mu.Lock()
	children := e.children[subID]
	delete(e.children, subID)
	delete(e.keys, subID)
	delete(e.cmdPositions, subID)
	delete(e.frequencies, subID)
	delete(e.childParent, subID)
	e.mu.Unlock()

	for _, child := range children {
		e.Remove(child.subID)
	}

	sub.Transition(StateOff)
	if l := sub.Listener(); l != nil {
		e.dispatch(l.OnUnsubscription)
	}
}

// OnRequestError handles a REQERR correlated (by the caller) to a
// pending add/reconf for this subscription.
func (e *Engine) OnRequestError(subID int64, code int, message string) {
	sub, ok := e.lookup(subID)
	if !ok {
		return
	}
	sub.Transition(StatePaused)
	if l := sub.Listener(); l != nil {
		e.dispatch(func() { l.OnSubscriptionError(code, message) })
	}
}

// OnConfiguration handles CONS (real max frequency change). For a
// COMMAND parent with active second-level children, the reported value
// is the maximum of the parent's own frequency and every child's
// (§4.9): a child's CONS is folded in rather than surfaced on its own,
// since children are an engine-internal implementation detail.
func (e *Engine) OnConfiguration(subID int64, value string) {
	e.mu.Lock()
	e.frequencies[subID] = value
	targetID, isChild := e.childParent[subID]
	if !isChild {
		targetID = subID
	}
	e.mu.Unlock()

	sub, ok := e.lookup(targetID)
	if !ok {
		return
	}
	combined := e.combinedFrequency(targetID)
	if l := sub.Listener(); l != nil {
		e.dispatch(func() { l.OnRealMaxFrequency(combined) })
	}
}

// combinedFrequency returns the maximum of parentID's own last-reported
// real max frequency and all of its second-level children's, preferring
// "unlimited" over any numeric value.
func (e *Engine) combinedFrequency(parentID int64) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	best := e.frequencies[parentID]
	bestVal, bestUnlimited := parseFrequency(best)
	if bestUnlimited {
		return best
	}
	if best == "" {
		bestVal = -1
	}

	for _, child := range e.children[parentID] {
		v, ok := e.frequencies[child.subID]
		if !ok || v == "" {
			continue
		}
		val, unlimited := parseFrequency(v)
		if unlimited {
			return v
		}
		if val > bestVal {
			bestVal = val
			best = v
		}
	}
	return best
}

// parseFrequency interprets a CONS frequency value: "unlimited" sorts
// above any numeric rate, anything else unparseable is ignored.
func parseFrequency(s string) (value float64, unlimited bool) {
	if s == "unlimited" {
		return 0, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, false
}

// OnOverflow handles OV (lost updates notification).
func (e *Engine) OnOverflow(subID int64, item int, lost int64) {
	sub, ok := e.lookup(subID)
	if !ok {
		return
	}
	name, _ := sub.Items.NameOf(item)
	if l := sub.Listener(); l != nil {
		e.dispatch(func() { l.OnItemLostUpdates(name, item, int(lost)) })
	}
}

// OnEndOfSnapshot handles EOS.
func (e *Engine) OnEndOfSnapshot(subID int64, item int) {
	sub, ok := e.lookup(subID)
	if !ok {
		return
	}
	e.itemState(subID, item).sawEOS = true
	name, _ := sub.Items.NameOf(item)
	if l := sub.Listener(); l != nil {
		e.dispatch(func() { l.OnEndOfSnapshot(name, item) })
	}
}

// OnClearSnapshot handles CS: resets per-item snapshot state and, for
// COMMAND subscriptions, the key table scoped to that item.
func (e *Engine) OnClearSnapshot(subID int64, item int) {
	sub, ok := e.lookup(subID)
	if !ok {
		return
	}
	e.mu.Lock()
	if m, ok := e.keys[subID]; ok {
		m.ClearRow(item)
	}
	delete(e.items[subID], item)
	e.mu.Unlock()

	name, _ := sub.Items.NameOf(item)
	if l := sub.Listener(); l != nil {
		e.dispatch(func() { l.OnClearSnapshot(name, item) })
	}
}

func (e *Engine) itemState(subID int64, item int) *itemState {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.items[subID]
	if !ok {
		m = make(map[int]*itemState)
		e.items[subID] = m
	}
	st, ok := m[item]
	if !ok {
		st = &itemState{}
		m[item] = st
	}
	return st
}

// OnUpdate handles a U line: decodes the field vector, applies it per
// the subscription's mode, and dispatches OnItemUpdate.
func (e *Engine) OnUpdate(subID int64, item int, fields []codec.Field) {
	sub, ok := e.lookup(subID)
	if !ok {
		return
	}

	st := e.itemState(subID, item)
	merged, changed := codec.MergeFieldVector(st.vector, fields)
	st.vector = merged

	update := &ItemUpdate{ItemPos: item, ChangedFields: changed, IsSnapshot: !st.sawEOS}
	if name, ok := sub.Items.NameOf(item); ok {
		update.ItemName = name
	}
	update.ValuesByPos = make(map[int]string, len(merged))
	for i, v := range merged {
		update.ValuesByPos[i+1] = v
	}
	if sub.Fields.IsList() {
		update.Values = make(map[string]string, len(merged))
		for i, v := range merged {
			if name, ok := sub.Fields.NameOf(i + 1); ok {
				update.Values[name] = v
			}
		}
	}

	if sub.Mode == ModeCommand {
		e.applyCommand(sub, item, update, merged)
	}

	if l := sub.Listener(); l != nil {
		e.dispatch(func() { l.OnItemUpdate(update) })
	}
}

// commandPositions returns the 0-based key/command indices into a
// merged field vector for subID, defaulting to the standard
// key-first/command-second layout if SUBCMD has not yet reported
// server-declared positions (e.g. a test driving applyCommand directly).
func (e *Engine) commandPositions(subID int64) (keyIdx, cmdIdx int) {
	e.mu.Lock()
	pos, ok := e.cmdPositions[subID]
	e.mu.Unlock()
	if !ok {
		return 0, 1
	}
	return pos[0] - 1, pos[1] - 1
}

// applyCommand implements the COMMAND ADD/UPDATE/DELETE key-table rules
// and two-level child-subscription lifecycle (§4.9). The key and
// command field positions are server-declared on SUBCMD (§4.6), not
// assumed.
func (e *Engine) applyCommand(sub *Subscription, item int, update *ItemUpdate, merged []string) {
	subID := sub.ID()
	keyIdx, cmdIdx := e.commandPositions(subID)
	if keyIdx < 0 || cmdIdx < 0 || len(merged) <= keyIdx || len(merged) <= cmdIdx {
		return
	}
	key := merged[keyIdx]
	command := merged[cmdIdx]
	update.Key = key
	update.CommandValue = command

	e.mu.Lock()
	m := e.keys[subID]
	e.mu.Unlock()
	if m == nil {
		return
	}

	switch command {
	case "DELETE":
		m.Delete(item, key)
		e.tearDownChild(subID, key)
	default: // ADD, UPDATE
		row := make(map[string]string, len(merged))
		for i, v := range merged {
			row[strconv.Itoa(i+1)] = v
		}
		m.Insert(item, key, row)
		if command == "ADD" {
			e.createChild(sub, item, key)
		}
	}
}

// createChild creates the second-level child subscription for a new
// COMMAND key, when a second-level field descriptor is configured. Its
// updates, errors, and overflow notifications are projected back into
// the parent's key row and parent listener (§4.9).
func (e *Engine) createChild(parent *Subscription, item int, key string) {
	if parent.SecondLevelFields == nil || e.NextSubID == nil {
		return
	}
	items, err := protocol.NewListDescriptor([]string{key}, protocol.ValidateItemName)
	if err != nil {
		return
	}
	child := New(ModeMerge, items, parent.SecondLevelFields)
	child.DataAdapter = parent.SecondLevelDataAdapter
	child.Snapshot = "true"
	child.RequestedMaxFrequency = parent.RequestedMaxFrequency

	parentID := parent.ID()
	childID := e.NextSubID()
	child.SetListener(&commandChildListener{
		e:        e,
		parentID: parentID,
		item:     item,
		key:      key,
		baseCols: parent.Fields.Size(),
	})

	e.mu.Lock()
	m, ok := e.children[parentID]
	if !ok {
		m = make(map[string]childRef)
		e.children[parentID] = m
	}
	m[key] = childRef{subID: childID, item: item}
	e.childParent[childID] = parentID
	e.mu.Unlock()

	e.Add(child, childID)
}

func (e *Engine) tearDownChild(parentID int64, key string) {
	e.mu.Lock()
	m, ok := e.children[parentID]
	var ref childRef
	if ok {
		ref, ok = m[key]
		delete(m, key)
	}
	e.mu.Unlock()
	if ok && ref.subID != 0 {
		e.Remove(ref.subID)
	}
}

// commandChildListener is the internal Listener attached to a
// second-level COMMAND child subscription. It never surfaces to the
// embedding application directly: instead it projects the child's
// events into the parent subscription's key row and dispatches them
// through the parent's own listener and real-max-frequency tracking
// (§4.9 "updates are projected into the parent's key row at positions
// past the first-level field count").
type commandChildListener struct {
	e        *Engine
	parentID int64
	item     int // parent's first-level item position this key belongs to
	key      string
	baseCols int // number of first-level fields; second-level fields start after these
}

func (c *commandChildListener) parent() (*Subscription, bool) {
	return c.e.lookup(c.parentID)
}

func (c *commandChildListener) OnSubscription()   {}
func (c *commandChildListener) OnUnsubscription() {}

func (c *commandChildListener) OnSubscriptionError(code int, message string) {
	parent, ok := c.parent()
	if !ok {
		return
	}
	if l := parent.Listener(); l != nil {
		c.e.dispatch(func() { l.OnCommandSecondLevelSubscriptionError(code, message) })
	}
}

func (c *commandChildListener) OnItemUpdate(u *ItemUpdate) {
	parent, ok := c.parent()
	if !ok {
		return
	}
	c.e.mu.Lock()
	m := c.e.keys[c.parentID]
	c.e.mu.Unlock()
	if m == nil {
		return
	}

	row, _ := m.Get(c.item, c.key)
	if row == nil {
		row = make(map[string]string)
	} else {
		cp := make(map[string]string, len(row))
		for k, v := range row {
			cp[k] = v
		}
		row = cp
	}

	changed := make([]int, 0, len(u.ChangedFields))
	for pos, v := range u.ValuesByPos {
		projectedPos := c.baseCols + pos
		row[strconv.Itoa(projectedPos)] = v
	}
	for _, pos := range u.ChangedFields {
		changed = append(changed, c.baseCols+pos)
	}
	m.Insert(c.item, c.key, row)

	name, _ := parent.Items.NameOf(c.item)
	projected := &ItemUpdate{
		ItemName:      name,
		ItemPos:       c.item,
		ValuesByPos:   make(map[int]string, len(row)),
		ChangedFields: changed,
		IsSnapshot:    u.IsSnapshot,
		Key:           c.key,
		CommandValue:  "UPDATE",
	}
	for k, v := range row {
		if pos, err := strconv.Atoi(k); err == nil {
			projected.ValuesByPos[pos] = v
		}
	}

	if l := parent.Listener(); l != nil {
		c.e.dispatch(func() { l.OnItemUpdate(projected) })
	}
}

func (c *commandChildListener) OnEndOfSnapshot(itemName string, itemPos int) {}
func (c *commandChildListener) OnClearSnapshot(itemName string, itemPos int) {}

func (c *commandChildListener) OnItemLostUpdates(itemName string, itemPos int, lost int) {
	parent, ok := c.parent()
	if !ok {
		return
	}
	if l := parent.Listener(); l != nil {
		c.e.dispatch(func() { l.OnCommandSecondLevelItemLostUpdates(c.key, lost) })
	}
}

func (c *commandChildListener) OnRealMaxFrequency(frequency string) {}

func (c *commandChildListener) OnCommandSecondLevelSubscriptionError(code int, message string) {}
func (c *commandChildListener) OnCommandSecondLevelItemLostUpdates(key string, lost int)        {}

func (c *commandChildListener) OnListenStart() {}
func (c *commandChildListener) OnListenEnd()   {}

var _ Listener = (*commandChildListener)(nil)
