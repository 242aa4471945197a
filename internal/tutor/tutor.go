// Package tutor implements the per-request retransmission discipline
// (§4.3): a timer that, on expiry, asks the owning subsystem whether the
// request should be resent, abandoned, or rescheduled with a longer
// timeout.
package tutor

import (
	"sync"
	"time"
)

// Policy controls how a tutor's timeout evolves across retries.
type Policy interface {
	// Initial returns the timeout for the first attempt, given the
	// previous request's last timeout in this lane (0 if none yet).
	Initial(lastTimeout time.Duration) time.Duration
	// Grows reports whether the timeout should double on each retry.
	// Fixed-timeout request kinds (reconf-frequency, heartbeats) return
	// false.
	Grows() bool
}

// exponential is the default policy: initial = max(4000ms, 2*last),
// doubling on every retry while on the same stream session over WS.
type exponential struct{}

// Exponential is the growing-timeout policy used by ordinary control
// and message requests.
var Exponential Policy = exponential{}

func (exponential) Initial(last time.Duration) time.Duration {
	min := 4000 * time.Millisecond
	twice := 2 * last
	if twice > min {
		return twice
	}
	return min
}

func (exponential) Grows() bool { return true }

// fixed is used by request kinds that declare a constant timeout that
// never grows (subscribe-frequency changes, heartbeats).
type fixed struct {
	timeout time.Duration
}

// NewFixed builds a fixed-timeout policy for request kinds exempted
// from exponential backoff.
func NewFixed(timeout time.Duration) Policy {
	return fixed{timeout: timeout}
}

func (f fixed) Initial(time.Duration) time.Duration { return f.timeout }
func (f fixed) Grows() bool                         { return false }

// Owner is implemented by the subsystem that created a Tutor (the
// control-request manager or message manager). All methods may be
// called from the tutor's timer goroutine and must be safe to call
// without the session thread's lock already held — implementations
// should hop back onto the session thread themselves if they touch
// shared state (§5).
type Owner interface {
	// AlreadySucceeded reports whether the request has already been
	// acknowledged (REQOK/REQERR observed) by other means, making this
	// timer's resend moot.
	AlreadySucceeded() bool
	// SessionClosed reports whether the server session has since closed.
	SessionClosed() bool
	// TransportIsHTTP reports whether the active stream session is HTTP
	// (HTTP always resends rather than waiting, per §4.3).
	TransportIsHTTP() bool
	// StreamSessionChanged reports whether the current stream session
	// differs from the one active when the tutor was created.
	StreamSessionChanged() bool
	// Resend is invoked when the tutor decides to resend the request. It
	// must schedule the resend itself (e.g. re-enqueue into the batcher)
	// and is not expected to block.
	Resend()
}

// Tutor owns one retransmission timer for one outgoing request.
type Tutor struct {
	policy Policy
	owner  Owner
	// forceRebind marks a request kind that always resends regardless of
	// transport, matching §4.3's force-rebind carve-out.
	forceRebind bool

	schedule func(fn func(), delay time.Duration) (cancel func())

	mu        sync.Mutex
	timeout   time.Duration
	cancelFn  func()
	aborted   bool
	started   bool
}

// New creates a tutor. schedule posts fn to run after delay on the
// owning session thread and returns a cancel function (see
// internal/executor.Executor.Schedule); lastTimeout is the previous
// timeout observed in this lane (0 if none).
func New(policy Policy, owner Owner, forceRebind bool, lastTimeout time.Duration, schedule func(fn func(), delay time.Duration) (cancel func())) *Tutor {
	if policy == nil {
		policy = Exponential
	}
	t := &Tutor{
		policy:      policy,
		owner:       owner,
		forceRebind: forceRebind,
		schedule:    schedule,
		timeout:     policy.Initial(lastTimeout),
	}
	return t
}

// Start arms the timer. Calling Start twice is a no-op.
func (t *Tutor) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started || t.aborted {
		return
	}
	t.started = true
	t.arm()
}

// arm must be called with t.mu held.
func (t *Tutor) arm() {
	timeout := t.timeout
	t.cancelFn = t.schedule(t.onExpire, timeout)
}

// onExpire runs on the session thread when the timer fires.
func (t *Tutor) onExpire() {
	t.mu.Lock()
	if t.aborted {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	if t.owner.AlreadySucceeded() {
		t.Abort()
		return
	}
	if t.owner.SessionClosed() {
		t.Abort()
		return
	}

	if t.owner.TransportIsHTTP() || t.forceRebind || t.owner.StreamSessionChanged() {
		t.owner.Resend()
		t.rearm()
		return
	}

	// Same WS stream session: grow the timeout (if the policy allows)
	// and wait again rather than resending.
	t.mu.Lock()
	if t.policy.Grows() {
		t.timeout *= 2
	}
	t.arm()
	t.mu.Unlock()
}

// rearm restarts the timer at the current timeout after a resend —
// the resent request gets its own fresh window to be acknowledged.
func (t *Tutor) rearm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.aborted {
		return
	}
	t.arm()
}

// Abort cancels the timer permanently. Safe to call multiple times and
// from any goroutine (e.g. on REQOK/REQERR receipt, or batcher
// supersession per §4.4).
func (t *Tutor) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.aborted {
		return
	}
	t.aborted = true
	if t.cancelFn != nil {
		t.cancelFn()
	}
}

// Timeout returns the tutor's current timeout, for lastTimeout chaining
// across successive requests in the same lane.
func (t *Tutor) Timeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeout
}
