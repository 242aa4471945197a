// Package listener defines the client-wide capability interface (§6.3):
// the one legitimately polymorphic seam in the client, everything else
// (request kind, event kind, session state) is a closed Go enum or
// sealed interface dispatched with a type switch. Per-subscription and
// per-message callbacks are the driven seams internal/subscription.Listener
// and internal/message.Listener define and dispatch directly; this
// package does not duplicate them.
package listener

// ClientListener receives client-wide lifecycle events.
type ClientListener interface {
	// OnStatusChange fires whenever the client's status-taxonomy string
	// (§6.3) changes, e.g. "CONNECTING" -> "CONNECTED:WS-STREAMING".
	OnStatusChange(status string)
	// OnServerError fires when the server rejects the session outright
	// (CONERR) with no retry possible.
	OnServerError(code int, message string)
	// OnPropertyChange fires when a connection option takes on a new
	// effective value, e.g. after the server overrides a requested
	// bandwidth. name is the option's field name.
	OnPropertyChange(name string)
	// OnListenStart/OnListenEnd bracket listener registration, mirroring
	// the subscription-level pair of the same name.
	OnListenStart()
	OnListenEnd()
}

// Status string taxonomy constants (§6.3), reported via
// ClientListener.OnStatusChange.
const (
	StatusDisconnected             = "DISCONNECTED"
	StatusDisconnectedWillRetry    = "DISCONNECTED:WILL-RETRY"
	StatusDisconnectedTryRecovery  = "DISCONNECTED:TRYING-RECOVERY"
	StatusConnecting               = "CONNECTING"
	StatusConnectedStreamSensing   = "CONNECTED:STREAM-SENSING"
	StatusConnectedWSStreaming     = "CONNECTED:WS-STREAMING"
	StatusConnectedHTTPStreaming   = "CONNECTED:HTTP-STREAMING"
	StatusConnectedWSPolling       = "CONNECTED:WS-POLLING"
	StatusConnectedHTTPPolling     = "CONNECTED:HTTP-POLLING"
	StatusStalled                  = "STALLED"
)
