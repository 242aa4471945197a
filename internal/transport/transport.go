// Package transport defines the capability interfaces the core engine
// consumes to move bytes on the wire (§6.2), plus the default
// WebSocket/HTTP implementations and the handful of process-wide
// ambient resources (cookie jar, trust callback, offline probe) the
// spec calls out as external collaborators.
package transport

import "context"

// ConnState is the WS transport's connection lifecycle (§6.2).
type ConnState int

const (
	NotConnected ConnState = iota
	Connecting
	Connected
	Disconnected
	Broken
	UnexpectedError
)

func (s ConnState) String() string {
	switch s {
	case NotConnected:
		return "NOT_CONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Disconnected:
		return "DISCONNECTED"
	case Broken:
		return "BROKEN"
	case UnexpectedError:
		return "UNEXPECTED_ERROR"
	default:
		return "UNKNOWN"
	}
}

// RequestListener receives the lifecycle of one outgoing HTTP-style
// request (§6.2).
type RequestListener interface {
	OnOpen()
	OnMessage(line string)
	OnClosed()
	OnBroken()
}

// RequestHandle lets the caller close an in-flight request.
type RequestHandle interface {
	Close(forceConnectionClose bool)
}

// Transport sends one control/session request as an HTTP-style
// request/response (or long-lived chunked stream) exchange.
type Transport interface {
	SendRequest(ctx context.Context, protocolName string, request string, listener RequestListener, extraHeaders map[string]string, tcpConnectTimeoutMs, tcpReadTimeoutMs int) (RequestHandle, error)
}

// WSListener receives WebSocket transport lifecycle and frame events.
type WSListener interface {
	OnOpen()
	OnMessage(line string)
	OnClosed()
	OnBroken()
	OnStateChange(state ConnState)
}

// WSSendListener receives the outcome of one WS frame send.
type WSSendListener interface {
	OnSent()
	OnSendFailed(err error)
}

// WSTransport is a persistent, bidirectional frame-stream transport.
type WSTransport interface {
	Connect(ctx context.Context, uri string, listener WSListener, extraHeaders map[string]string, cookies []string, timeoutMs int) error
	Send(frame string, listener WSSendListener)
	Disconnect()
	State() ConnState
}
