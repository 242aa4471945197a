package protocol

import "fmt"

// ConfigurationError is a synchronous client-side failure (invalid URL,
// unknown forced-transport token, invalid field name, ...) that never
// reaches the wire (§7).
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("tlcp: configuration error: %s", e.Reason)
}

// NewConfigurationError builds a ConfigurationError with a formatted reason.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// RequestError wraps a server REQERR response delivered to a specific
// request's listener. It does not by itself invalidate the session (§7).
type RequestError struct {
	RequestID int64
	Code      int
	Message   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("tlcp: request %d rejected: %d %s", e.RequestID, e.Code, e.Message)
}

// ServerError wraps a fatal CONERR/ERROR from the server that closes the
// logical session (§7).
type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("tlcp: server error %d: %s", e.Code, e.Message)
}

// ProtocolError signals a malformed TLCP line or an unparsable numeric
// field. It fails the current stream session; the server session then
// attempts recovery or a transport switch (§7).
type ProtocolError struct {
	Line   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("tlcp: protocol error: %s (line: %q)", e.Reason, e.Line)
}
