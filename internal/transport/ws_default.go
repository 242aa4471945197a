package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultWSTransport is the default WSTransport backed by
// github.com/gorilla/websocket, speaking the line-oriented TLCP text
// framing (one TLCP line per WebSocket text frame) rather than JSON.
type DefaultWSTransport struct {
	conn   *websocket.Conn
	connMu sync.Mutex

	dialer   websocket.Dialer
	listener WSListener

	state   ConnState
	stateMu sync.Mutex

	logger *slog.Logger

	closeOnce sync.Once
	doneCh    chan struct{}
}

// NewDefaultWSTransport builds a transport with generous read buffers,
// mirroring the teacher's large-response dialer tuning.
func NewDefaultWSTransport(logger *slog.Logger) *DefaultWSTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultWSTransport{
		dialer: websocket.Dialer{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		logger: logger,
		state:  NotConnected,
	}
}

func (t *DefaultWSTransport) setState(s ConnState) {
	t.stateMu.Lock()
	t.state = s
	t.stateMu.Unlock()
	if t.listener != nil {
		t.listener.OnStateChange(s)
	}
}

func (t *DefaultWSTransport) State() ConnState {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.state
}

// Connect dials the given bind/create URL and begins the read loop. The
// control protocol itself (CONOK handshake) travels as ordinary TLCP
// lines over the resulting text frames, not as part of the dial.
func (t *DefaultWSTransport) Connect(ctx context.Context, wsURL string, listener WSListener, extraHeaders map[string]string, cookies []string, timeoutMs int) error {
	u, err := url.Parse(wsURL)
	if err != nil {
		return fmt.Errorf("parse websocket url: %w", err)
	}

	t.listener = listener
	t.setState(Connecting)

	if timeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	header := buildWSHeader(extraHeaders, cookies)
	conn, _, err := t.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		t.setState(Broken)
		return fmt.Errorf("dial websocket: %w", err)
	}
	conn.SetReadLimit(16 * 1024 * 1024)

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()
	t.doneCh = make(chan struct{})

	t.setState(Connected)
	if listener != nil {
		listener.OnOpen()
	}

	go t.readLoop()
	return nil
}

func (t *DefaultWSTransport) readLoop() {
	defer close(t.doneCh)
	for {
		t.connMu.Lock()
		conn := t.conn
		t.connMu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.setState(Disconnected)
				if t.listener != nil {
					t.listener.OnClosed()
				}
				return
			}
			t.setState(Broken)
			if t.listener != nil {
				t.logger.Debug("websocket read error", "error", err)
				t.listener.OnBroken()
			}
			return
		}

		for _, line := range splitFrameLines(string(data)) {
			if t.listener != nil {
				t.listener.OnMessage(line)
			}
		}
	}
}

// Send writes one TLCP line as a WebSocket text frame.
func (t *DefaultWSTransport) Send(line string, onSent WSSendListener) {
	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()
	if conn == nil {
		if onSent != nil {
			onSent.OnSendFailed(fmt.Errorf("websocket not connected"))
		}
		return
	}

	t.connMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, []byte(line))
	t.connMu.Unlock()
	if err != nil {
		if onSent != nil {
			onSent.OnSendFailed(err)
		}
		return
	}
	if onSent != nil {
		onSent.OnSent()
	}
}

// buildWSHeader assembles the dial header from extra request headers
// and a pre-rendered Cookie header value set.
func buildWSHeader(extraHeaders map[string]string, cookies []string) (header map[string][]string) {
	if len(extraHeaders) == 0 && len(cookies) == 0 {
		return nil
	}
	header = make(map[string][]string, len(extraHeaders)+1)
	for k, v := range extraHeaders {
		header[k] = []string{v}
	}
	if len(cookies) > 0 {
		joined := cookies[0]
		for _, c := range cookies[1:] {
			joined += "; " + c
		}
		header["Cookie"] = []string{joined}
	}
	return header
}

// Disconnect closes the underlying connection, forcing the read loop to
// exit and report OnClosed/OnBroken.
func (t *DefaultWSTransport) Disconnect() {
	t.closeOnce.Do(func() {
		t.connMu.Lock()
		conn := t.conn
		t.connMu.Unlock()
		if conn != nil {
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.Close()
		}
		t.setState(Disconnected)
	})
}

// splitFrameLines tolerates a server batching multiple TLCP lines into
// one WebSocket frame separated by CRLF, matching the wire tolerance
// the HTTP realization already applies to its response body.
func splitFrameLines(data string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' {
			line := data[start:i]
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			if line != "" {
				lines = append(lines, line)
			}
			start = i + 1
		}
	}
	if start < len(data) {
		if rest := data[start:]; rest != "" {
			lines = append(lines, rest)
		}
	}
	return lines
}
