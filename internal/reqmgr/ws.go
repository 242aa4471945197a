package reqmgr

import (
	"log/slog"
	"sync"

	"github.com/nugget/tlcp-client/internal/batch"
	"github.com/nugget/tlcp-client/internal/protocol"
	"github.com/nugget/tlcp-client/internal/transport"
)

// WSRealization sends each request as a single frame
// `<requestName>\r\n<queryString>` (§4.5). Requests submitted while the
// socket is CONNECTING are buffered and sent in order when Flush is
// called; nothing calls Flush automatically on CONNECTED. Session
// requests (create/bind) do not pass through this buffer.
type WSRealization struct {
	tp     transport.WSTransport
	onDone func()
	logger *slog.Logger

	mu      sync.Mutex
	pending []string
}

// NewWSRealization builds a WS realization over an already-connecting
// or connected transport. onDone signals batch completion (wired to
// Manager.OnBatchComplete) once every frame in the batch has been
// handed to the transport or buffered.
func NewWSRealization(tp transport.WSTransport, onDone func(), logger *slog.Logger) *WSRealization {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRealization{tp: tp, onDone: onDone, logger: logger}
}

func (w *WSRealization) SendBatch(b batch.Batch) {
	for _, r := range b.Requests {
		frame := string(r.Name()) + "\r\n" + r.Encode()
		w.sendOrBuffer(frame)
	}
	w.onDone()
}

func (w *WSRealization) sendOrBuffer(frame string) {
	if w.tp.State() != transport.Connected {
		w.mu.Lock()
		w.pending = append(w.pending, frame)
		w.mu.Unlock()
		return
	}
	w.tp.Send(frame, &wsSendListener{w: w, frame: frame})
}

// Flush sends every buffered frame, in order, once the socket reaches
// CONNECTED.
func (w *WSRealization) Flush() {
	w.mu.Lock()
	frames := w.pending
	w.pending = nil
	w.mu.Unlock()

	for _, f := range frames {
		w.tp.Send(f, &wsSendListener{w: w, frame: f})
	}
}

func (w *WSRealization) Close(forceConnectionClose bool) {
	w.tp.Disconnect()
}

type wsSendListener struct {
	w     *WSRealization
	frame string
}

func (l *wsSendListener) OnSent() {}

func (l *wsSendListener) OnSendFailed(err error) {
	l.w.logger.Warn("reqmgr/ws: frame send failed", "error", err)
}

// SessionFrame formats a session-level request (create_session /
// bind_session) to the same `<requestName>\r\n<queryString>` shape,
// bypassing the batcher entirely since session requests are never
// batched (§4.1).
func SessionFrame(req protocol.Request) string {
	return string(req.Name()) + "\r\n" + req.Encode()
}
