package reqmgr

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nugget/tlcp-client/internal/batch"
	"github.com/nugget/tlcp-client/internal/transport"
)

// HTTPRealization serializes batches as request bodies with `\r\n`
// separators between enclosed requests (§4.5). Exactly one HTTP
// control connection is ever in flight.
type HTTPRealization struct {
	tp       transport.Transport
	baseURL  string
	onLine   func(line string)
	onDone   func()
	logger   *slog.Logger

	handle transport.RequestHandle
}

// NewHTTPRealization builds an HTTP realization posting against
// baseURL. onLine is invoked for every response line (REQOK/REQERR,
// one per enclosed request); onDone signals batch completion back to
// the Manager (wired by the caller to Manager.OnBatchComplete).
func NewHTTPRealization(tp transport.Transport, baseURL string, onLine func(string), onDone func(), logger *slog.Logger) *HTTPRealization {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPRealization{tp: tp, baseURL: baseURL, onLine: onLine, onDone: onDone, logger: logger}
}

func (h *HTTPRealization) SendBatch(b batch.Batch) {
	bodies := make([]string, 0, len(b.Requests))
	for _, r := range b.Requests {
		bodies = append(bodies, r.Encode())
	}
	body := strings.Join(bodies, "\r\n")

	listener := &httpRequestListener{h: h}
	handle, err := h.tp.SendRequest(context.Background(), h.baseURL, body, listener, nil, 0, 0)
	if err != nil {
		h.logger.Warn("reqmgr/http: send failed", "error", err)
		h.onDone()
		return
	}
	h.handle = handle
}

func (h *HTTPRealization) Close(forceConnectionClose bool) {
	if h.handle != nil {
		h.handle.Close(forceConnectionClose)
	}
}

type httpRequestListener struct {
	h *HTTPRealization
}

func (l *httpRequestListener) OnOpen() {}

func (l *httpRequestListener) OnMessage(line string) {
	l.h.onLine(line)
}

func (l *httpRequestListener) OnClosed() {
	l.h.onDone()
}

func (l *httpRequestListener) OnBroken() {
	l.h.logger.Debug("reqmgr/http: connection broken")
	l.h.onDone()
}
