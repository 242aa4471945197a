// Package tlcpclient is the public facade wiring the session,
// protocol, subscription, and message engines together. The facade
// itself is named only by its shape in the external-collaborator
// section of the design notes; this is the concrete wiring a host
// application actually links against.
package tlcpclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/tlcp-client/internal/batch"
	"github.com/nugget/tlcp-client/internal/codec"
	"github.com/nugget/tlcp-client/internal/config"
	"github.com/nugget/tlcp-client/internal/events"
	"github.com/nugget/tlcp-client/internal/executor"
	"github.com/nugget/tlcp-client/internal/idgen"
	"github.com/nugget/tlcp-client/internal/listener"
	"github.com/nugget/tlcp-client/internal/message"
	"github.com/nugget/tlcp-client/internal/protocol"
	"github.com/nugget/tlcp-client/internal/reqmgr"
	"github.com/nugget/tlcp-client/internal/serversession"
	"github.com/nugget/tlcp-client/internal/streamsession"
	"github.com/nugget/tlcp-client/internal/subscription"
	"github.com/nugget/tlcp-client/internal/transport"
)

// processIDs issues request and subscription ids for every Client in
// the process, so no id is reused across logical sessions.
var processIDs = idgen.NewSequence()

// Client is the top-level TLCP client: one logical session, its
// subscriptions, and its message manager.
type Client struct {
	cfg    *config.Config
	logger *slog.Logger

	sessionExec *executor.Executor // serializes all session-thread work
	eventsExec  *executor.Executor // dispatches listener callbacks
	bus         *events.Bus
	ids         *idgen.Sequence
	instanceID  string

	transport   transport.Transport
	wsTransport transport.WSTransport

	batcher *batch.Batcher
	engine  *subscription.Engine
	msgs    *message.Manager
	decoder *codec.Decoder
	server  *serversession.ServerSession

	mu         sync.Mutex
	cl         listener.ClientListener
	status     string
	ss         *streamsession.StreamSession
	kind       streamsession.TransportKind
	reqs       *reqmgr.Manager
	sessHandle transport.RequestHandle
	sessionID  string
}

// New builds a Client against cfg, using t for the session/control
// connection and, if non-nil, ws as the WebSocket transport (a nil ws
// forces HTTP-only operation).
func New(cfg *config.Config, t transport.Transport, ws transport.WSTransport, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	instanceID, err := idgen.LoadOrCreateInstanceID(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:         cfg,
		logger:      logger,
		sessionExec: executor.New(),
		eventsExec:  executor.New(),
		bus:         events.New(),
		ids:         processIDs,
		instanceID:  instanceID,
		transport:   t,
		wsTransport: ws,
		batcher:     batch.New(logger),
		status:      listener.StatusDisconnected,
	}

	c.engine = subscription.NewEngine(&subscriptionSink{c}, c.dispatchEvent, c.ids.Next)
	c.msgs = message.New(&messageSink{c}, cfg.Connection.EnqueueWhileDisconnected)
	c.decoder = codec.NewDecoder(&protocolListener{c})
	c.server = serversession.New(&streamOwnerAdapter{c}, c.sessionExec.Schedule)

	return c, nil
}

// SetListener registers the client-level listener (§6.3).
func (c *Client) SetListener(l listener.ClientListener) {
	c.mu.Lock()
	c.cl = l
	c.mu.Unlock()
}

// Connect opens the logical session. Non-blocking: progress is
// reported through the registered ClientListener.
func (c *Client) Connect() {
	c.sessionExec.Post(func() {
		c.setStatus(listener.StatusConnecting)
		c.server.Connect()
	})
}

// Disconnect enqueues a client-initiated close. The status transitions
// to DISCONNECTED once the close runs on the session thread.
func (c *Client) Disconnect() {
	c.sessionExec.Post(func() {
		c.mu.Lock()
		reqs, handle := c.reqs, c.sessHandle
		c.mu.Unlock()
		if reqs != nil {
			reqs.Close(false)
		}
		if handle != nil {
			handle.Close(true)
		}
		c.setStatus(listener.StatusDisconnected)
	})
}

// Subscribe submits a new subscription, assigning it a fresh id.
func (c *Client) Subscribe(sub *subscription.Subscription, l subscription.Listener) {
	sub.SetListener(l)
	id := c.ids.Next()
	c.sessionExec.Post(func() {
		c.engine.Add(sub, id)
	})
}

// Unsubscribe tears down a previously submitted subscription.
func (c *Client) Unsubscribe(subID int64) {
	c.sessionExec.Post(func() {
		c.engine.Remove(subID)
	})
}

// SendMessage submits a user message on the given sequence (empty
// sequence means unordered, fire-and-forget unless l is non-nil).
func (c *Client) SendMessage(text, sequence string, maxWaitMs int, l message.Listener) {
	c.sessionExec.Post(func() {
		c.msgs.Send(text, sequence, maxWaitMs, l)
	})
}

// Events exposes the operational event bus for diagnostics/dashboards,
// distinct from the §6.3 user-facing capability listeners.
func (c *Client) Events() *events.Bus { return c.bus }

func (c *Client) setStatus(status string) {
	c.mu.Lock()
	prev := c.status
	c.status = status
	cl := c.cl
	c.mu.Unlock()

	if prev == status {
		return
	}
	c.bus.Publish(events.Event{Timestamp: time.Now(), Source: events.SourceSession, Kind: events.KindStatusChange, Data: map[string]any{
		"status": status, "previous_status": prev,
	}})
	if cl != nil {
		c.eventsExec.Post(func() { cl.OnStatusChange(status) })
	}
}

func (c *Client) dispatchEvent(fn func()) {
	c.eventsExec.Post(fn)
}

func (c *Client) controlAddress() string {
	if c.cfg.Server.ControlAddress != "" {
		return c.cfg.Server.ControlAddress
	}
	return c.cfg.Server.Address
}

// rebuildControlChannel tears down any previous control-request
// manager and builds a fresh one over the realization appropriate to
// the active transport kind.
func (c *Client) rebuildControlChannel(useWS bool) {
	var realization reqmgr.Realization
	if useWS && c.wsTransport != nil {
		realization = reqmgr.NewWSRealization(c.wsTransport, func() { c.onBatchComplete() }, c.logger)
	} else {
		realization = reqmgr.NewHTTPRealization(c.transport, c.controlAddress(), c.decoder.Feed, func() { c.onBatchComplete() }, c.logger)
	}
	c.mu.Lock()
	c.reqs = reqmgr.New(c.batcher, realization)
	c.mu.Unlock()
}

func (c *Client) onBatchComplete() {
	c.mu.Lock()
	reqs := c.reqs
	c.mu.Unlock()
	if reqs != nil {
		reqs.OnBatchComplete()
	}
}

// streamOwnerAdapter bridges serversession.StreamOwner to the actual
// session create/bind requests and the streamsession state machine.
type streamOwnerAdapter struct{ c *Client }

func (a *streamOwnerAdapter) StartFresh() {
	c := a.c
	useWS := c.wsTransport != nil && c.cfg.Connection.ForcedTransport != "HTTP" &&
		c.cfg.Connection.ForcedTransport != "HTTP-STREAMING" && c.cfg.Connection.ForcedTransport != "HTTP-POLLING"

	cfg := streamsession.Config{
		StalledTimeout:   c.cfg.Connection.StalledTimeout(),
		ReconnectTimeout: c.cfg.Connection.ReconnectTimeout(),
		SlowingEnabled:   c.cfg.Connection.SlowingEnabled,
	}
	kind := streamsession.TransportHTTP
	if useWS {
		kind = streamsession.TransportWS
	}
	ss := streamsession.New(kind, cfg, &streamOwnerListener{c: c}, streamsession.Continuation{}, c.sessionExec.Schedule)
	c.mu.Lock()
	c.ss = ss
	c.kind = kind
	c.mu.Unlock()
	ss.Open()

	req := &protocol.CreateSessionRequest{
		ClientID:   c.instanceID,
		IdleMillis: 0,
		Cause:      "api",
		AdapterSet: c.cfg.Server.AdapterSet,
		User:       c.cfg.Server.User,
		Password:   c.cfg.Server.Password,
	}
	a.send(req, useWS)
}

func (a *streamOwnerAdapter) StartRecovery(dataNotificationCount int64) {
	c := a.c
	c.mu.Lock()
	useWS := c.kind == streamsession.TransportWS
	sessionID := c.sessionID
	c.mu.Unlock()

	cfg := streamsession.Config{
		StalledTimeout:   c.cfg.Connection.StalledTimeout(),
		ReconnectTimeout: c.cfg.Connection.ReconnectTimeout(),
		SlowingEnabled:   c.cfg.Connection.SlowingEnabled,
	}
	cont := streamsession.Continuation{SessionID: sessionID, DataNotificationCount: dataNotificationCount}
	kind := streamsession.TransportHTTP
	if useWS {
		kind = streamsession.TransportWS
	}
	ss := streamsession.New(kind, cfg, &streamOwnerListener{c: c}, cont, c.sessionExec.Schedule)
	c.mu.Lock()
	c.ss = ss
	c.mu.Unlock()
	ss.Bind(true)

	req := &protocol.BindSessionRequest{
		Cause:        "recovery",
		Recovering:   true,
		RecoveryFrom: dataNotificationCount,
	}
	a.send(req, useWS)
}

func (a *streamOwnerAdapter) send(req protocol.Request, useWS bool) {
	c := a.c
	c.rebuildControlChannel(useWS)

	if useWS {
		if err := c.wsTransport.Connect(context.Background(), c.cfg.Server.Address, &wsSessionListener{c: c}, c.cfg.Connection.HTTPExtraHeaders, nil, 0); err != nil {
			c.logger.Warn("session transport connect failed", "error", err)
			c.server.OnTransportLoss(false, 0)
			return
		}
		c.wsTransport.Send(req.Encode(), wsNoopSendListener{})
		return
	}

	handle, err := c.transport.SendRequest(context.Background(), string(req.Name()), req.Encode(), &httpSessionListener{c: c}, c.cfg.Connection.HTTPExtraHeaders, 0, 0)
	if err != nil {
		c.logger.Warn("session request failed", "error", err)
		c.server.OnTransportLoss(false, 0)
		return
	}
	c.mu.Lock()
	c.sessHandle = handle
	c.mu.Unlock()
}

// streamOwnerListener bridges streamsession.Owner back into status
// updates and the server session's recovery decisions.
type streamOwnerListener struct{ c *Client }

func (l *streamOwnerListener) OnSessionOpened(sessionID, serverInstanceAddress string) {
	l.c.mu.Lock()
	l.c.sessionID = sessionID
	l.c.mu.Unlock()
	l.c.server.OnConnected()
	l.c.setStatus(listener.StatusConnectedHTTPStreaming)
}

func (l *streamOwnerListener) OnRebindRequested(pauseMillis time.Duration) {
	l.c.logger.Debug("rebind requested", "pause", pauseMillis)
}

func (l *streamOwnerListener) OnStalled() {
	l.c.setStatus(listener.StatusStalled)
}

func (l *streamOwnerListener) OnSleep(reason string) {
	l.c.mu.Lock()
	ss := l.c.ss
	l.c.mu.Unlock()
	var count int64
	if ss != nil {
		count = ss.DataNotificationCount()
	}
	l.c.server.OnTransportLoss(true, count)
}

func (l *streamOwnerListener) OnSlowingThresholdExceeded() {
	l.c.mu.Lock()
	ss := l.c.ss
	l.c.mu.Unlock()
	var mean float64
	if ss != nil {
		mean = ss.Continuation().SlowingMean
	}
	l.c.bus.Publish(events.Event{Timestamp: time.Now(), Source: events.SourceSession, Kind: events.KindSlowing,
		Data: map[string]any{"mean_delay_ms": mean}})
}

// subscriptionSink adapts subscription.RequestSink to the
// control-request manager.
type subscriptionSink struct{ c *Client }

func controlReqFromSub(sub *subscription.Subscription, op protocol.ControlOp) *protocol.ControlRequest {
	return &protocol.ControlRequest{
		Op:                    op,
		SubID:                 sub.ID(),
		Mode:                  string(sub.Mode),
		Group:                 sub.Items.WireValue(),
		Schema:                sub.Fields.WireValue(),
		DataAdapter:           sub.DataAdapter,
		Selector:              sub.Selector,
		Snapshot:              sub.Snapshot,
		RequestedMaxFrequency: sub.RequestedMaxFrequency,
		RequestedBufferSize:   sub.RequestedBufferSize,
		RequestedMaxBandwidth: sub.RequestedMaxBandwidth,
	}
}

func (s *subscriptionSink) SendAdd(sub *subscription.Subscription) {
	c := s.c
	req := controlReqFromSub(sub, protocol.OpAdd)
	req.ReqID = c.ids.Next()
	subID := sub.ID()
	c.reqs.AddControl(req, nil, &ackListener{onErr: func(code int, msg string) {
		c.engine.OnRequestError(subID, code, msg)
	}})
}

func (s *subscriptionSink) SendDelete(sub *subscription.Subscription) {
	c := s.c
	req := &protocol.ControlRequest{ReqID: c.ids.Next(), Op: protocol.OpDelete, SubID: sub.ID()}
	subID := sub.ID()
	c.reqs.AddControl(req, nil, &ackListener{onErr: func(code int, msg string) {
		c.engine.OnRequestError(subID, code, msg)
	}})
}

func (s *subscriptionSink) SendReconf(sub *subscription.Subscription, reconfID int64, frequency string) {
	c := s.c
	req := &protocol.ControlRequest{ReqID: c.ids.Next(), Op: protocol.OpReconf, SubID: sub.ID(), RequestedMaxFrequency: frequency}
	subID := sub.ID()
	c.reqs.AddControl(req, nil, &ackListener{onErr: func(code int, msg string) {
		c.engine.OnRequestError(subID, code, msg)
	}})
}

// messageSink adapts message.RequestSink to the control-request
// manager.
type messageSink struct{ c *Client }

func (m *messageSink) SendMessage(req *protocol.MessageRequest, onOK func(), onErr func(code int, msg string)) {
	req.ReqID = m.c.ids.Next()
	m.c.reqs.AddMessage(req, nil, &ackListener{onOK: onOK, onErr: onErr})
}

// ackListener adapts a pair of closures to reqmgr.Listener.
type ackListener struct {
	onOK  func()
	onErr func(code int, message string)
}

func (a *ackListener) OnRequestOK() {
	if a.onOK != nil {
		a.onOK()
	}
}

func (a *ackListener) OnRequestError(code int, message string) {
	if a.onErr != nil {
		a.onErr(code, message)
	}
}

// protocolListener adapts codec.ProtocolListener to the subscription
// engine, message manager, and stream session.
type protocolListener struct{ c *Client }

func (p *protocolListener) OnConnectionOK(sessionID string, keepaliveMillis, contentLength int64, controlLink string) {
	p.c.mu.Lock()
	ss := p.c.ss
	p.c.mu.Unlock()
	if ss != nil {
		ss.OnConnectionOK(sessionID, controlLink)
	}
}

func (p *protocolListener) OnConnectionError(code int, message string) {
	p.c.mu.Lock()
	ss, cl := p.c.ss, p.c.cl
	p.c.mu.Unlock()
	if cl != nil {
		p.c.eventsExec.Post(func() { cl.OnServerError(code, message) })
	}
	if ss != nil {
		ss.Sleep("conerr")
	} else {
		p.c.server.OnTransportLoss(false, 0)
	}
}

func (p *protocolListener) OnServerName(name string) {}
func (p *protocolListener) OnClientIP(ip string)      {}

func (p *protocolListener) OnSync(secondsSinceInitialHeader int64) {
	p.c.mu.Lock()
	ss := p.c.ss
	p.c.mu.Unlock()
	if ss != nil {
		ss.OnSync(secondsSinceInitialHeader)
	}
}

func (p *protocolListener) OnProbe() {
	p.c.mu.Lock()
	ss := p.c.ss
	p.c.mu.Unlock()
	if ss != nil {
		ss.OnDataReceived()
	}
}

func (p *protocolListener) OnLoop(pauseMillis int64) {
	p.c.mu.Lock()
	ss := p.c.ss
	p.c.mu.Unlock()
	if ss != nil {
		ss.OnLoop(time.Duration(pauseMillis) * time.Millisecond)
	}
}

func (p *protocolListener) OnEnd(code int, message string) {
	p.c.mu.Lock()
	ss := p.c.ss
	p.c.mu.Unlock()
	if ss != nil {
		ss.Sleep("end")
	}
}

func (p *protocolListener) OnUpdate(subID int64, item int, fields []codec.Field) {
	p.c.engine.OnUpdate(subID, item, fields)
}

func (p *protocolListener) OnEndOfSnapshot(subID int64, item int) {
	p.c.engine.OnEndOfSnapshot(subID, item)
}

func (p *protocolListener) OnClearSnapshot(subID int64, item int) {
	p.c.engine.OnClearSnapshot(subID, item)
}

func (p *protocolListener) OnOverflow(subID int64, item int, lost int64) {
	p.c.engine.OnOverflow(subID, item, lost)
}

func (p *protocolListener) OnSubscriptionOK(subID int64, items, fields int) {
	p.c.engine.OnSubscriptionOK(subID)
}

func (p *protocolListener) OnSubscriptionCommandOK(subID int64, items, fields, keyPos, cmdPos int) {
	p.c.engine.OnSubscriptionCommandOK(subID, keyPos, cmdPos)
}

func (p *protocolListener) OnUnsubscription(subID int64) {
	p.c.engine.OnUnsubscription(subID)
}

func (p *protocolListener) OnConfiguration(subID int64, value string) {
	p.c.engine.OnConfiguration(subID, value)
}

func (p *protocolListener) OnRequestOK(reqID int64) {
	p.c.mu.Lock()
	reqs := p.c.reqs
	p.c.mu.Unlock()
	if reqs != nil {
		reqs.OnRequestOK(reqID)
	}
}

func (p *protocolListener) OnRequestError(reqID int64, code int, message string) {
	p.c.mu.Lock()
	reqs := p.c.reqs
	p.c.mu.Unlock()
	if reqs != nil {
		reqs.OnRequestError(reqID, code, message)
	}
}

func (p *protocolListener) OnServerError(code int, message string) {
	p.c.setStatus(listener.StatusDisconnected)
	p.c.mu.Lock()
	cl := p.c.cl
	p.c.mu.Unlock()
	if cl != nil {
		p.c.eventsExec.Post(func() { cl.OnServerError(code, message) })
	}
}

func (p *protocolListener) OnMessage(sequence string, number int64, outcome string, code int, text string) {
	p.c.msgs.OnMessageOutcome(sequence, number, outcome, code, text)
}

func (p *protocolListener) OnProgress(dataNotificationCount int64) {
	p.c.mu.Lock()
	ss := p.c.ss
	p.c.mu.Unlock()
	if ss != nil {
		ss.SetDataNotificationCount(dataNotificationCount)
	}
}

func (p *protocolListener) OnUnknown(line string, err error) {
	p.c.logger.Warn("unrecognized protocol line", "line", line, "error", err)
	if _, ok := err.(*protocol.ProtocolError); !ok {
		return
	}
	// A malformed line fails the current stream session; the server
	// session then decides on recovery.
	p.c.mu.Lock()
	ss := p.c.ss
	p.c.mu.Unlock()
	if ss != nil {
		ss.Sleep("protocol error")
	}
}

// httpSessionListener adapts transport.RequestListener to the stream
// session's underlying HTTP connection (the long-lived chunked
// response body carrying the whole protocol stream, §4.7).
type httpSessionListener struct{ c *Client }

func (l *httpSessionListener) OnOpen() {}

func (l *httpSessionListener) OnMessage(line string) {
	l.c.decoder.Feed(line)
}

func (l *httpSessionListener) OnClosed() {
	l.c.mu.Lock()
	ss := l.c.ss
	l.c.mu.Unlock()
	if ss != nil {
		ss.Sleep("closed")
	}
}

func (l *httpSessionListener) OnBroken() {
	l.c.mu.Lock()
	ss := l.c.ss
	l.c.mu.Unlock()
	if ss != nil {
		ss.Sleep("broken")
	} else {
		l.c.server.OnTransportLoss(true, 0)
	}
}

// wsSessionListener adapts transport.WSListener to the same stream
// session callbacks when the active transport is WebSocket.
type wsSessionListener struct{ c *Client }

func (l *wsSessionListener) OnOpen() {}

func (l *wsSessionListener) OnMessage(line string) {
	l.c.decoder.Feed(line)
}

func (l *wsSessionListener) OnClosed() {
	l.c.mu.Lock()
	ss := l.c.ss
	l.c.mu.Unlock()
	if ss != nil {
		ss.Sleep("closed")
	}
}

func (l *wsSessionListener) OnBroken() {
	l.c.mu.Lock()
	ss := l.c.ss
	l.c.mu.Unlock()
	if ss != nil {
		ss.Sleep("broken")
	} else {
		l.c.server.OnTransportLoss(true, 0)
	}
}

func (l *wsSessionListener) OnStateChange(state transport.ConnState) {
	l.c.logger.Debug("ws state change", "state", state.String())
}

type wsNoopSendListener struct{}

func (wsNoopSendListener) OnSent()            {}
func (wsNoopSendListener) OnSendFailed(error) {}
