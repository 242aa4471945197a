// Package codec parses the TLCP line protocol (§4.6) into typed
// callbacks on a ProtocolListener, and owns the reverse-heartbeat
// timer. The Decoder holds no protocol state of its own; in
// particular it does not track a default session-id.
package codec

import (
	"strconv"
	"strings"

	"github.com/nugget/tlcp-client/internal/protocol"
)

// ProtocolListener receives one callback per decoded TLCP line. All
// callbacks run on the caller's goroutine (the session thread in
// production); implementations must not block.
type ProtocolListener interface {
	OnConnectionOK(sessionID string, keepaliveMillis, contentLength int64, controlLink string)
	OnConnectionError(code int, message string)
	OnServerName(name string)
	OnClientIP(ip string)
	OnSync(secondsSinceInitialHeader int64)
	OnProbe()
	OnLoop(pauseMillis int64)
	OnEnd(code int, message string)
	OnUpdate(subID int64, item int, fields []Field)
	OnEndOfSnapshot(subID int64, item int)
	OnClearSnapshot(subID int64, item int)
	OnOverflow(subID int64, item int, lost int64)
	OnSubscriptionOK(subID int64, items, fields int)
	OnSubscriptionCommandOK(subID int64, items, fields, keyPos, cmdPos int)
	OnUnsubscription(subID int64)
	OnConfiguration(subID int64, value string)
	OnRequestOK(reqID int64)
	OnRequestError(reqID int64, code int, message string)
	OnServerError(code int, message string)
	OnMessage(sequence string, number int64, outcome string, code int, text string)
	OnProgress(dataNotificationCount int64)
	// OnUnknown is invoked for any recognized-prefix-but-malformed or
	// wholly unrecognized line; it never aborts decoding of subsequent
	// lines.
	OnUnknown(line string, err error)
}

// Field is one decoded slot of an update's field vector: either a
// fresh value (changed) or a marker that it repeats the previous
// value for that position (unchanged).
type Field struct {
	Value     string
	IsNull    bool
	Unchanged bool
}

// Decoder parses a sequence of LF-terminated lines and dispatches them
// to a ProtocolListener.
type Decoder struct {
	listener ProtocolListener
}

// NewDecoder builds a Decoder dispatching to listener.
func NewDecoder(listener ProtocolListener) *Decoder {
	return &Decoder{listener: listener}
}

// Feed decodes one line (without its trailing LF/CR).
func (d *Decoder) Feed(line string) {
	line = strings.TrimSuffix(line, "\r")
	if line == "" {
		return
	}

	comma := strings.IndexByte(line, ',')
	prefix := line
	rest := ""
	if comma >= 0 {
		prefix = line[:comma]
		rest = line[comma+1:]
	}

	switch {
	case prefix == "CONOK":
		d.decodeConOK(rest, line)
	case prefix == "CONERR":
		d.decodeConErr(rest, line)
	case prefix == "SERVNAME":
		d.listener.OnServerName(rest)
	case prefix == "CLIENTIP":
		d.listener.OnClientIP(rest)
	case prefix == "SYNC":
		d.decodeSync(rest, line)
	case prefix == "PROBE":
		d.listener.OnProbe()
	case prefix == "LOOP":
		d.decodeLoop(rest, line)
	case prefix == "END":
		d.decodeEnd(rest, line)
	case prefix == "U":
		d.decodeUpdate(rest, line)
	case prefix == "EOS":
		d.decodeItemEvent(rest, line, d.listener.OnEndOfSnapshot)
	case prefix == "CS":
		d.decodeItemEvent(rest, line, d.listener.OnClearSnapshot)
	case prefix == "OV":
		d.decodeOverflow(rest, line)
	case prefix == "SUBOK":
		d.decodeSubOK(rest, line)
	case prefix == "SUBCMD":
		d.decodeSubCmd(rest, line)
	case prefix == "UNSUB":
		d.decodeUnsub(rest, line)
	case prefix == "CONS":
		d.decodeCons(rest, line)
	case prefix == "REQOK":
		d.decodeReqOK(rest, line)
	case prefix == "REQERR":
		d.decodeReqErr(rest, line)
	case prefix == "ERROR":
		d.decodeError(rest, line)
	case prefix == "MSG":
		d.decodeMsg(rest, line)
	case prefix == "PROG":
		d.decodeProg(rest, line)
	case prefix == "NOOP":
		// bookkeeping only, no listener callback required.
	default:
		d.listener.OnUnknown(line, protocol.NewConfigurationError("unrecognized line prefix"))
	}
}

func split(rest string, n int) ([]string, bool) {
	parts := strings.SplitN(rest, ",", n)
	return parts, len(parts) == n
}

func atoi64(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	return n, err == nil
}

func (d *Decoder) fail(line string, reason string) {
	d.listener.OnUnknown(line, &protocol.ProtocolError{Line: line, Reason: reason})
}

func (d *Decoder) decodeConOK(rest, line string) {
	p, ok := split(rest, 4)
	if !ok {
		d.fail(line, "CONOK requires 4 fields")
		return
	}
	ka, ok1 := atoi64(p[1])
	cl, ok2 := atoi64(p[2])
	if !ok1 || !ok2 {
		d.fail(line, "CONOK numeric field malformed")
		return
	}
	d.listener.OnConnectionOK(p[0], ka, cl, p[3])
}

func (d *Decoder) decodeConErr(rest, line string) {
	p, ok := split(rest, 2)
	if !ok {
		d.fail(line, "CONERR requires 2 fields")
		return
	}
	code, ok := atoi(p[0])
	if !ok {
		d.fail(line, "CONERR code malformed")
		return
	}
	d.listener.OnConnectionError(code, p[1])
}

func (d *Decoder) decodeSync(rest, line string) {
	secs, ok := atoi64(rest)
	if !ok {
		d.fail(line, "SYNC seconds malformed")
		return
	}
	d.listener.OnSync(secs)
}

func (d *Decoder) decodeLoop(rest, line string) {
	ms, ok := atoi64(rest)
	if !ok {
		d.fail(line, "LOOP pause malformed")
		return
	}
	d.listener.OnLoop(ms)
}

func (d *Decoder) decodeEnd(rest, line string) {
	p, ok := split(rest, 2)
	if !ok {
		d.fail(line, "END requires 2 fields")
		return
	}
	code, ok := atoi(p[0])
	if !ok {
		d.fail(line, "END code malformed")
		return
	}
	d.listener.OnEnd(code, p[1])
}

func (d *Decoder) decodeUpdate(rest, line string) {
	p, ok := split(rest, 3)
	if !ok {
		d.fail(line, "U requires 3 fields")
		return
	}
	subID, ok1 := atoi64(p[0])
	item, ok2 := atoi(p[1])
	if !ok1 || !ok2 {
		d.fail(line, "U subId/item malformed")
		return
	}
	fields, err := DecodeFieldVector(p[2])
	if err != nil {
		d.fail(line, err.Error())
		return
	}
	d.listener.OnUpdate(subID, item, fields)
}

func (d *Decoder) decodeItemEvent(rest, line string, fn func(subID int64, item int)) {
	p, ok := split(rest, 2)
	if !ok {
		d.fail(line, "expected subId,item")
		return
	}
	subID, ok1 := atoi64(p[0])
	item, ok2 := atoi(p[1])
	if !ok1 || !ok2 {
		d.fail(line, "subId/item malformed")
		return
	}
	fn(subID, item)
}

func (d *Decoder) decodeOverflow(rest, line string) {
	p, ok := split(rest, 3)
	if !ok {
		d.fail(line, "OV requires 3 fields")
		return
	}
	subID, ok1 := atoi64(p[0])
	item, ok2 := atoi(p[1])
	lost, ok3 := atoi64(p[2])
	if !ok1 || !ok2 || !ok3 {
		d.fail(line, "OV fields malformed")
		return
	}
	d.listener.OnOverflow(subID, item, lost)
}

func (d *Decoder) decodeSubOK(rest, line string) {
	p, ok := split(rest, 3)
	if !ok {
		d.fail(line, "SUBOK requires 3 fields")
		return
	}
	subID, ok1 := atoi64(p[0])
	items, ok2 := atoi(p[1])
	fields, ok3 := atoi(p[2])
	if !ok1 || !ok2 || !ok3 {
		d.fail(line, "SUBOK fields malformed")
		return
	}
	d.listener.OnSubscriptionOK(subID, items, fields)
}

func (d *Decoder) decodeSubCmd(rest, line string) {
	p, ok := split(rest, 5)
	if !ok {
		d.fail(line, "SUBCMD requires 5 fields")
		return
	}
	subID, ok1 := atoi64(p[0])
	items, ok2 := atoi(p[1])
	fields, ok3 := atoi(p[2])
	keyPos, ok4 := atoi(p[3])
	cmdPos, ok5 := atoi(p[4])
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		d.fail(line, "SUBCMD fields malformed")
		return
	}
	d.listener.OnSubscriptionCommandOK(subID, items, fields, keyPos, cmdPos)
}

func (d *Decoder) decodeUnsub(rest, line string) {
	subID, ok := atoi64(rest)
	if !ok {
		d.fail(line, "UNSUB subId malformed")
		return
	}
	d.listener.OnUnsubscription(subID)
}

func (d *Decoder) decodeCons(rest, line string) {
	p, ok := split(rest, 2)
	if !ok {
		d.fail(line, "CONS requires subId,value")
		return
	}
	subID, ok := atoi64(p[0])
	if !ok {
		d.fail(line, "CONS subId malformed")
		return
	}
	d.listener.OnConfiguration(subID, p[1])
}

func (d *Decoder) decodeReqOK(rest, line string) {
	if rest == "" {
		d.listener.OnRequestOK(0)
		return
	}
	reqID, ok := atoi64(rest)
	if !ok {
		d.fail(line, "REQOK reqId malformed")
		return
	}
	d.listener.OnRequestOK(reqID)
}

func (d *Decoder) decodeReqErr(rest, line string) {
	p, ok := split(rest, 3)
	if !ok {
		d.fail(line, "REQERR requires 3 fields")
		return
	}
	reqID, ok1 := atoi64(p[0])
	code, ok2 := atoi(p[1])
	if !ok1 || !ok2 {
		d.fail(line, "REQERR fields malformed")
		return
	}
	d.listener.OnRequestError(reqID, code, p[2])
}

func (d *Decoder) decodeError(rest, line string) {
	p, ok := split(rest, 2)
	if !ok {
		d.fail(line, "ERROR requires 2 fields")
		return
	}
	code, ok := atoi(p[0])
	if !ok {
		d.fail(line, "ERROR code malformed")
		return
	}
	d.listener.OnServerError(code, p[1])
}

func (d *Decoder) decodeMsg(rest, line string) {
	p := strings.SplitN(rest, ",", 5)
	if len(p) < 3 {
		d.fail(line, "MSG requires at least sequence,number,outcome")
		return
	}
	number, ok := atoi64(p[1])
	if !ok {
		d.fail(line, "MSG number malformed")
		return
	}
	code := 0
	text := ""
	if len(p) >= 5 {
		if c, ok := atoi(p[3]); ok {
			code = c
		}
		text = p[4]
	}
	d.listener.OnMessage(p[0], number, p[2], code, text)
}

func (d *Decoder) decodeProg(rest, line string) {
	n, ok := atoi64(rest)
	if !ok {
		d.fail(line, "PROG count malformed")
		return
	}
	d.listener.OnProgress(n)
}
