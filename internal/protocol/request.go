// Package protocol defines the TLCP request value model — typed request
// objects that serialize to LS_<key>=<value> query strings — and the
// item/field descriptors used to address subscriptions.
package protocol

import (
	"strconv"
	"strings"
)

// RequestName identifies a TLCP request verb.
type RequestName string

// The five TLCP request verbs.
const (
	RequestCreateSession RequestName = "create_session"
	RequestBindSession   RequestName = "bind_session"
	RequestControl       RequestName = "control"
	RequestMessage       RequestName = "msg"
	RequestHeartbeat     RequestName = "heartbeat"
)

// ControlOp identifies the LS_op value carried by a control request.
type ControlOp string

// The control-request operations.
const (
	OpAdd         ControlOp = "add"
	OpDelete      ControlOp = "delete"
	OpReconf      ControlOp = "reconf"
	OpConstrain   ControlOp = "constrain"
	OpForceRebind ControlOp = "force_rebind"
	OpDestroy     ControlOp = "destroy"
)

// Request is a single outgoing TLCP request. Implementations format
// their own query string; every control/message request carries a
// unique RequestID assigned by the caller (see internal/idgen).
type Request interface {
	// Name is the TLCP request verb.
	Name() RequestName
	// RequestID is 0 for session requests (create_session, bind_session),
	// which never carry LS_reqId and are never batched.
	RequestID() int64
	// Encode serializes the request body as an LS_ query string, not
	// including the leading request-name line used by the WS framing.
	Encode() string
	// IsSessionRequest reports whether this is a create_session or
	// bind_session request.
	IsSessionRequest() bool
}

// bodyBuilder accumulates LS_ key/value pairs in insertion order and
// joins them with '&', matching TLCP's url-form-encoded body shape.
type bodyBuilder struct {
	parts []string
}

func (b *bodyBuilder) add(key, value string) {
	b.parts = append(b.parts, key+"="+EncodeValue(value))
}

func (b *bodyBuilder) addRaw(key, value string) {
	// value is already a valid TLCP token (e.g. a bare number or enum)
	// that needs no percent-encoding.
	b.parts = append(b.parts, key+"="+value)
}

func (b *bodyBuilder) addIf(cond bool, key, value string) {
	if cond {
		b.add(key, value)
	}
}

func (b *bodyBuilder) addBool(key string, v bool) {
	if v {
		b.addRaw(key, "true")
	} else {
		b.addRaw(key, "false")
	}
}

func (b *bodyBuilder) String() string {
	return strings.Join(b.parts, "&")
}

// CreateSessionRequest opens a brand-new logical session.
type CreateSessionRequest struct {
	ClientID               string // LS_cid
	Polling                bool
	PollingMillis          int
	IdleMillis             int
	Cause                  string
	AdapterSet             string
	User                   string
	Password               string
	RequestedMaxBandwidth  string // number or "unlimited"; empty = unset
	OldSessionID           string // set when recovering from a fully-expired session
}

func (r *CreateSessionRequest) Name() RequestName { return RequestCreateSession }
func (r *CreateSessionRequest) RequestID() int64  { return 0 }
func (r *CreateSessionRequest) IsSessionRequest() bool { return true }

func (r *CreateSessionRequest) Encode() string {
	var b bodyBuilder
	b.add("LS_cid", r.ClientID)
	b.addBool("LS_polling", r.Polling)
	if r.Polling {
		b.addRaw("LS_polling_millis", strconv.Itoa(r.PollingMillis))
	}
	b.addRaw("LS_idle_millis", strconv.Itoa(r.IdleMillis))
	b.addIf(r.Cause != "", "LS_cause", r.Cause)
	b.addIf(r.AdapterSet != "", "LS_adapter_set", r.AdapterSet)
	b.addIf(r.User != "", "LS_user", r.User)
	b.addIf(r.Password != "", "LS_password", r.Password)
	b.addIf(r.RequestedMaxBandwidth != "", "LS_requested_max_bandwidth", r.RequestedMaxBandwidth)
	b.addIf(r.OldSessionID != "", "LS_old_session", r.OldSessionID)
	return b.String()
}

// BindSessionRequest binds a new stream session to an existing logical
// session, optionally resuming a dropped stream via RecoveryFrom.
type BindSessionRequest struct {
	Polling         bool
	PollingMillis   int
	IdleMillis      int
	KeepaliveMillis int
	ContentLength   int64
	Cause           string

	// Recovering is true for a recovery bind (§4.8): RecoveryFrom carries
	// the last observed dataNotificationCount (LS_recovery_from).
	Recovering   bool
	RecoveryFrom int64
}

func (r *BindSessionRequest) Name() RequestName { return RequestBindSession }
func (r *BindSessionRequest) RequestID() int64  { return 0 }
func (r *BindSessionRequest) IsSessionRequest() bool { return true }

func (r *BindSessionRequest) Encode() string {
	var b bodyBuilder
	b.addBool("LS_polling", r.Polling)
	if r.Polling {
		b.addRaw("LS_polling_millis", strconv.Itoa(r.PollingMillis))
		b.addRaw("LS_idle_millis", strconv.Itoa(r.IdleMillis))
	}
	if r.KeepaliveMillis > 0 {
		b.addRaw("LS_keepalive_millis", strconv.Itoa(r.KeepaliveMillis))
	}
	if r.ContentLength > 0 {
		b.addRaw("LS_content_length", strconv.FormatInt(r.ContentLength, 10))
	}
	b.addIf(r.Cause != "", "LS_cause", r.Cause)
	if r.Recovering {
		b.addRaw("LS_recovery_from", strconv.FormatInt(r.RecoveryFrom, 10))
	}
	return b.String()
}

// ControlRequest covers add/delete/reconf/constrain/force_rebind/destroy.
// Which fields are meaningful depends on Op; see §4.1.
type ControlRequest struct {
	ReqID int64
	Op    ControlOp

	SubID int64 // LS_subId; 0 omits the field (e.g. force_rebind, destroy)

	Mode                   string
	Group                  string // item-list/group descriptor, space-joined or a name
	Schema                 string // field-list/schema descriptor
	DataAdapter            string
	Selector               string
	Snapshot               string // "true", "false", or a number (DISTINCT); empty = unset
	RequestedMaxFrequency  string // number, "unlimited", "unfiltered"; empty = unset
	RequestedBufferSize    string // number or "unlimited"; empty = unset
	RequestedMaxBandwidth  string // number or "unlimited"; empty = unset

	// TargetSessionID overrides LS_session for a destroy sent to an old
	// server after a session migrated (§4.4 destroy lane).
	TargetSessionID string
}

func (r *ControlRequest) Name() RequestName { return RequestControl }
func (r *ControlRequest) RequestID() int64  { return r.ReqID }
func (r *ControlRequest) IsSessionRequest() bool { return false }

func (r *ControlRequest) Encode() string {
	var b bodyBuilder
	b.addRaw("LS_reqId", strconv.FormatInt(r.ReqID, 10))
	b.addRaw("LS_op", string(r.Op))
	if r.SubID != 0 {
		b.addRaw("LS_subId", strconv.FormatInt(r.SubID, 10))
	}
	b.addIf(r.Mode != "", "LS_mode", r.Mode)
	b.addIf(r.Group != "", "LS_group", r.Group)
	b.addIf(r.Schema != "", "LS_schema", r.Schema)
	b.addIf(r.DataAdapter != "", "LS_data_adapter", r.DataAdapter)
	b.addIf(r.Selector != "", "LS_selector", r.Selector)
	b.addIf(r.Snapshot != "", "LS_snapshot", r.Snapshot)
	b.addIf(r.RequestedMaxFrequency != "", "LS_requested_max_frequency", r.RequestedMaxFrequency)
	b.addIf(r.RequestedBufferSize != "", "LS_requested_buffer_size", r.RequestedBufferSize)
	b.addIf(r.RequestedMaxBandwidth != "", "LS_requested_max_bandwidth", r.RequestedMaxBandwidth)
	return b.String()
}

// ReplacementKey identifies the batcher replacement slot (§4.4) this
// control request occupies. Requests sharing a non-empty key may
// supersede one another in the batcher queue.
func (r *ControlRequest) ReplacementKey() string {
	switch r.Op {
	case OpConstrain:
		return "constrain"
	case OpForceRebind:
		return "force_rebind"
	case OpAdd, OpDelete, OpReconf:
		return "sub:" + strconv.FormatInt(r.SubID, 10)
	case OpDestroy:
		return "destroy:" + r.TargetSessionID
	default:
		return ""
	}
}

// MessageRequest submits one ordered or unordered user message.
type MessageRequest struct {
	ReqID    int64
	Message  string
	Sequence string // empty defaults to UnorderedSequenceName on the wire
	MsgProg  int64  // position within Sequence; 0 when Sequence is unordered and unset
	MaxWait  int    // ms; 0 = omitted (server default)
	Outcome  bool   // LS_outcome; default true
	HasProg  bool   // whether MsgProg should be encoded
}

func (r *MessageRequest) Name() RequestName { return RequestMessage }
func (r *MessageRequest) RequestID() int64  { return r.ReqID }
func (r *MessageRequest) IsSessionRequest() bool { return false }

func (r *MessageRequest) Encode() string {
	var b bodyBuilder
	b.addRaw("LS_reqId", strconv.FormatInt(r.ReqID, 10))
	b.add("LS_message", r.Message)
	b.addIf(r.Sequence != "", "LS_sequence", r.Sequence)
	if r.HasProg {
		b.addRaw("LS_msg_prog", strconv.FormatInt(r.MsgProg, 10))
	}
	if r.MaxWait != 0 {
		b.addRaw("LS_max_wait", strconv.Itoa(r.MaxWait))
	}
	if !r.Outcome {
		b.addBool("LS_outcome", false)
	}
	return b.String()
}

// HeartbeatRequest is the reverse-heartbeat no-op request (§4.6).
type HeartbeatRequest struct {
	ReqID int64
}

func (r *HeartbeatRequest) Name() RequestName { return RequestHeartbeat }
func (r *HeartbeatRequest) RequestID() int64  { return r.ReqID }
func (r *HeartbeatRequest) IsSessionRequest() bool { return false }

func (r *HeartbeatRequest) Encode() string {
	var b bodyBuilder
	b.addRaw("LS_reqId", strconv.FormatInt(r.ReqID, 10))
	return b.String()
}

// UnorderedSequenceName is the reserved sequence name for fire-and-forget
// messages that do not demand ordering (§3, §4.10).
const UnorderedSequenceName = "UNORDERED_MESSAGES"
