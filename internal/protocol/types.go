package protocol

import (
	"encoding/json"
	"errors"
)

// Errors
var (
	ErrMalformed = errors.New("malformed message")
)

// Method names used on the wire.
const (
	MethodLogsSubscribe    = "logsSubscribe"
	MethodLogsUnsubscribe  = "logsUnsubscribe"
	MethodLogsNotification = "logsNotification"
)

// DefaultCommitment is the commitment level requested for logs subscriptions.
const DefaultCommitment = "confirmed"

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// MentionsFilter selects transactions that reference any of the listed addresses.
type MentionsFilter struct {
	Mentions []string `json:"mentions"`
}

// CommitmentConfig sets the commitment level of a subscription.
type CommitmentConfig struct {
	Commitment string `json:"commitment"`
}

// Message is one classified inbound frame. Concrete types are Ack, UnsubscribeAck,
// Notification, ErrorReply and Unknown.
type Message interface {
	isMessage()
}

// Ack confirms a subscribe request. SubscriptionID is the server-side id used
// to unsubscribe and to tag notifications.
type Ack struct {
	ID             int64
	SubscriptionID int64
}

// UnsubscribeAck confirms (or rejects) an unsubscribe request.
type UnsubscribeAck struct {
	ID int64
	OK bool
}

// Notification is a logsNotification push.
type Notification struct {
	SubscriptionID int64
	Slot           uint64
	Signature      string
	Err            json.RawMessage // nil when the transaction succeeded
	Logs           []string
}

// Failed reports whether the transaction carried a non-null err.
func (n Notification) Failed() bool {
	return len(n.Err) > 0 && string(n.Err) != "null"
}

// ErrorReply is a JSON-RPC error response. ID is zero when the server
// could not attribute the error to a request.
type ErrorReply struct {
	ID      int64
	Code    int64
	Message string
}

// Unknown is any frame that matched no other variant.
type Unknown struct {
	Raw []byte
}

func (Ack) isMessage()            {}
func (UnsubscribeAck) isMessage() {}
func (Notification) isMessage()   {}
func (ErrorReply) isMessage()     {}
func (Unknown) isMessage()        {}

// notificationEnvelope mirrors the logsNotification wire shape.
type notificationEnvelope struct {
	Params struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Signature string          `json:"signature"`
				Err       json.RawMessage `json:"err"`
				Logs      []string        `json:"logs"`
			} `json:"value"`
		} `json:"result"`
		Subscription int64 `json:"subscription"`
	} `json:"params"`
}
