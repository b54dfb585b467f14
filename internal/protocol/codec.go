package protocol

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/tidwall/gjson"
)

// requestSeq backs request ids for every Codec in the process.
var requestSeq atomic.Int64

// NextID returns a process-unique, monotonically increasing request id.
func NextID() int64 {
	return requestSeq.Add(1)
}

// Codec builds request frames for one commitment level.
type Codec struct {
	commitment string
}

// NewCodec creates a Codec. An empty commitment selects DefaultCommitment.
func NewCodec(commitment string) *Codec {
	if commitment == "" {
		commitment = DefaultCommitment
	}
	return &Codec{commitment: commitment}
}

// Subscribe builds a logsSubscribe frame for address.
func (c *Codec) Subscribe(address string) (int64, []byte, error) {
	req := Request{
		JSONRPC: "2.0",
		ID:      NextID(),
		Method:  MethodLogsSubscribe,
		Params: []interface{}{
			MentionsFilter{Mentions: []string{address}},
			CommitmentConfig{Commitment: c.commitment},
		},
	}

	data, err := json.Marshal(req)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal subscribe: %w", err)
	}
	return req.ID, data, nil
}

// Unsubscribe builds a logsUnsubscribe frame for a server subscription id.
func (c *Codec) Unsubscribe(subscriptionID int64) (int64, []byte, error) {
	req := Request{
		JSONRPC: "2.0",
		ID:      NextID(),
		Method:  MethodLogsUnsubscribe,
		Params:  []interface{}{subscriptionID},
	}

	data, err := json.Marshal(req)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal unsubscribe: %w", err)
	}
	return req.ID, data, nil
}

// Classify decides the variant of an inbound frame.
// Frames that are not valid JSON objects return ErrMalformed.
func Classify(data []byte) (Message, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrMalformed
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, ErrMalformed
	}

	if root.Get("method").String() == MethodLogsNotification {
		var env notificationEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		v := env.Params.Result.Value
		return Notification{
			SubscriptionID: env.Params.Subscription,
			Slot:           env.Params.Result.Context.Slot,
			Signature:      v.Signature,
			Err:            v.Err,
			Logs:           v.Logs,
		}, nil
	}

	if e := root.Get("error"); e.Exists() && e.Type != gjson.Null {
		return ErrorReply{
			ID:      root.Get("id").Int(),
			Code:    e.Get("code").Int(),
			Message: e.Get("message").String(),
		}, nil
	}

	id := root.Get("id")
	result := root.Get("result")
	if id.Type == gjson.Number && result.Exists() {
		switch result.Type {
		case gjson.Number:
			return Ack{ID: id.Int(), SubscriptionID: result.Int()}, nil
		case gjson.True, gjson.False:
			return UnsubscribeAck{ID: id.Int(), OK: result.Bool()}, nil
		}
	}

	return Unknown{Raw: data}, nil
}
