package pool

import (
	"context"

	"github.com/rickgao/wallet-watch/internal/connection"
	"github.com/rickgao/wallet-watch/internal/model"
)

// event is anything the loop reacts to.
type event interface{}

// Caller requests.

type addRequest struct {
	ctx        context.Context
	address    model.Address
	subscriber model.SubscriberID
	reply      chan error
}

type removeRequest struct {
	address    model.Address
	subscriber model.SubscriberID
	reply      chan struct{}
}

type statusRequest struct {
	reply chan []ConnectionStatus
}

type subscribersRequest struct {
	address model.Address
	reply   chan []model.SubscriberID
}

type shutdownRequest struct{}

// Transport and timer events. Each carries the client instance it came from
// so events from a replaced transport can be recognised and ignored.

type dialResult struct {
	id     int
	client connection.Client
	err    error
}

type inbound struct {
	id     int
	client connection.Client
	msg    connection.TimestampedMessage
}

type transportClosed struct {
	id     int
	client connection.Client
	err    error
}

type reconnectDue struct {
	id int
}
