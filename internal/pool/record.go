package pool

import (
	"context"
	"log/slog"
	"sort"

	"github.com/rickgao/wallet-watch/internal/connection"
	"github.com/rickgao/wallet-watch/internal/model"
)

// ConnectionStatus is a read-only view of one connection record.
type ConnectionStatus struct {
	ID                int    `json:"id"`
	State             string `json:"state"`
	WalletCount       int    `json:"wallet_count"`
	IsReconnecting    bool   `json:"is_reconnecting"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
}

// binding is one wallet held by a record.
type binding struct {
	requestID      int64 // subscribe request in flight or acknowledged; 0 before the first send
	subscriptionID int64 // server subscription id; 0 until acknowledged
}

// waiter is an Add call parked on a record that is still opening.
type waiter struct {
	ctx        context.Context // the Add call's context; once done the caller has left
	address    model.Address
	subscriber model.SubscriberID
	added      bool // the call inserted subscriber into the registry
	reply      chan error
}

// record is one logical connection. Its id survives reconnection; client is
// replaced on every attempt.
type record struct {
	id     int
	client connection.Client // nil while waiting for a backoff timer
	open   bool              // current client finished its handshake
	opened bool              // some client for this id has been open

	wallets  map[model.Address]*binding
	requests map[int64]model.Address // subscribe request id -> address
	subs     map[int64]model.Address // server subscription id -> address
	waiters  []waiter

	reconnectAttempts int
	isReconnecting    bool

	logger *slog.Logger
}

func newRecord(id int, logger *slog.Logger) *record {
	return &record{
		id:       id,
		wallets:  make(map[model.Address]*binding),
		requests: make(map[int64]model.Address),
		subs:     make(map[int64]model.Address),
		logger:   logger.With("conn_id", id),
	}
}

func (r *record) holds(address model.Address) bool {
	_, ok := r.wallets[address]
	return ok
}

// addresses returns held wallets in lexical order.
func (r *record) addresses() []model.Address {
	out := make([]model.Address, 0, len(r.wallets))
	for addr := range r.wallets {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// resetSubscriptions forgets every server-side subscription. Wallets stay
// held; they are resubscribed when a new transport opens.
func (r *record) resetSubscriptions() {
	r.requests = make(map[int64]model.Address)
	r.subs = make(map[int64]model.Address)
	for _, b := range r.wallets {
		b.requestID = 0
		b.subscriptionID = 0
	}
}

func (r *record) transportState() connection.State {
	if r.client == nil {
		return connection.StateClosed
	}
	return r.client.State()
}

func (r *record) status() ConnectionStatus {
	return ConnectionStatus{
		ID:                r.id,
		State:             r.transportState().String(),
		WalletCount:       len(r.wallets),
		IsReconnecting:    r.isReconnecting,
		ReconnectAttempts: r.reconnectAttempts,
	}
}
