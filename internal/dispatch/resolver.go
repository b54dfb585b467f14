package dispatch

import (
	"context"

	"github.com/rickgao/wallet-watch/internal/model"
)

// Resolution strategies.
const (
	ResolveBySigner       = "signer"
	ResolveBySubscription = "subscription"
)

// OwnerResolver decides which wallet a notification belongs to.
type OwnerResolver interface {
	Owner(ctx context.Context, ev model.TransactionEvent) (model.Address, error)
}

// SignerLookup returns the fee payer of a transaction. *rpc.Client satisfies it.
type SignerLookup interface {
	SignerOf(ctx context.Context, signature string) (string, error)
}

// SignerResolver attributes a notification to the transaction's signer.
type SignerResolver struct {
	Lookup SignerLookup
}

func (r SignerResolver) Owner(ctx context.Context, ev model.TransactionEvent) (model.Address, error) {
	return r.Lookup.SignerOf(ctx, ev.Signature)
}

// SubscriptionResolver attributes a notification to the wallet whose
// subscription delivered it.
type SubscriptionResolver struct{}

func (SubscriptionResolver) Owner(_ context.Context, ev model.TransactionEvent) (model.Address, error) {
	return ev.Address, nil
}
