// Package registry maps watched wallet addresses to the subscribers that
// asked for them. Entries live independently of whichever connection
// currently carries the address.
//
// A Registry is not safe for concurrent use; the pool loop owns it.
package registry

import (
	"sort"

	"github.com/rickgao/wallet-watch/internal/model"
)

// Registry is address -> set of subscriber ids.
type Registry struct {
	entries map[model.Address]map[model.SubscriberID]struct{}
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[model.Address]map[model.SubscriberID]struct{})}
}

// Add records subscriber for address. It reports whether the subscriber was
// newly added and whether the address entry was newly created.
func (r *Registry) Add(address model.Address, subscriber model.SubscriberID) (added, created bool) {
	subs, ok := r.entries[address]
	if !ok {
		subs = make(map[model.SubscriberID]struct{})
		r.entries[address] = subs
		created = true
	}
	if _, exists := subs[subscriber]; exists {
		return false, created
	}
	subs[subscriber] = struct{}{}
	return true, created
}

// Remove deletes subscriber from address. It reports whether the entry
// became empty and was dropped. Unknown pairs are a no-op.
func (r *Registry) Remove(address model.Address, subscriber model.SubscriberID) (emptied bool) {
	subs, ok := r.entries[address]
	if !ok {
		return false
	}
	if _, exists := subs[subscriber]; !exists {
		return false
	}
	delete(subs, subscriber)
	if len(subs) == 0 {
		delete(r.entries, address)
		return true
	}
	return false
}

// Has reports whether address has at least one subscriber.
func (r *Registry) Has(address model.Address) bool {
	return len(r.entries[address]) > 0
}

// Subscribers returns the subscribers of address in ascending order.
func (r *Registry) Subscribers(address model.Address) []model.SubscriberID {
	subs := r.entries[address]
	if len(subs) == 0 {
		return nil
	}
	out := make([]model.SubscriberID, 0, len(subs))
	for id := range subs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of watched addresses.
func (r *Registry) Len() int {
	return len(r.entries)
}
