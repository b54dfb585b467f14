package dispatch

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/rickgao/wallet-watch/internal/model"
)

// seenSet remembers (signature, address) pairs for a bounded time.
type seenSet struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, struct{}]
}

func newSeenSet(size int, ttl time.Duration) *seenSet {
	return &seenSet{cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// firstSight records the pair and reports whether it was new.
func (s *seenSet) firstSight(signature string, address model.Address) bool {
	key := signature + "/" + address

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache.Contains(key) {
		return false
	}
	s.cache.Add(key, struct{}{})
	return true
}
