package dedup

import (
	"time"

	"github.com/patrickmn/go-cache"
)

const DefaultMessageIDTTL = time.Hour

// MessageIDGuard drops envelopes the transport delivers twice with the same
// message id, independent of the content window.
type MessageIDGuard struct {
	cache *cache.Cache
}

func NewMessageIDGuard(ttl time.Duration) *MessageIDGuard {
	if ttl <= 0 {
		ttl = DefaultMessageIDTTL
	}
	return &MessageIDGuard{cache: cache.New(ttl, ttl/2)}
}

// Seen records id and reports whether it was already there. Empty ids are
// never considered seen.
func (g *MessageIDGuard) Seen(id string) bool {
	if id == "" {
		return false
	}
	return g.cache.Add(id, struct{}{}, cache.DefaultExpiration) != nil
}

func (g *MessageIDGuard) Len() int { return g.cache.ItemCount() }

func (g *MessageIDGuard) Clear() { g.cache.Flush() }
