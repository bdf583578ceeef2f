// Package dedup suppresses repeat processing of inbound messages.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/patrickmn/go-cache"
)

const DefaultWindow = 15 * time.Second

// Checker reports whether (sender, content) was already seen inside the
// window, recording it when it was not. The check and the insert are one
// atomic step per fingerprint.
type Checker interface {
	Check(ctx context.Context, senderID, content string) (duplicate bool, err error)
	Window() time.Duration
}

// Fingerprint hashes the sender and the content. Content is compared
// byte for byte; near duplicates are distinct messages.
func Fingerprint(senderID, content string) string {
	h := sha256.New()
	h.Write([]byte(senderID))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// Cache is the in-process checker on go-cache. There is no janitor:
// expired fingerprints are swept on every insert.
type Cache struct {
	items  *cache.Cache
	window time.Duration
}

func NewCache(window time.Duration) *Cache {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Cache{items: cache.New(window, 0), window: window}
}

func (c *Cache) Window() time.Duration { return c.window }

func (c *Cache) Check(_ context.Context, senderID, content string) (bool, error) {
	return c.Seen(senderID, content), nil
}

// Seen is Check without the context, for in-process callers. Add fails
// only for a live fingerprint, which makes check-and-insert one step.
func (c *Cache) Seen(senderID, content string) bool {
	c.items.DeleteExpired()
	return c.items.Add(Fingerprint(senderID, content), struct{}{}, cache.DefaultExpiration) != nil
}

// Len counts fingerprints, including expired ones not yet swept.
func (c *Cache) Len() int { return c.items.ItemCount() }

func (c *Cache) Clear() { c.items.Flush() }
