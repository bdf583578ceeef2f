// Package scoring keeps the per-lead conversation context consumed by the
// offer optimizer: how many turns, what was said last and when.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL    = 7 * 24 * time.Hour
	defaultPrefix = "wa:ctx:"
)

type Context struct {
	Phone       string    `json:"phone"`
	Turns       int64     `json:"turns"`
	LastInbound string    `json:"lastInbound"`
	LastReply   string    `json:"lastReply"`
	LastAt      time.Time `json:"lastAt"`
}

type Update struct {
	Phone   string
	Inbound string
	Reply   string
	At      time.Time
}

type ContextStore interface {
	Update(ctx context.Context, u Update) error
	// Get returns nil, nil for an unknown phone.
	Get(ctx context.Context, phone string) (*Context, error)
}

var ErrNoPhone = errors.New("scoring: phone is required")

// RedisContextStore keeps one hash per phone that expires after ttl of
// silence.
type RedisContextStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisContextStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisContextStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisContextStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisContextStore) Update(ctx context.Context, u Update) error {
	if u.Phone == "" {
		return ErrNoPhone
	}
	key := s.prefix + u.Phone
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, key, "turns", 1)
		p.HSet(ctx, key,
			"last_inbound", u.Inbound,
			"last_reply", u.Reply,
			"last_at", u.At.UTC().Format(time.RFC3339Nano),
		)
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update scoring context %s: %w", u.Phone, err)
	}
	return nil
}

func (s *RedisContextStore) Get(ctx context.Context, phone string) (*Context, error) {
	fields, err := s.client.HGetAll(ctx, s.prefix+phone).Result()
	if err != nil {
		return nil, fmt.Errorf("read scoring context %s: %w", phone, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	c := &Context{Phone: phone, LastInbound: fields["last_inbound"], LastReply: fields["last_reply"]}
	c.Turns, _ = strconv.ParseInt(fields["turns"], 10, 64)
	c.LastAt, _ = time.Parse(time.RFC3339Nano, fields["last_at"])
	return c, nil
}

// MemoryContextStore is used when no redis is configured.
type MemoryContextStore struct {
	mu   sync.Mutex
	data map[string]*Context
}

func NewMemoryContextStore() *MemoryContextStore {
	return &MemoryContextStore{data: make(map[string]*Context)}
}

func (s *MemoryContextStore) Update(_ context.Context, u Update) error {
	if u.Phone == "" {
		return ErrNoPhone
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data[u.Phone]
	if !ok {
		c = &Context{Phone: u.Phone}
		s.data[u.Phone] = c
	}
	c.Turns++
	c.LastInbound, c.LastReply, c.LastAt = u.Inbound, u.Reply, u.At
	return nil
}

func (s *MemoryContextStore) Get(_ context.Context, phone string) (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data[phone]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}
