package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]ContextStore {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return map[string]ContextStore{
		"redis":  NewRedisContextStore(client, "", time.Hour),
		"memory": NewMemoryContextStore(),
	}
}

func TestContextAccumulatesTurns(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Update(ctx, Update{Phone: "5511999999999", Inbound: "oi", Reply: "Olá!", At: at}))
			require.NoError(t, store.Update(ctx, Update{Phone: "5511999999999", Inbound: "preço?", Reply: "R$ 89", At: at.Add(time.Minute)}))

			c, err := store.Get(ctx, "5511999999999")
			require.NoError(t, err)
			require.NotNil(t, c)
			assert.Equal(t, int64(2), c.Turns)
			assert.Equal(t, "preço?", c.LastInbound)
			assert.Equal(t, "R$ 89", c.LastReply)
			assert.True(t, c.LastAt.Equal(at.Add(time.Minute)))
		})
	}
}

func TestUnknownPhoneIsNil(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			c, err := store.Get(context.Background(), "5511000000001")
			require.NoError(t, err)
			assert.Nil(t, c)
			assert.ErrorIs(t, store.Update(context.Background(), Update{}), ErrNoPhone)
		})
	}
}

func TestRedisContextExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewRedisContextStore(client, "", time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, Update{Phone: "5511999999999", At: time.Now()}))
	mr.FastForward(2 * time.Hour)

	c, err := store.Get(ctx, "5511999999999")
	require.NoError(t, err)
	assert.Nil(t, c)
}
