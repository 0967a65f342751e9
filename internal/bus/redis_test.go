package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"binance-market-stream-go/internal/config"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client, *config.Redis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.Redis{
		Addr:       mr.Addr(),
		Channel:    "trade-channel",
		Queue:      "trade-queue",
		RetryQueue: "trade-retry-queue",
		PopTimeout: 50 * time.Millisecond,
	}
	return mr, client, cfg
}

func TestPublisher_Publish(t *testing.T) {
	mr, client, cfg := setupRedis(t)
	ctx := context.Background()

	received := make(chan []byte, 1)
	sub := NewSubscriber(client, cfg, zap.NewNop())
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	require.NoError(t, sub.Subscribe(subCtx, received))

	pub := NewPublisher(client, cfg)
	require.NoError(t, pub.Publish(ctx, []byte(`{"stream":"btcusdt@trade"}`)))

	items, err := mr.List("trade-queue")
	require.NoError(t, err)
	assert.Equal(t, []string{`{"stream":"btcusdt@trade"}`}, items)

	select {
	case msg := <-received:
		assert.Equal(t, `{"stream":"btcusdt@trade"}`, string(msg))
	case <-time.After(time.Second):
		t.Fatal("broadcast message not received")
	}
}

func TestQueue_PopOrder(t *testing.T) {
	mr, client, cfg := setupRedis(t)
	ctx := context.Background()
	q := NewQueue(client, cfg)

	_, err := mr.Push("trade-queue", "a", "b")
	require.NoError(t, err)
	require.NoError(t, q.PushRetry(ctx, []byte("r1")))

	// RPUSH + BRPOP pops from the tail; the primary list wins over retry.
	msg, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", string(msg.Payload))
	assert.False(t, msg.Retry(q))

	msg, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", string(msg.Payload))

	msg, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", string(msg.Payload))
	assert.True(t, msg.Retry(q))
}

func TestQueue_PopEmpty(t *testing.T) {
	_, client, cfg := setupRedis(t)
	q := NewQueue(client, cfg)

	_, err := q.Pop(context.Background())
	assert.True(t, errors.Is(err, ErrNoMessage))
}

func TestQueue_PushRetryAndDepth(t *testing.T) {
	mr, client, cfg := setupRedis(t)
	ctx := context.Background()
	q := NewQueue(client, cfg)

	require.NoError(t, q.PushRetry(ctx))
	require.NoError(t, q.PushRetry(ctx, []byte("x"), []byte("y")))
	_, err := mr.Push("trade-queue", "p")
	require.NoError(t, err)

	primary, retry, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), primary)
	assert.Equal(t, int64(2), retry)
}

func TestNewClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewClient(context.Background(), &config.Redis{Addr: addr})
	assert.Error(t, err)
}
