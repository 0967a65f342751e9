// Package bus carries trades between the feed, the persister and the live
// engine over Redis: a pub/sub channel for broadcast and two lists for the
// durable work queue and its retry side queue.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"binance-market-stream-go/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNoMessage is returned by Pop when the blocking wait timed out empty.
var ErrNoMessage = errors.New("no message")

// Message is one item popped from a queue.
type Message struct {
	Queue   string
	Payload []byte
}

// Retry reports whether the message came from the retry queue.
func (m Message) Retry(q *Queue) bool {
	return m.Queue == q.retry
}

// NewClient opens and pings a Redis client.
func NewClient(ctx context.Context, cfg *config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		ReadTimeout:  3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Publisher fans a raw trade message out to the broadcast channel and the
// durable queue.
type Publisher struct {
	client  redis.UniversalClient
	channel string
	queue   string
}

// NewPublisher creates a Publisher for the configured channel and queue.
func NewPublisher(client redis.UniversalClient, cfg *config.Redis) *Publisher {
	return &Publisher{client: client, channel: cfg.Channel, queue: cfg.Queue}
}

// Publish sends payload to both destinations inside one MULTI/EXEC so a
// single round trip covers the pair.
func (p *Publisher) Publish(ctx context.Context, payload []byte) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, p.channel, payload)
		pipe.RPush(ctx, p.queue, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish trade: %w", err)
	}
	return nil
}

// Queue is the durable work queue plus its retry side queue.
type Queue struct {
	client  redis.UniversalClient
	primary string
	retry   string
	timeout time.Duration
}

// NewQueue creates a Queue over the configured list keys.
func NewQueue(client redis.UniversalClient, cfg *config.Redis) *Queue {
	timeout := cfg.PopTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Queue{client: client, primary: cfg.Queue, retry: cfg.RetryQueue, timeout: timeout}
}

// Pop blocks until an item is available on either list, primary first.
// It returns ErrNoMessage when the wait times out so callers can observe
// context cancellation between waits.
func (q *Queue) Pop(ctx context.Context) (Message, error) {
	res, err := q.client.BRPop(ctx, q.timeout, q.primary, q.retry).Result()
	if errors.Is(err, redis.Nil) {
		return Message{}, ErrNoMessage
	}
	if err != nil {
		return Message{}, fmt.Errorf("failed to pop from queue: %w", err)
	}
	// BRPOP replies with [key, value].
	return Message{Queue: res[0], Payload: []byte(res[1])}, nil
}

// PushRetry appends payloads to the retry queue.
func (q *Queue) PushRetry(ctx context.Context, payloads ...[]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	values := make([]interface{}, len(payloads))
	for i, p := range payloads {
		values[i] = p
	}
	if err := q.client.LPush(ctx, q.retry, values...).Err(); err != nil {
		return fmt.Errorf("failed to push %d items to retry queue: %w", len(payloads), err)
	}
	return nil
}

// Depth returns the lengths of the primary and retry queues.
func (q *Queue) Depth(ctx context.Context) (primary, retry int64, err error) {
	pipe := q.client.Pipeline()
	p := pipe.LLen(ctx, q.primary)
	r := pipe.LLen(ctx, q.retry)
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return p.Val(), r.Val(), nil
}

// Subscriber delivers raw broadcast messages.
type Subscriber struct {
	client  redis.UniversalClient
	channel string
	logger  *zap.Logger
}

// NewSubscriber creates a Subscriber on the configured channel.
func NewSubscriber(client redis.UniversalClient, cfg *config.Redis, logger *zap.Logger) *Subscriber {
	return &Subscriber{client: client, channel: cfg.Channel, logger: logger.Named("subscriber")}
}

// Subscribe streams payloads into out until ctx is done. The Redis
// subscription is established before Subscribe returns.
func (s *Subscriber) Subscribe(ctx context.Context, out chan<- []byte) error {
	sub := s.client.Subscribe(ctx, s.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}
	s.logger.Info("Subscribed to trade channel", zap.String("channel", s.channel))

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					s.logger.Warn("Subscription channel closed")
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return nil
}
