package pubsub

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/lanternhq/lantern-api/pkg/logger"
)

// RedisBus implements Bus on Redis pub/sub so multiple instances share one
// event stream.
type RedisBus struct {
	client *redis.Client
	log    *logger.Logger
}

var _ Bus = (*RedisBus)(nil)

// NewRedisBus wraps an existing Redis client.
func NewRedisBus(client *redis.Client, log *logger.Logger) *RedisBus {
	if log == nil {
		log = logger.NewDefault("pubsub-redis")
	}
	return &RedisBus{client: client, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.client.Publish(ctx, topic, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string) (<-chan Message, func(), error) {
	sub := b.client.Subscribe(ctx, topic)

	// Wait for the subscription to be confirmed so publishes after this
	// call are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan Message, 64)
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := sub.Close(); err != nil {
				b.log.WithError(err).Warn("closing redis subscription")
			}
		})
	}

	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}:
				default:
					b.log.WithField("topic", msg.Channel).Warn("subscriber buffer full, dropping message")
				}
			}
		}
	}()

	return out, cancel, nil
}
