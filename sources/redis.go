package sources

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/streamrpc-go/stream"
)

// RedisChannel emits the payload of every message published on channel
// after the subscription is confirmed. The stream completes if the
// subscription is closed from the Redis side.
func RedisChannel(rdb redis.UniversalClient, channel string) stream.Stream {
	return stream.Create(func(ctx context.Context, e stream.Emitter) error {
		ps := rdb.Subscribe(ctx, channel)
		defer ps.Close()
		if _, err := ps.Receive(ctx); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
		}

		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case msg, ok := <-ch:
				if !ok {
					return nil
				}
				if err := e.Next(msg.Payload); err != nil {
					return err
				}
			}
		}
	})
}
