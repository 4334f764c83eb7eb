package queue

import (
	"context"
	"fmt"

	"github.com/pookie0613/astech-api-gateway/internal/gatewaymsg"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "astech:queue:"

// RedisStore is the reference QueueStore backend: a FIFO list server
// accessed over the network, per spec.md §4.4. Queues are Redis
// lists; push is LPUSH (insert at head), pop is RPOP (remove from
// tail), matching the FIFO contract in spec.md §3 invariant 5.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials addr lazily (go-redis connects on first use) and
// returns a Store. Connectivity is only confirmed by Ping.
func NewRedisStore(addr string) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// NewRedisStoreWithClient wraps an already-constructed client, for
// tests that point at a miniredis instance.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func key(queue string) string {
	return keyPrefix + queue
}

func (s *RedisStore) Push(ctx context.Context, queue string, msg gatewaymsg.Message) error {
	raw, err := encode(msg)
	if err != nil {
		return fmt.Errorf("queue: encode message: %w", err)
	}
	return s.client.LPush(ctx, key(queue), raw).Err()
}

func (s *RedisStore) Pop(ctx context.Context, queue string) (gatewaymsg.Message, bool, error) {
	raw, err := s.client.RPop(ctx, key(queue)).Result()
	if err == redis.Nil {
		return gatewaymsg.Message{}, false, nil
	}
	if err != nil {
		return gatewaymsg.Message{}, false, err
	}
	msg, err := decode(raw)
	if err != nil {
		return gatewaymsg.Message{}, false, fmt.Errorf("queue: decode message: %w", err)
	}
	return msg, true, nil
}

// Peek returns up to limit items from the tail end (the next items a
// Pop would return), without removing them.
func (s *RedisStore) Peek(ctx context.Context, queue string, limit int) ([]gatewaymsg.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	raws, err := s.client.LRange(ctx, key(queue), -int64(limit), -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]gatewaymsg.Message, 0, len(raws))
	// LRange returns tail-end items in head-to-tail order; reverse so
	// the first element is the one the next Pop would return.
	for i := len(raws) - 1; i >= 0; i-- {
		msg, err := decode(raws[i])
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Remove does a linear scan of queue looking for the first message
// with the given id, removing and returning it.
func (s *RedisStore) Remove(ctx context.Context, queue string, id string) (gatewaymsg.Message, error) {
	raws, err := s.client.LRange(ctx, key(queue), 0, -1).Result()
	if err != nil {
		return gatewaymsg.Message{}, err
	}
	for _, raw := range raws {
		msg, err := decode(raw)
		if err != nil {
			continue
		}
		if msg.ID != id {
			continue
		}
		removed, err := s.client.LRem(ctx, key(queue), 1, raw).Result()
		if err != nil {
			return gatewaymsg.Message{}, err
		}
		if removed == 0 {
			// Another caller popped or removed it after the scan.
			continue
		}
		return msg, nil
	}
	return gatewaymsg.Message{}, ErrNotFound
}

func (s *RedisStore) Length(ctx context.Context, queue string) (int64, error) {
	return s.client.LLen(ctx, key(queue)).Result()
}

func (s *RedisStore) Purge(ctx context.Context, queue string) error {
	return s.client.Del(ctx, key(queue)).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
