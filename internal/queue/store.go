// Package queue implements the durable request queue: a FIFO store
// over "main" and "dead_letter" lists, backed by Redis, with a
// best-effort in-memory fallback when Redis is unreachable.
package queue

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/pookie0613/astech-api-gateway/internal/gatewaymsg"
)

// ErrNotFound is returned by Remove when no message with the given id
// exists in the named queue.
var ErrNotFound = errors.New("queue: message not found")

// Store is the queue backend contract, implemented by RedisStore
// (CacheFallback is a separate type, not a Store). Each operation is
// atomic with respect to concurrent callers on the same queue name.
type Store interface {
	Push(ctx context.Context, queue string, msg gatewaymsg.Message) error
	Pop(ctx context.Context, queue string) (gatewaymsg.Message, bool, error)
	Peek(ctx context.Context, queue string, limit int) ([]gatewaymsg.Message, error)
	Remove(ctx context.Context, queue string, id string) (gatewaymsg.Message, error)
	Length(ctx context.Context, queue string) (int64, error)
	Purge(ctx context.Context, queue string) error
	Ping(ctx context.Context) error
}

func encode(msg gatewaymsg.Message) (string, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decode(raw string) (gatewaymsg.Message, error) {
	var msg gatewaymsg.Message
	err := json.Unmarshal([]byte(raw), &msg)
	return msg, err
}
