package service

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Notifier - широковещательный сигнал шлюзам.
type Notifier interface {
	Notify(ctx context.Context, channel, payload string) error
}

// RedisNotifier публикует сигналы через Redis Pub/Sub.
type RedisNotifier struct {
	rdb *redis.Client
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

func (n *RedisNotifier) Notify(ctx context.Context, channel, payload string) error {
	return n.rdb.Publish(ctx, channel, payload).Err()
}
