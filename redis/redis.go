package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var Client *redis.Client

// Connect opens the shared client and checks the connection.
func Connect(ctx context.Context, addr string, log *zap.Logger) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: connect %s: %w", addr, err)
	}
	Client = c
	log.Info("connected to redis", zap.String("addr", addr))
	return c, nil
}
