package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

type Client struct {
	*redis.Client
	logger *zap.Logger
}

func New(ctx context.Context, config Config, logger *zap.Logger) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("could not ping redis: %w", err)
	}

	logger.Info("Redis connected", zap.String("addr", config.Addr), zap.Int("db", config.DB))
	return &Client{
		Client: client,
		logger: logger,
	}, nil
}

func (c *Client) Close() error {
	if err := c.Client.Close(); err != nil {
		c.logger.Error("could not close redis client", zap.Error(err))
		return fmt.Errorf("could not close redis client: %w", err)
	}
	c.logger.Info("redis connection closed")
	return nil
}
