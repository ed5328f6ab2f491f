package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/personas-nlq/backend/pkg/logger"
)

const keyPrefix = "personas-nlq:"

// Client stores JSON snapshots shared by every service instance.
type Client struct {
	client *redis.Client
}

func NewClient(ctx context.Context, host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	_, err := client.Ping(ctx).Result()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) SetSnapshot(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	err = c.client.Set(ctx, keyPrefix+key, data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set snapshot: %w", err)
	}

	logger.Debug("Snapshot cached", zap.String("key", key), zap.Int("bytes", len(data)), zap.Duration("ttl", ttl))
	return nil
}

// GetSnapshot decodes the snapshot stored under key into out. It reports
// false without error when the key does not exist.
func (c *Client) GetSnapshot(ctx context.Context, key string, out interface{}) (bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get snapshot: %w", err)
	}

	err = json.Unmarshal(data, out)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	logger.Debug("Snapshot cache hit", zap.String("key", key))
	return true, nil
}

func (c *Client) DeleteSnapshot(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
