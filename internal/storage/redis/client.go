package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/msgsync/internal/model"
	"github.com/msgsync/internal/storage"
)

const keyPrefix = "conv_snapshot:"

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// SaveConversations пишет снимок по ключу conv_snapshot:{userID} с TTL.
func (c *Client) SaveConversations(ctx context.Context, userID string, convs []model.Conversation) error {
	data, err := storage.Encode(convs)
	if err != nil {
		return err
	}
	if err := c.cli.Set(ctx, keyPrefix+userID, data, storage.SnapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis save snapshot: %w", err)
	}
	return nil
}

func (c *Client) LoadConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	data, err := c.cli.Get(ctx, keyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis load snapshot: %w", err)
	}
	return storage.Decode(data)
}

// FlushDB очищает текущую БД Redis (для тестов).
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
