package memory

import (
	"context"
	"sync"
	"time"

	"github.com/msgsync/internal/model"
	"github.com/msgsync/internal/storage"
)

type item struct {
	val []byte
	exp time.Time
}

// Client держит снимки в памяти процесса (по умолчанию и в тестах).
type Client struct {
	mu    sync.RWMutex
	snaps map[string]item
	ttl   time.Duration
}

func New() *Client {
	return &Client{snaps: make(map[string]item), ttl: storage.SnapshotTTL}
}

func (c *Client) Close() error { return nil }

func (c *Client) SaveConversations(ctx context.Context, userID string, convs []model.Conversation) error {
	data, err := storage.Encode(convs)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[userID] = item{val: data, exp: time.Now().Add(c.ttl)}
	return nil
}

func (c *Client) LoadConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	c.mu.RLock()
	v, ok := c.snaps[userID]
	c.mu.RUnlock()
	if !ok || time.Now().After(v.exp) {
		return nil, nil
	}
	return storage.Decode(v.val)
}
