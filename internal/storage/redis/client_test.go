package redis

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msgsync/internal/model"
	"github.com/msgsync/internal/storage"
)

var _ storage.SnapshotStore = (*Client)(nil)

// Needs a disposable Redis: MSGSYNC_TEST_REDIS_URL=redis://localhost:6379/15
func TestSaveLoadConversations(t *testing.T) {
	url := os.Getenv("MSGSYNC_TEST_REDIS_URL")
	if url == "" {
		t.Skip("MSGSYNC_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	c, err := New(ctx, url)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.FlushDB(ctx))

	got, err := c.LoadConversations(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.SaveConversations(ctx, "u1", []model.Conversation{{ID: "c1", UnreadCount: 2}}))
	got, err = c.LoadConversations(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].UnreadCount)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(context.Background(), "not-a-url")
	assert.Error(t, err)
}
