package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msgsync/internal/config"
	"github.com/msgsync/internal/push"
)

func TestSetupPushPrefersService(t *testing.T) {
	p, key := setupPush(&config.Config{UserID: "u1", PushServiceURL: "http://push.local/"})
	require.NotNil(t, p)
	assert.IsType(t, &push.Client{}, p)
	assert.Empty(t, key, "the service keeps its own VAPID keys")
}

func TestSetupPushFallsBackToWebPush(t *testing.T) {
	dir := t.TempDir()
	p, key := setupPush(&config.Config{
		UserID:               "u1",
		VAPIDKeysFile:        filepath.Join(dir, "vapid.json"),
		PushSubscriptionFile: filepath.Join(dir, "subs.json"),
	})
	require.NotNil(t, p)
	assert.IsType(t, &push.WebPush{}, p)
	assert.NotEmpty(t, key)
}
