package startup

import (
	"context"
	"time"

	redisstorage "github.com/msgsync/internal/storage/redis"
)

// ConnectRedisWithRetry подключается к Redis с повторами.
func ConnectRedisWithRetry(ctx context.Context, redisURL string, maxWait time.Duration, logPrefix string) (*redisstorage.Client, error) {
	return retry(ctx, maxWait, logPrefix+"redis", func(ctx context.Context) (*redisstorage.Client, error) {
		connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return redisstorage.New(connCtx, redisURL)
	})
}
