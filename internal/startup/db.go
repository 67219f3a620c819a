package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/msgsync/internal/logger"
)

// ConnectDBWithRetry подключается к Postgres с повторами, пока не истечёт maxWait
// или не отменят ctx. logPrefix добавляется к сообщениям лога (например "store: ").
func ConnectDBWithRetry(ctx context.Context, poolCfg *pgxpool.Config, maxWait time.Duration, logPrefix string) (*pgxpool.Pool, error) {
	return retry(ctx, maxWait, logPrefix+"db", func(ctx context.Context) (*pgxpool.Pool, error) {
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pool, err := pgxpool.NewWithConfig(connCtx, poolCfg)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(connCtx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping: %w", err)
		}
		return pool, nil
	})
}

// retry повторяет connect с экспоненциальной паузой (2s, 4s, ... до 30s).
func retry[T any](ctx context.Context, maxWait time.Duration, what string, connect func(context.Context) (T, error)) (T, error) {
	deadline := time.Now().Add(maxWait)
	backoff := initialBackoff
	for {
		v, err := connect(ctx)
		if err == nil {
			return v, nil
		}
		if time.Now().After(deadline) {
			logger.Errorf("%s connect (gave up after %v): %v", what, maxWait, err)
			return v, fmt.Errorf("%s: gave up after %v: %w", what, maxWait, err)
		}
		logger.Errorf("%s connect failed, retry in %v: %v", what, backoff, err)
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

var (
	initialBackoff = 2 * time.Second
	maxBackoff     = 30 * time.Second
)
