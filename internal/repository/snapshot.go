package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/msgsync/internal/logger"
	"github.com/msgsync/internal/model"
	"github.com/msgsync/internal/storage"
)

// SnapshotRepository хранит снимок списка разговоров в Postgres (store_backend: postgres).
type SnapshotRepository struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool, ttl: storage.SnapshotTTL}
}

func (r *SnapshotRepository) SaveConversations(ctx context.Context, userID string, convs []model.Conversation) error {
	defer logger.DeferLogDuration("snapshot.Save", time.Now())()
	data, err := storage.Encode(convs)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO conversation_snapshots (user_id, payload, saved_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_id) DO UPDATE SET payload = EXCLUDED.payload, saved_at = EXCLUDED.saved_at`,
		userID, data,
	)
	if err != nil {
		return fmt.Errorf("snapshotRepo.Save: %w", err)
	}
	return nil
}

// LoadConversations возвращает nil, если снимка нет или он старше TTL.
func (r *SnapshotRepository) LoadConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("snapshot.Load", time.Now())()
	var data []byte
	err := r.pool.QueryRow(ctx,
		`SELECT payload FROM conversation_snapshots WHERE user_id = $1 AND saved_at > $2`,
		userID, time.Now().Add(-r.ttl),
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshotRepo.Load: %w", err)
	}
	return storage.Decode(data)
}

// Prune удаляет снимки старше TTL.
func (r *SnapshotRepository) Prune(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM conversation_snapshots WHERE saved_at <= $1`, time.Now().Add(-r.ttl))
	if err != nil {
		return 0, fmt.Errorf("snapshotRepo.Prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close закрывает пул; репозиторий владеет им после передачи в run.
func (r *SnapshotRepository) Close() error {
	r.pool.Close()
	return nil
}
