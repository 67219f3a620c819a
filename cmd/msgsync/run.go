package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/msgsync/internal/api"
	"github.com/msgsync/internal/config"
	"github.com/msgsync/internal/conversations"
	"github.com/msgsync/internal/handler"
	"github.com/msgsync/internal/logger"
	"github.com/msgsync/internal/messenger"
	"github.com/msgsync/internal/middleware"
	"github.com/msgsync/internal/push"
	"github.com/msgsync/internal/repository"
	"github.com/msgsync/internal/startup"
	"github.com/msgsync/internal/storage"
	"github.com/msgsync/internal/storage/memory"
	"github.com/msgsync/internal/ws"
	"github.com/msgsync/migrations"
)

func run(ctx context.Context, cfg *config.Config, dev bool) error {
	logger.Infof("starting: user=%s api=%s ws=%s store=%s token=%s",
		cfg.UserID, cfg.APIBaseURL, cfg.WSURL, cfg.StoreBackend, middleware.MaskSecret(cfg.AuthToken))

	store, closeStore, err := openStore(ctx, cfg, dev)
	if err != nil {
		return err
	}
	defer closeStore()

	pushes, vapidPublic := setupPush(cfg)

	header := http.Header{}
	if cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}
	socket := ws.NewManager(ws.Options{
		URL:              cfg.WSURL,
		Header:           header,
		UserID:           cfg.UserID,
		LivenessInterval: cfg.LivenessInterval,
		MinDialInterval:  cfg.ReconnectMinInterval,
	})

	opts := messenger.Options{
		UserID:               cfg.UserID,
		UserName:             cfg.UserName,
		ConversationPageSize: cfg.ConversationPageSize,
		MessagePageSize:      cfg.MessagePageSize,
		TypingIdle:           cfg.TypingIdle,
		TypingTTL:            cfg.TypingTTL,
		ReconcileInterval:    cfg.ReconcileInterval,
		Backend:              api.NewClient(cfg.APIBaseURL, cfg.AuthToken, cfg.RequestTimeout),
		Socket:               socket,
		Store:                store,
	}
	if pushes != nil {
		opts.Notifier = pushes
	}
	core := messenger.New(opts)

	deps := handler.Deps{Config: cfg, Core: core, VAPIDPublicKey: vapidPublic}
	if pushes != nil {
		deps.Push = pushes
	}
	srv := &http.Server{
		Addr:              cfg.BridgeAddr,
		Handler:           handler.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		socket.Run(gctx)
		return nil
	})
	g.Go(func() error {
		// Сокет может ещё подключаться: список всё равно грузится по REST.
		if err := core.Start(gctx); err != nil {
			logger.Warnf("initial load: %v", err)
		}
		core.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Infof("bridge listening on %s", cfg.BridgeAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("bridge: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("bridge shutdown: %v", err)
		}
		core.Close()
		return nil
	})
	err = g.Wait()
	logger.Info("stopped")
	return err
}

// pusher: то, что умеют оба варианта push: подписки от UI и уведомления.
type pusher interface {
	handler.Subscriptions
	conversations.Notifier
}

// setupPush: внешний push-сервис, если задан PUSH_SERVICE_URL, иначе Web Push
// напрямую. Без ключей уведомления просто выключены.
func setupPush(cfg *config.Config) (pusher, string) {
	if c := push.NewClient(cfg.PushServiceURL, cfg.UserID); c.Enabled() {
		logger.Infof("push: via %s", cfg.PushServiceURL)
		return c, ""
	}
	keys, err := push.EnsureVAPIDKeys(cfg.VAPIDKeysFile)
	if err != nil {
		logger.Warnf("push: disabled, VAPID keys: %v", err)
		return nil, ""
	}
	wp, err := push.NewWebPush(keys, cfg.PushSubscriber, cfg.PushSubscriptionFile)
	if err != nil {
		logger.Warnf("push: disabled: %v", err)
		return nil, ""
	}
	return wp, wp.PublicKey()
}

type postgres struct {
	pool     *pgxpool.Pool
	repo     *repository.SnapshotRepository
	embedded *embeddedpostgres.EmbeddedPostgres
}

func (p *postgres) close() {
	p.pool.Close()
	if p.embedded != nil {
		logger.Info("stopping embedded postgres...")
		if err := p.embedded.Stop(); err != nil {
			logger.Errorf("embedded postgres stop: %v", err)
		}
	}
}

// openPostgres подключается (при dev, сначала поднимает встроенный PostgreSQL)
// и применяет миграции.
func openPostgres(ctx context.Context, cfg *config.Config, dev bool) (*postgres, error) {
	p := &postgres{}
	if dev {
		db, err := startEmbeddedPostgres(cfg)
		if err != nil {
			return nil, fmt.Errorf("embedded postgres: %w", err)
		}
		p.embedded = db
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		p.stopEmbedded()
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	pool, err := startup.ConnectDBWithRetry(ctx, poolCfg, 60*time.Second, "store: ")
	if err != nil {
		p.stopEmbedded()
		return nil, err
	}
	p.pool = pool
	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := repository.Migrate(migrateCtx, pool, migrations.Files); err != nil {
		p.close()
		return nil, err
	}
	p.repo = repository.NewSnapshotRepository(pool)
	return p, nil
}

func (p *postgres) stopEmbedded() {
	if p.embedded != nil {
		_ = p.embedded.Stop()
	}
}

func openStore(ctx context.Context, cfg *config.Config, dev bool) (storage.SnapshotStore, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		c, err := startup.ConnectRedisWithRetry(ctx, cfg.RedisURL, 30*time.Second, "store: ")
		if err != nil {
			return nil, nil, err
		}
		return c, func() { _ = c.Close() }, nil
	case config.StorePostgres:
		pg, err := openPostgres(ctx, cfg, dev)
		if err != nil {
			return nil, nil, err
		}
		if n, err := pg.repo.Prune(ctx); err != nil {
			logger.Warnf("store: prune: %v", err)
		} else if n > 0 {
			logger.Infof("store: pruned %d expired snapshots", n)
		}
		return pg.repo, pg.close, nil
	default:
		return memory.New(), func() {}, nil
	}
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5433
		user     = "msgsync"
		password = "msgsync_secret"
		database = "msgsync"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "msgsync-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
