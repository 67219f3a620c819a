package repository

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/msgsync/internal/logger"
)

// Migrate применяет встроенные .sql файлы по порядку имён. Каждый файл
// идемпотентен (IF NOT EXISTS), поэтому повторный запуск безопасен.
func Migrate(ctx context.Context, pool *pgxpool.Pool, files fs.FS) error {
	defer logger.DeferLogDuration("repository.Migrate", time.Now())()
	names, err := migrationNames(files)
	if err != nil {
		return err
	}
	for _, name := range names {
		data, err := fs.ReadFile(files, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("run migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx,
			`INSERT INTO schema_migrations (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name); err != nil {
			logger.Debugf("record migration %s: %v", name, err)
		}
	}
	logger.Infof("migrations applied: %d", len(names))
	return nil
}

func migrationNames(files fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
