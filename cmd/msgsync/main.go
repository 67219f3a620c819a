// Command msgsync запускает ядро синхронизации мессенджера для одного
// пользователя и локальный bridge API, через который UI читает состояние.
//
//	msgsync run            # ядро + bridge API
//	msgsync run --dev      # то же со встроенным PostgreSQL для снимков
//	msgsync migrate        # только миграции хранилища снимков
//	msgsync prune          # удалить просроченные снимки
//	msgsync gen-vapid      # создать (или показать) VAPID-ключи Web Push
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/msgsync/internal/logger"
)

var version = "dev"

func main() {
	logger.SetPrefix("msgsync")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "msgsync",
		Short:         "Real-time messaging sync core",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildRunCmd(), buildMigrateCmd(), buildGenVAPIDCmd(), buildPruneCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Errorf("%v", err)
		stop()
		os.Exit(1)
	}
}
