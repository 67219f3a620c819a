package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msgsync/internal/config"
	"github.com/msgsync/internal/logger"
	"github.com/msgsync/internal/push"
)

func buildRunCmd() *cobra.Command {
	var dev bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the sync core and the bridge API",
		Long: `Connects to the messaging socket, loads the conversation list and serves
the bridge API (REST + /ws feed) for the UI. SIGINT/SIGTERM stop it gracefully.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger.SetLevel(cfg.LogLevel)
			if dev {
				cfg.StoreBackend = config.StorePostgres
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, dev)
		},
	}
	cmd.Flags().BoolVar(&dev, "dev", false, "store snapshots in embedded PostgreSQL (no external DB required)")
	return cmd
}

func buildMigrateCmd() *cobra.Command {
	var dev bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply snapshot store migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger.SetLevel(cfg.LogLevel)
			pg, err := openPostgres(cmd.Context(), cfg, dev)
			if err != nil {
				return err
			}
			pg.close()
			return nil
		},
	}
	cmd.Flags().BoolVar(&dev, "dev", false, "use embedded PostgreSQL")
	return cmd
}

func buildPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete expired conversation snapshots from PostgreSQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger.SetLevel(cfg.LogLevel)
			pg, err := openPostgres(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer pg.close()
			n, err := pg.repo.Prune(cmd.Context())
			if err != nil {
				return err
			}
			logger.Infof("pruned %d snapshots", n)
			return nil
		},
	}
}

func buildGenVAPIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-vapid",
		Short: "Create VAPID keys for Web Push if missing and print the public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			keys, err := push.EnsureVAPIDKeys(cfg.VAPIDKeysFile)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), keys.PublicKey)
			return nil
		},
	}
}
