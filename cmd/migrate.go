package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/transfa/wallet-service/internal/config"
	"github.com/transfa/wallet-service/migrations"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(".")
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			dbpool, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer dbpool.Close()

			applied, err := migrations.Apply(ctx, dbpool)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				log.Println("level=info component=migrate msg=\"schema up to date\"")
				return nil
			}
			for _, name := range applied {
				log.Printf("level=info component=migrate msg=\"migration applied\" file=%s", name)
			}
			return nil
		},
	}
}
