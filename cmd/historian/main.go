// cmd/historian/main.go runs the historian: it pops session actions from the
// Redis queue and persists them to PostgreSQL.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/tablestakes/internal/cache"
	"github.com/jason-s-yu/tablestakes/internal/config"
	"github.com/jason-s-yu/tablestakes/internal/database"
	"github.com/jason-s-yu/tablestakes/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &config.Historian{}
	cmd := &cobra.Command{
		Use:           "historian",
		Short:         "Persist the trivia action log from Redis to Postgres.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.ApplyEnv(cmd.Flags()); err != nil {
				return err
			}
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	cfg.RegisterFlags(cmd.Flags())

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Historian) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(cfg.Level())

	rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer rdb.Close()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	svc := historian.New(rdb, historian.PostgresSink{Pool: pool}, historian.Config{
		QueueName:     cfg.QueueName,
		BatchSize:     cfg.BatchSize,
		FlushDelay:    cfg.FlushDelay,
		Inactivity:    cfg.Inactivity,
		SweepInterval: cfg.SweepInterval,
	})
	svc.Run(ctx)
	return nil
}
