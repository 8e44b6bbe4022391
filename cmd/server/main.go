// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/tablestakes/internal/auth"
	"github.com/jason-s-yu/tablestakes/internal/cache"
	"github.com/jason-s-yu/tablestakes/internal/config"
	"github.com/jason-s-yu/tablestakes/internal/database"
	"github.com/jason-s-yu/tablestakes/internal/game"
	"github.com/jason-s-yu/tablestakes/internal/handlers"
	"github.com/jason-s-yu/tablestakes/internal/models"
	"github.com/jason-s-yu/tablestakes/internal/registry"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const releaseVersion = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &config.Server{}
	if err := newCmd(cfg).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newCmd(cfg *config.Server) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tablestakes",
		Short:         "Live multiplayer team trivia over WebSockets.",
		Args:          cobra.NoArgs,
		Version:       releaseVersion,
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
	cmd.CompletionOptions.HiddenDefaultCmd = true
	return cmd
}

func run(ctx context.Context, cfg *config.Server) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(cfg.Level())
	// The game, registry and storage packages log through the standard logger.
	logrus.SetLevel(cfg.Level())

	signer, err := newSigner(cfg)
	if err != nil {
		return err
	}

	reg := registry.New(cfg.BufferSize)
	opts := game.Options{
		GracePeriod: cfg.GracePeriod,
		Tokens:      signer,
		OnRemoved:   reg.DropRoom,
	}

	var (
		archives []handlers.ResultsArchive
		results  *cache.Client
		pool     *pgxpool.Pool
	)
	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		results = cache.New(rdb, cfg.QueueName, cfg.ResultsTTL)
		opts.Actions = results
		archives = append(archives, results)
		logger.Infof("Redis action log enabled on %s (queue %s)", cfg.RedisAddr, results.QueueName)
	}
	if cfg.DatabaseURL != "" {
		pool, err = database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := database.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		archives = append(archives, database.ResultsArchive{Pool: pool})
		logger.Info("Postgres results persistence enabled")
	}
	opts.OnFinished = persistResults(logger, results, pool)

	mgr := game.NewManager(reg, opts)
	defer mgr.Close()
	gw := handlers.NewGateway(logger, mgr, reg, handlers.GatewayConfig{
		OriginPatterns: cfg.Origins,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handlers.NewRouter(logger, gw, handlers.NewAPI(logger, mgr, archives...)),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       10 * time.Minute,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Infof("Running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("server exited: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Shutdown does not wait for hijacked WebSocket connections.
	return srv.Shutdown(shutdownCtx)
}

func newSigner(cfg *config.Server) (*auth.RejoinSigner, error) {
	if cfg.JWTPrivateKey != "" {
		return auth.NewRejoinSignerFromPath(cfg.JWTPrivateKey, cfg.JWTPublicKey, cfg.RejoinTTL)
	}
	return auth.NewRejoinSigner(cfg.RejoinTTL)
}

// persistResults caches and stores the standings of every finished session.
// Failures are logged and never reach players.
func persistResults(logger *logrus.Logger, results *cache.Client, pool *pgxpool.Pool) func(models.GameSession, []models.GameResult) {
	return func(snap models.GameSession, standings []models.GameResult) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		entry := logger.WithFields(logrus.Fields{"room": snap.RoomCode, "session": snap.ID})
		if results != nil {
			if err := results.StoreResults(ctx, cache.FinishedSession{Session: snap, Results: standings}); err != nil {
				entry.WithError(err).Warn("failed to cache results")
			}
		}
		if pool != nil {
			if err := database.RecordSessionResults(ctx, pool, snap, standings); err != nil {
				entry.WithError(err).Warn("failed to persist results")
			}
		}
	}
}
