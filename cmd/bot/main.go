// Package main is the entry point for the Discord lottery bot.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"discord-lottery-bot/internal/config"
	"discord-lottery-bot/internal/handler"
	"discord-lottery-bot/internal/lottery"
	"discord-lottery-bot/internal/notify"
	"discord-lottery-bot/internal/pkg/db"
	"discord-lottery-bot/internal/pkg/lock"
	"discord-lottery-bot/internal/repository"
	"discord-lottery-bot/internal/service"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := runMigrations(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories
	lotteryRepo := repository.NewLotteryRepository(dbPool.Pool)
	ledgerRepo := repository.NewLedgerRepository(dbPool.Pool)
	txRepo := repository.NewTransactionRepository(dbPool.Pool)

	// Initialize user lock and services
	userLock := lock.NewUserLock()
	ledgerService := service.NewLedgerService(ledgerRepo, txRepo, userLock)

	// Select the notifier: webhook when configured, log-only otherwise
	var notifier lottery.Notifier
	if cfg.Discord.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Discord.WebhookURL, cfg.Discord.Timeout)
		log.Info().Msg("Using Discord webhook notifier")
	} else {
		notifier = notify.LogNotifier{}
		log.Warn().Msg("No webhook URL configured, announcements go to the log only")
	}

	// Initialize the lottery manager
	manager, err := lottery.NewManager(lottery.Dependencies{
		Store:             lotteryRepo,
		Ledger:            ledgerService,
		Notifier:          notifier,
		UserLock:          userLock,
		StoreTimeout:      cfg.Lottery.StoreTimeout,
		RecoveryBuffer:    cfg.Lottery.RecoveryBuffer,
		DefaultMaxTickets: cfg.Lottery.DefaultMaxTickets,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create lottery manager")
	}

	// Restore lotteries that were live before the last shutdown. This runs
	// before the HTTP server accepts traffic so no new lottery can collide
	// with a record still being rehydrated.
	restored, err := manager.Restore(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to restore lotteries")
	}
	log.Info().Int("restored", restored).Msg("Lottery restoration finished")

	// Initialize HTTP surface
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	h := handler.New(manager, ledgerService, cfg, func(c *gin.Context) {
		healthCtx, healthCancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer healthCancel()
		if err := dbPool.HealthCheck(healthCtx); err != nil {
			c.String(http.StatusServiceUnavailable, "Database unreachable")
			return
		}
		c.String(http.StatusOK, "Bot is running")
	})
	h.RegisterRoutes(router)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	// Graceful shutdown: stop timers first so no draw races the server
	// teardown, then drain in-flight requests.
	manager.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Bot stopped gracefully")
}

// runMigrations executes database migrations.
func runMigrations(ctx context.Context, pool *db.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: Create lotteries table
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS lotteries (
			id BIGINT PRIMARY KEY,
			prize TEXT NOT NULL,
			winner_count INT NOT NULL,
			min_participants INT NOT NULL DEFAULT 0,
			ticket_price BIGINT NOT NULL DEFAULT 0,
			max_tickets_per_user INT NOT NULL DEFAULT 1,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			participants JSONB NOT NULL DEFAULT '{}',
			total_tickets INT NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			winner_list JSONB NOT NULL DEFAULT '[]',
			winner_announced BOOLEAN NOT NULL DEFAULT FALSE,
			is_manual_draw BOOLEAN NOT NULL DEFAULT FALSE,
			channel_id VARCHAR(64) NOT NULL DEFAULT '',
			message_id VARCHAR(64) NOT NULL DEFAULT '',
			guild_id VARCHAR(64) NOT NULL DEFAULT '',
			created_by VARCHAR(64) NOT NULL DEFAULT '',
			terms TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_lotteries_status_end ON lotteries(status, end_time);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 1: lotteries table created")

	// Migration 2: Create skulls table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS skulls (
			user_id VARCHAR(64) PRIMARY KEY,
			balance BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_skulls_balance ON skulls(balance DESC);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 2: skulls table created")

	// Migration 3: Create skull_transactions table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS skull_transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			amount BIGINT NOT NULL,
			type VARCHAR(50) NOT NULL,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_skull_transactions_user_time ON skull_transactions(user_id, created_at DESC);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 3: skull_transactions table created")

	log.Info().Msg("All migrations completed successfully")
	return nil
}
