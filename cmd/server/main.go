package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stone-miner/internal/auth"
	"github.com/stone-miner/internal/cache"
	"github.com/stone-miner/internal/config"
	"github.com/stone-miner/internal/economy"
	"github.com/stone-miner/internal/handler"
	"github.com/stone-miner/internal/kafka"
	"github.com/stone-miner/internal/postgres"
	"github.com/stone-miner/internal/redis"
	"github.com/stone-miner/internal/service"
	"github.com/stone-miner/internal/websocket"
	"github.com/stone-miner/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, logger)
	if err != nil {
		logger.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}

	// Initialize Redis
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	rankings, err := redis.NewLeagueRankings(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer rankings.Close()
	logger.Info("connected to Redis")

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to PostgreSQL")

	if err := repo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	machineOpts := []economy.Option{
		economy.WithSkinCost(cfg.Economy.SkinCost),
		economy.WithDeclaredRewards(cfg.Economy.AllowDeclaredRewards),
	}
	if len(cfg.Economy.Tasks) > 0 {
		machineOpts = append(machineOpts, economy.WithTasks(cfg.Economy.Tasks))
	}

	economyService := service.NewEconomyService(
		repo,
		rankings,
		cache.NewWriteBack(),
		economy.NewMachine(machineOpts...),
		service.Options{
			CommissionRate:     cfg.Economy.CommissionRate,
			SignupBonus:        cfg.Economy.SignupBonus,
			PremiumSignupBonus: cfg.Economy.PremiumSignupBonus,
			LeaderboardLimit:   cfg.Economy.LeaderboardLimit,
		},
		logger,
	)

	// Rebuild the league rankings from the durable store (recovery)
	logger.Info("warming league rankings from database")
	if err := economyService.WarmRankings(ctx, rankings); err != nil {
		logger.Warn("failed to warm rankings on startup", "error", err)
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(cfg.WebSocket, logger)
	wsHub.OnDisconnect(func(playerID string) {
		dctx, dcancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dcancel()
		if err := economyService.Disconnect(dctx, playerID); err != nil {
			logger.Warn("failed to persist on disconnect", "player_id", playerID, "error", err)
		}
	})
	economyService.SetNotifier(wsHub)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	flusher := worker.NewFlusher(economyService, &cfg.Flush, logger)
	if cfg.Flush.Enabled {
		if err := flusher.Start(ctx); err != nil {
			logger.Error("failed to start flusher", "error", err)
			os.Exit(1)
		}
	}

	reconciler := worker.NewReconciler(economyService, &cfg.Reconcile, logger)
	if cfg.Reconcile.Enabled {
		if err := reconciler.Start(ctx); err != nil {
			logger.Error("failed to start reconciler", "error", err)
			os.Exit(1)
		}
	}

	// Kafka carries automated tap batches
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, economyService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	httpHandler := handler.NewHandler(economyService, wsHub, verifier, logger)
	httpHandler.AddReadinessCheck("postgres", repo.Ping)
	httpHandler.AddReadinessCheck("redis", rankings.Ping)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting requests before the last flush
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	wsHub.Stop()

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if err := reconciler.Stop(); err != nil {
		logger.Error("failed to stop reconciler", "error", err)
	}
	if err := flusher.Stop(); err != nil {
		logger.Error("failed to stop flusher", "error", err)
	}

	n, err := economyService.Flush(shutdownCtx)
	if err != nil {
		logger.Error("final flush failed", "error", err, "players", n)
	} else {
		logger.Info("final flush complete", "players", n)
	}

	logger.Info("server stopped")
}
