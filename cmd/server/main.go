// Command talkmesh-server starts the messaging presence and key-management
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/talkmesh/internal/batch"
	"github.com/and161185/talkmesh/internal/config"
	"github.com/and161185/talkmesh/internal/filecache"
	"github.com/and161185/talkmesh/internal/limiter"
	"github.com/and161185/talkmesh/internal/locks"
	"github.com/and161185/talkmesh/internal/migrate"
	"github.com/and161185/talkmesh/internal/pairing"
	"github.com/and161185/talkmesh/internal/registry"
	"github.com/and161185/talkmesh/internal/repository/postgres"
	"github.com/and161185/talkmesh/internal/server/ws"
	"github.com/and161185/talkmesh/internal/update"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration, runs migrations, and starts the websocket server.
func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatal("parse config", zap.Error(err))
	}

	// Flags override the essentials for local runs.
	addr := flag.String("addr", cfg.ListenAddr, "listen address")
	dsn := flag.String("dsn", cfg.DatabaseDSN, "PostgreSQL DSN")
	redisAddr := flag.String("redis", cfg.RedisAddr, "Redis address")
	jwtKey := flag.String("jwt-key", cfg.JWTSecret, "HS256 signing key (required)")
	flag.Parse()
	cfg.ListenAddr = *addr
	cfg.DatabaseDSN = *dsn
	cfg.RedisAddr = *redisAddr
	cfg.JWTSecret = *jwtKey

	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.ListenAddr),
	)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DatabaseDSN); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	// DB pool
	db, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres.New", zap.Error(err))
	}
	defer db.Close()

	// Repositories
	clientRepo := postgres.NewClientRepo(db)
	presenceRepo := postgres.NewPresenceRepo(db)
	relationshipRepo := postgres.NewRelationshipRepo(db)
	groupRepo := postgres.NewGroupRepo(db)
	deliveryRepo := postgres.NewDeliveryRepo(db)
	keyRepo := postgres.NewKeyRepo(db)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() { _ = rdb.Close() }()
	lim := limiter.NewRedis(rdb, cfg.LoginWindow, cfg.LoginMaxFails, cfg.LoginBlockFor)

	reg := registry.NewMemory()
	disp := batch.NewDispatcher(logger, cfg.DispatcherWorkers, cfg.DispatcherQueue)
	defer disp.Close()

	files := filecache.New(cfg.FileCacheURL, cfg.FileCacheTimeout)

	agent := update.NewAgent(update.Deps{
		Clients:       clientRepo,
		Presences:     presenceRepo,
		Relationships: relationshipRepo,
		Groups:        groupRepo,
		Deliveries:    deliveryRepo,
		Keys:          keyRepo,
		Registry:      reg,
		Dispatcher:    disp,
		Locks:         locks.NewManager(),
		Files:         files,
		Log:           logger,
	}, update.Config{
		KeymasterLatencyMax: cfg.KeymasterLatencyMax,
		KeymasterPenalty:    cfg.KeymasterPenalty,
		RekeyRetries:        cfg.RekeyRetries,
		RekeyBackoff:        cfg.RekeyBackoff,
	})

	pairings := pairing.NewService(keyRepo, relationshipRepo, agent)

	gateway := ws.New(logger, clientRepo, presenceRepo, reg, lim, agent, pairings, ws.Config{
		JWTSecret:         cfg.JWTSecret,
		KeyRequestTimeout: cfg.KeyRequestTimeout,
		PingInterval:      cfg.PingInterval,
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: gateway.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
