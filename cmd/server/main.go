package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"resource-chat/internal/auth"
	"resource-chat/internal/config"
	"resource-chat/internal/database"
	"resource-chat/internal/handlers"
	"resource-chat/internal/ratelimit"
	"resource-chat/internal/services"
	"resource-chat/internal/websocket"
	"resource-chat/pkg/logger"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration: %v", err)
	}

	log, err := logger.Setup(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logger.Fatal("Failed to configure logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		logger.Fatal("Server error: %v", err)
	}
	logger.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	// Initialize storage
	store, err := openStore(ctx, cfg.Persistence, log)
	if err != nil {
		return err
	}
	defer store.Close()

	limiter, err := openLimiter(ctx, cfg.RateLimit)
	if err != nil {
		return err
	}
	if limiter != nil {
		defer limiter.Close()
	}

	// Initialize services
	authService := auth.NewService([]byte(cfg.Auth.JWTSecret))

	registry := websocket.NewRegistry(log)
	websocket.NewPresencePublisher(registry, log)

	dispatcher := services.NewDispatcher(store, registry, limiter, services.DispatcherConfig{
		PersistTimeout:   cfg.Persistence.Timeout,
		MaxContentLength: cfg.Chat.MaxContentLength,
	}, log)
	history := services.NewHistory(store)
	roomService := services.NewRoomService(registry)

	var gatewayOpts []websocket.GatewayOption
	if cfg.WebSocket.HistoryOnJoin {
		gatewayOpts = append(gatewayOpts, websocket.WithHistoryOnJoin(history, cfg.WebSocket.HistoryLimit, cfg.Persistence.Timeout))
	}
	gateway := websocket.NewGateway(registry, dispatcher, websocket.Options{
		ReadLimit:     cfg.WebSocket.ReadLimit,
		PingPeriod:    cfg.WebSocket.PingPeriod,
		PongWait:      cfg.WebSocket.PongWait,
		WriteWait:     cfg.WebSocket.WriteWait,
		SendBuffer:    cfg.WebSocket.SendBuffer,
		InboundBuffer: cfg.WebSocket.InboundBuffer,
	}, log, gatewayOpts...)

	// Setup routes
	router := handlers.SetupRouter(
		handlers.RouterConfig{Mode: cfg.Server.Mode},
		handlers.NewWebSocketHandlers(authService, gateway, log),
		handlers.NewRoomHandlers(authService, dispatcher, history, roomService, log),
		log,
	)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      corsMiddleware(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server and wait for shutdown
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server started on %s (persistence=%s)", cfg.Server.Addr, cfg.Persistence.Driver)
		logger.Debug("WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Server shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests, then close live sockets
		err := server.Shutdown(shutdownCtx)
		registry.Shutdown()
		if err != nil {
			logger.Error("Graceful shutdown failed: %v", err)
		}
		return err
	})

	if ml, ok := limiter.(*ratelimit.MemoryLimiter); ok {
		g.Go(func() error {
			sweepLimiter(gctx, ml, cfg.RateLimit.Window)
			return nil
		})
	}

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.PersistenceConfig, log zerolog.Logger) (database.MessageStore, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		store, err := database.NewPostgresStore(connectCtx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(connectCtx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil

	case config.DriverHTTP:
		return database.NewHTTPStore(cfg.BaseURL, &http.Client{Timeout: cfg.Timeout}, log), nil
	}

	log.Warn().Msg("using in-memory message store, messages are lost on restart")
	return database.NewMemoryStore(), nil
}

func openLimiter(ctx context.Context, cfg config.RateLimitConfig) (ratelimit.Limiter, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if cfg.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return ratelimit.NewRedisLimiter(client, cfg.Limit, cfg.Window, cfg.Prefix), nil
	}

	return ratelimit.NewMemoryLimiter(cfg.Limit, cfg.Window), nil
}

func sweepLimiter(ctx context.Context, l *ratelimit.MemoryLimiter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
