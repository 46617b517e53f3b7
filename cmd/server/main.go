package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/beverage-bandits/internal/auth"
	"github.com/freeeve/beverage-bandits/internal/config"
	"github.com/freeeve/beverage-bandits/internal/handler"
	"github.com/freeeve/beverage-bandits/internal/logger"
	"github.com/freeeve/beverage-bandits/internal/middleware"
	"github.com/freeeve/beverage-bandits/internal/repository/postgres"
	redisrepo "github.com/freeeve/beverage-bandits/internal/repository/redis"
	"github.com/freeeve/beverage-bandits/internal/service"
)

func main() {
	logger.Init()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	log.Info().Str("databaseURL", cfg.DatabaseURL).Int("maxRounds", cfg.MaxRounds).Msg("Config loaded")

	// Database
	db, err := postgres.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	defer db.Close()

	// Redis
	redisClient, err := redisrepo.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Redis connection failed")
	}
	defer redisClient.Close()

	// Enable keyspace notifications so the reaper sees expired status keys.
	if err := redisClient.Underlying().ConfigSet(context.Background(), "notify-keyspace-events", "Ex").Err(); err != nil {
		log.Warn().Err(err).Msg("Failed to set Redis keyspace notifications (reaper falls back to polling)")
	}

	// Repos
	userRepo := postgres.NewUserRepo(db)
	battleRepo := postgres.NewBattleRepo(db)

	// Auth
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret)

	// WebSocket hub
	wsHub := handler.NewHub()

	// Services
	battleSvc := service.NewBattleService(battleRepo, redisClient, wsHub, service.Options{
		MaxRounds:       cfg.MaxRounds,
		CheckInvariants: cfg.CheckInvariants,
		ResultTTL:       cfg.ResultTTL,
	})
	reaper := service.NewReaper(redisClient.Underlying(), battleRepo, redisClient, cfg.ReapAfter)

	// Handlers
	authHandler := handler.NewAuthHandler(jwtMgr, userRepo)
	userHandler := handler.NewUserHandler(userRepo)
	battleHandler := handler.NewBattleHandler(battleSvc)
	wsHandler := handler.NewWSHandler(wsHub, jwtMgr)

	// Router
	mux := http.NewServeMux()
	authMw := auth.Middleware(jwtMgr)

	// Health
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := redisClient.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"redis unavailable"}`))
			return
		}
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"database unavailable"}`))
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Auth (public)
	mux.HandleFunc("POST /auth/refresh", authHandler.RefreshToken)
	mux.HandleFunc("GET /auth/dev", authHandler.DevLogin)

	// Protected API routes
	api := http.NewServeMux()
	api.HandleFunc("GET /users/me", userHandler.GetMe)
	api.HandleFunc("POST /battles", battleHandler.CreateBattle)
	api.HandleFunc("GET /battles", battleHandler.ListBattles)
	api.HandleFunc("GET /battles/{id}", battleHandler.GetBattle)
	api.HandleFunc("GET /battles/{id}/rounds", battleHandler.ListRounds)

	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", authMw(api)))

	// WebSocket (auth via query param, not middleware)
	mux.HandleFunc("GET /api/v1/ws", wsHandler.ServeWS)

	// Apply global middleware
	root := middleware.Chain(mux, middleware.Logger, middleware.Recover, middleware.CORS(cfg.CORSOrigins), middleware.JSON)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Fail battles a previous process left running, then keep watching.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if n := reaper.Sweep(ctx); n > 0 {
		log.Info().Int("count", n).Msg("Reaped abandoned battles")
	}
	go reaper.Start(ctx)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	// Let background battles persist their results before the pools close.
	battleSvc.Wait()
	cancel()
	log.Info().Msg("Server stopped")
}
