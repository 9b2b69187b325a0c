package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rcrowley/go-metrics"
	"golang.org/x/exp/slog"
	"gopkg.in/natefinch/lumberjack.v2"

	"pvp-casino-backend/internal/config"
	"pvp-casino-backend/internal/handlers"
	"pvp-casino-backend/internal/lib/logger/sl"
	"pvp-casino-backend/internal/middleware"
	"pvp-casino-backend/internal/operator"
	"pvp-casino-backend/internal/services"
	"pvp-casino-backend/internal/store"
)

const (
	shutdownTimeout = 15 * time.Second
	entryRateWindow = time.Minute
)

// wallet is what the ledger backends expose besides moving money.
type wallet interface {
	services.Ledger
	handlers.WalletReader
}

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()

	log := setupLogger(cfg.Env, cfg.LogFile)

	log.Info("starting pvp-casino-backend", slog.String("env", cfg.Env), slog.String("ledger", cfg.LedgerMode))
	log.Debug("debug messages are enabled")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gameStore, closeStore, err := setupStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to init storage", sl.Err(err))
		os.Exit(1)
	}
	defer closeStore()

	var redisService *services.RedisService
	if cfg.LedgerMode == config.LedgerRedis {
		redisService, err = services.NewRedisService(ctx, cfg, log)
		if err != nil {
			log.Error("failed to connect to redis", sl.Err(err))
			os.Exit(1)
		}
		defer redisService.Close()
	}

	var ledger wallet
	switch cfg.LedgerMode {
	case config.LedgerRedis:
		ledger = redisService
	case config.LedgerOperator:
		ledger = operator.NewClient(cfg.OperatorEndpoint, cfg.OperatorSecret)
	default:
		log.Warn("using in-memory ledger, balances are lost on restart")
		ledger = services.NewMemoryLedger(services.DefaultStartingBalance)
	}

	jwtService := services.NewJWTService(cfg)

	gameEngine := services.NewGameEngine(log, gameStore, ledger, services.EngineConfigFrom(cfg.Game),
		services.WithMetrics(services.NewMetrics(metrics.DefaultRegistry)),
		services.WithErrorLog(services.NewErrorLog(log, services.DefaultErrorLogSize)),
	)

	hub := handlers.NewWebSocketHub(log, gameEngine, ledger)
	go hub.Run(ctx)

	sinks := services.MultiBroadcaster{hub}
	if redisService != nil {
		remote := services.NewRedisBroadcaster(redisService.Client(), log)
		go func() {
			if err := remote.Subscribe(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("game event subscription stopped", sl.Err(err))
			}
		}()
		sinks = append(sinks, remote)
	}
	if cfg.Pusher.Enabled() {
		pusherSink := services.NewPusherBroadcaster(log, services.NewPusherClient(cfg.Pusher))
		go pusherSink.Run(ctx)
		sinks = append(sinks, pusherSink)
	}
	gameEngine.SetBroadcaster(sinks)

	scheduler := services.NewScheduler(log, gameEngine, services.DefaultSchedulerWorkers)
	gameEngine.SetTimers(scheduler)
	if err := scheduler.Start(ctx, cfg.Game.SweepInterval.Duration); err != nil {
		log.Error("failed to start scheduler", sl.Err(err))
		os.Exit(1)
	}
	defer scheduler.Stop()

	var limiter middleware.RateLimiter = middleware.NewMemoryRateLimiter()
	var transactions handlers.TransactionReader
	if redisService != nil {
		limiter = redisService
		transactions = redisService
	}

	gameHandler := handlers.NewGameHandler(log, gameEngine)
	userHandler := handlers.NewUserHandler(log, ledger, transactions)

	if cfg.Env == config.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(log))
	router.Use(cors())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	public := router.Group("/api")
	{
		public.POST("/verify", gameHandler.Verify)
		public.GET("/games/history", gameHandler.History)
		public.GET("/games/:id", gameHandler.GetGame)
		public.GET("/games/:id/verify", gameHandler.GetVerification)
	}

	protected := router.Group("/api")
	protected.Use(middleware.AuthMiddleware(jwtService))
	{
		protected.GET("/me", userHandler.GetCurrentUser)
		protected.GET("/ws", hub.ServeWS)

		protected.GET("/games", gameHandler.ListGames)
		protected.POST("/games",
			middleware.RateLimitMiddleware(log, limiter, services.ActionCreate, cfg.Game.EntryRateLimit, entryRateWindow),
			gameHandler.CreateGame)
		protected.POST("/games/:id/entries",
			middleware.RateLimitMiddleware(log, limiter, services.ActionEntry, cfg.Game.EntryRateLimit, entryRateWindow),
			gameHandler.AddEntry)

		admin := protected.Group("/admin")
		admin.Use(middleware.RequireAdmin())
		{
			admin.POST("/games/:id/advance", gameHandler.Advance)
			admin.POST("/games/:id/cancel", gameHandler.Cancel)
			admin.POST("/games/:id/payout", gameHandler.RetryPayout)
			admin.GET("/errors", gameHandler.Errors)
			admin.GET("/metrics", gameHandler.Metrics)
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("server started", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", sl.Err(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", sl.Err(err))
	}

	log.Info("server stopped")
}

// setupStore opens Postgres when DATABASE_URL is set; otherwise games live
// in memory and are lost on restart.
func setupStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory game store")
		return store.NewMemoryStore(), func() {}, nil
	}

	pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}

	closeFn := func() {
		if err := pg.Close(); err != nil {
			log.Error("failed to close storage", sl.Err(err))
		}
	}
	return pg, closeFn, nil
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func setupLogger(env, logFile string) *slog.Logger {
	var out io.Writer = os.Stdout
	if logFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		})
	}

	var log *slog.Logger

	switch env {
	case config.EnvLocal:
		log = slog.New(
			slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case config.EnvDev:
		log = slog.New(
			slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		log = slog.New(
			slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	return log
}
