package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dexbot/internal/config"
	cronrunner "dexbot/internal/cron"
	"dexbot/internal/db"
	"dexbot/internal/exchange/bsc"
	"dexbot/internal/handler"
	"dexbot/internal/logger"
	"dexbot/internal/models"
	"dexbot/internal/notify"
	gormrepository "dexbot/internal/repository/gorm"
	"dexbot/internal/stream"
	"dexbot/internal/watcher"
)

func main() {
	cfgPath := os.Getenv("DEXBOT_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("DEXBOT_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	chain, err := bsc.Dial(cfg.Chain, logger)
	if err != nil {
		logger.Fatal("chain dial failed", zap.Error(err))
	}
	defer chain.Close()
	logger.Info("chain connected",
		zap.String("rpc", cfg.Chain.RPCURL),
		zap.String("wallet", chain.Wallet()))

	store := gormrepository.New(dbConn.Gorm)

	notifiers := notify.Multi{&notify.LogNotifier{Logger: logger}}
	if cfg.Notify.Telegram.Enabled {
		tg, err := notify.NewTelegramNotifier(cfg.Notify.Telegram, logger)
		if err != nil {
			logger.Warn("telegram notifier disabled", zap.Error(err))
		} else {
			notifiers = append(notifiers, tg)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := &watcher.ExecPool{
		Workers: cfg.Watch.ExecWorkers,
		Queue:   cfg.Watch.ExecQueue,
		Logger:  logger,
	}
	go pool.Run(ctx)

	hub := stream.NewHub(logger)

	registry := &watcher.Registry{
		Deps: watcher.Deps{
			Repo:     store,
			Price:    chain,
			Executor: chain,
			Notifier: notifiers,
			Logger:   logger,
			Pool:     pool,
		},
		Sink:     hub,
		Interval: cfg.Watch.Interval,
	}
	registry.Start(ctx)
	if err := registry.Load(ctx); err != nil {
		logger.Fatal("restore trackers failed", zap.Error(err))
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	tokenHandler := &handler.TokenHandler{Repo: store, Registry: registry, Chain: chain}
	tokenHandler.Register(engine)
	orderHandler := &handler.OrderHandler{Repo: store, Registry: registry}
	orderHandler.Register(engine)
	portfolioHandler := &handler.PortfolioHandler{Repo: store, Registry: registry}
	portfolioHandler.Register(engine)
	tradeHandler := &handler.TradeHandler{Repo: store}
	tradeHandler.Register(engine)
	engine.GET("/ws/prices", gin.WrapH(hub))

	cronRunner := cronrunner.New(logger, ctx)
	_, err = cronRunner.Add("portfolio_snapshot", cfg.Portfolio.SnapshotSpec, func(ctx context.Context) {
		summary, err := registry.PortfolioSummary(ctx)
		if err != nil {
			logger.Warn("portfolio snapshot failed", zap.Error(err))
			return
		}
		item := &models.PortfolioSnapshot{
			NativeBalance:    summary.NativeBalance,
			TokenValueNative: summary.TokenValueNative,
			GrandTotalNative: summary.GrandTotalNative,
			NativePriceUSD:   summary.NativePriceUSD,
			GrandTotalUSD:    summary.GrandTotalUSD,
			SnapshotAt:       time.Now().UTC().Truncate(time.Hour),
		}
		if err := store.InsertPortfolioSnapshot(ctx, item); err != nil {
			logger.Warn("portfolio snapshot insert failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Warn("cron register portfolio snapshot failed", zap.Error(err))
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
