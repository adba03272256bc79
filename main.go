package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/okra-classifier/internal/auth"
	"github.com/example/okra-classifier/internal/config"
	"github.com/example/okra-classifier/internal/handlers"
	"github.com/example/okra-classifier/internal/imageprocessor"
	"github.com/example/okra-classifier/internal/logging"
	"github.com/example/okra-classifier/internal/repository"
	"github.com/example/okra-classifier/internal/scorer"
	"github.com/example/okra-classifier/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db := initDatabase(ctx, cfg.DatabaseDSN, logger)
	repo := repository.NewClassificationRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg, logger)
	defer redisClient.Close()

	processor := imageprocessor.NewProcessor(cfg.AnalysisMaxSide, cfg.AnalysisMaxPixels)
	heuristic := scorer.New(processor, scorer.NewLockedSource(cfg.RandomSeed))
	uc := usecase.NewClassificationUseCase(repo, usecase.NewRedisCache(redisClient), heuristic, logger, usecase.Options{
		FallbackEnabled: cfg.FallbackEnabled,
		ResultTTL:       cfg.CacheTTL,
		MaxBatchFiles:   cfg.MaxBatchFiles,
	})
	if cfg.FallbackEnabled {
		logger.Warn("random fallback is enabled: unreadable images get flagged random predictions")
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(cfg, uc, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("okra classifier listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("mode", "simulation"),
		zap.Bool("fallback_enabled", cfg.FallbackEnabled),
	)
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newRouter(cfg *config.Config, uc handlers.Classifier, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(logger), cors.New(corsConfig(cfg.AllowedOrigins)))
	r.MaxMultipartMemory = cfg.MaxUploadBytes

	handlers.RegisterRoutes(r, uc, auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience), handlers.Options{
		MaxUploadBytes:  cfg.MaxUploadBytes,
		FallbackEnabled: cfg.FallbackEnabled,
	})
	return r
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	return c
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}
	return db
}

func initRedis(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

// serveHTTPServerWithOptions serves until the server fails or a signal
// arrives, then drains in-flight requests for up to shutdownTimeout. A nil
// listener means ListenAndServe; a nil signalCh means SIGINT/SIGTERM.
func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
