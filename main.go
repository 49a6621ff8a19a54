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

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/example/oralscan/internal/auth"
	"github.com/example/oralscan/internal/config"
	"github.com/example/oralscan/internal/handlers"
	"github.com/example/oralscan/internal/inference"
	"github.com/example/oralscan/internal/intake"
	"github.com/example/oralscan/internal/logging"
	"github.com/example/oralscan/internal/repository"
	"github.com/example/oralscan/internal/storage"
	"github.com/example/oralscan/internal/usecase"
)

const slowQueryThreshold = 200 * time.Millisecond

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(logging.Options{Level: cfg.LogLevel, Development: cfg.IsDevelopment()})
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db := initDatabase(ctx, cfg.Database, logger)
	repo := repository.NewAnalysisRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}
	users := repository.NewUserRepository(db, logger)

	checks := []handlers.ReadinessCheck{{Name: "database", Check: repo.Ping}}

	var cache usecase.Cache = usecase.NoopCache{}
	if cfg.Redis.Addr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		redisCache := usecase.NewRedisCache(initRedis(redisCtx, cfg.Redis, logger))
		redisCancel()
		cache = redisCache
		checks = append(checks, handlers.ReadinessCheck{Name: "redis", Check: redisCache.Ping})
	} else {
		logger.Info("redis not configured, history cache disabled")
	}

	var images storage.ImageStore = storage.InlineStore{}
	if cfg.Minio.Endpoint != "" {
		store, err := storage.NewMinioStore(ctx, cfg.Minio, logger)
		if err != nil {
			logger.Fatal("failed to connect to object storage", zap.Error(err))
		}
		images = store
		checks = append(checks, handlers.ReadinessCheck{Name: "storage", Check: store.Check})
	} else {
		logger.Info("object storage not configured, images kept inline")
	}

	client, err := inference.New(ctx, cfg.Inference, logger)
	if err != nil {
		logger.Fatal("failed to build inference client", zap.Error(err))
	}

	uc := usecase.NewAnalysisUseCase(repo, cache, client, images, logger, usecase.Options{
		InferenceTimeout: cfg.Inference.Timeout,
		HistoryTTL:       cfg.Redis.TTL,
		MaxDimension:     cfg.Inference.MaxDimension,
	})

	verifier, err := auth.NewJWTVerifier(cfg.Auth)
	if err != nil {
		logger.Fatal("failed to configure auth", zap.Error(err))
	}
	authMiddleware := auth.Middleware(verifier, users, logger)
	analyzeAuth := authMiddleware
	if cfg.Auth.AllowAnonymous {
		analyzeAuth = auth.Optional(verifier, users, logger)
		logger.Warn("anonymous analysis enabled")
	}

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logging.GinMiddleware(logger))

	handlers.RegisterRoutes(r, handlers.Dependencies{
		Analyses:    uc,
		Intake:      intake.NewReader(cfg.Upload.MaxBytes),
		Auth:        authMiddleware,
		AnalyzeAuth: analyzeAuth,
		Checks:      checks,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           withCORS(r, cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("oralscan API listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("inference_provider", cfg.Inference.Provider),
	)
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// withCORS lets the browser front end on origins call the API.
func withCORS(h http.Handler, origins []string) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", logging.RequestIDHeader},
		ExposedHeaders: []string{logging.RequestIDHeader},
		MaxAge:         300,
	})(h)
}

func initDatabase(ctx context.Context, cfg config.Database, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{Logger: logging.NewGormLogger(zapLogger, slowQueryThreshold)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, cfg config.Redis, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

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

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

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
