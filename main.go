package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/image-check/internal/config"
	"github.com/example/image-check/internal/grpcclient"
	"github.com/example/image-check/internal/handlers"
	"github.com/example/image-check/internal/inference"
	"github.com/example/image-check/internal/logging"
	"github.com/example/image-check/internal/restclient"
	"github.com/example/image-check/internal/session"
	"github.com/example/image-check/internal/usecase"
)

func main() {
	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := initSessionStore(ctx, cfg, logger)

	predictor, closePredictor := initPredictor(ctx, cfg, logger)
	defer closePredictor()

	uc := usecase.NewImageCheckUseCase(store, predictor, logger, usecase.Options{
		SessionTTL:     cfg.SessionTTL,
		PredictTimeout: cfg.PredictTimeout,
	})

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), logging.GinMiddleware(logger.Named("http")))
	r.MaxMultipartMemory = cfg.MaxUploadBytes

	if err := handlers.RegisterRoutes(r, uc, cfg.MaxUploadBytes); err != nil {
		logger.Fatal("failed to register routes", zap.Error(err))
	}

	server := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err), zap.String("addr", cfg.HTTPAddr))
	}

	signalCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	logger.Info("image checker listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("predict_transport", cfg.PredictTransport),
		zap.String("session_store", cfg.SessionStore),
	)
	if err := runServer(signalCtx, server, listener, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer closeCancel()
	if err := uc.Close(closeCtx); err != nil {
		logger.Warn("in-flight checks did not finish", zap.Error(err))
	}
}

func initSessionStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) session.Store {
	if cfg.SessionStore == config.StoreRedis {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Fatal("redis connection failed", zap.Error(err), zap.String("addr", cfg.RedisAddr))
		}
		return session.NewRedisStore(session.NewRedisCache(client))
	}

	store := session.NewMemoryStore(
		session.WithMaxSessions(cfg.MaxSessions),
		session.WithMaxBytes(cfg.MaxSessionBytes),
	)
	sweepLogger := logger.Named("session_janitor")
	go store.RunJanitor(ctx, time.Minute, func(removed int) {
		sweepLogger.Debug("expired sessions removed",
			zap.Int("removed", removed),
			zap.Int("sessions", store.Len()),
			zap.Int64("bytes", store.Bytes()),
			zap.Int("evicted_total", store.Evicted()),
		)
	})
	return store
}

func initPredictor(ctx context.Context, cfg *config.Config, logger *zap.Logger) (inference.Predictor, func()) {
	if cfg.PredictTransport == config.TransportGRPC {
		predictor, conn, err := grpcclient.DialPredictor(ctx, cfg.PredictGRPCAddr, cfg.PredictGRPCMethod, logger)
		if err != nil {
			logger.Fatal("failed to connect to predictor", zap.Error(err))
		}
		return predictor, func() { conn.Close() }
	}
	return restclient.New(cfg.PredictURL, nil, logger), func() {}
}

// runServer serves on listener until it fails or ctx is done. On ctx done
// the server stops accepting, and requests in progress get shutdownTimeout
// to finish.
func runServer(ctx context.Context, server *http.Server, listener net.Listener, shutdownTimeout time.Duration, logger *zap.Logger) error {
	served := make(chan error, 1)
	go func() {
		served <- server.Serve(listener)
	}()

	select {
	case err := <-served:
		return fmt.Errorf("serve %s: %w", listener.Addr(), err)
	case <-ctx.Done():
	}

	logger.Info("draining in-flight requests",
		zap.NamedError("cause", context.Cause(ctx)),
		zap.Duration("timeout", shutdownTimeout),
	)
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("drain requests: %w", err)
	}
	if err := <-served; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
