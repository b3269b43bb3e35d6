package main

import (
	"context"
	"log"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	apiHandler "github.com/fastygo/identity/api/handler"
	"github.com/fastygo/identity/internal/app"
	"github.com/fastygo/identity/internal/config"
	"github.com/fastygo/identity/internal/infrastructure/monitor"
	"github.com/fastygo/identity/internal/middleware"
	"github.com/fastygo/identity/internal/router"
	"github.com/fastygo/identity/internal/services/lifecycle"
	"github.com/fastygo/identity/pkg/httpcontext"
	"github.com/fastygo/identity/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level:    cfg.Logger.Level,
		Encoding: cfg.Logger.Encoding,
		Service:  cfg.AppName,
	})
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer zapLogger.Sync()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := lifecycle.New(cfg.Context.ShutdownTimeout, zapLogger)
	manager.Listen(cancel)

	components, err := app.Build(appCtx, cfg, manager, zapLogger)
	if err != nil {
		_ = manager.Shutdown(context.Background())
		zapLogger.Fatal("startup failed", zap.Error(err))
	}

	mon, err := monitor.New(cfg.Monitor.Schedule, zapLogger.Named("monitor"), components.Probes...)
	if err != nil {
		_ = manager.Shutdown(context.Background())
		zapLogger.Fatal("invalid monitor schedule", zap.Error(err))
	}
	mon.Start()
	manager.Register("monitor", func(ctx context.Context) error {
		mon.Stop(ctx)
		return nil
	})

	ctxAdapter := httpcontext.NewAdapter(cfg.Context.RequestTimeout)

	handlers := router.Handlers{
		Credential: apiHandler.NewCredentialHandler(components.Credentials, ctxAdapter, zapLogger),
		Identity:   apiHandler.NewIdentityHandler(components.Resolver, ctxAdapter, zapLogger),
		Health:     apiHandler.NewHealthHandler(mon, ctxAdapter, zapLogger),
	}
	if cfg.HTTP.EnableMetrics {
		handlers.Metrics = components.Metrics.Handler()
	}

	authMiddleware := middleware.Authenticate(components.Credentials, ctxAdapter, zapLogger)
	r := router.New(handlers, authMiddleware)

	server := &fasthttp.Server{
		Handler:      r.Handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		Concurrency:  cfg.HTTP.MaxConn,
		Name:         cfg.AppName,
	}

	go func() {
		zapLogger.Info("server started",
			zap.String("address", cfg.Address()),
			zap.String("store", cfg.Store.Driver),
			zap.Bool("cache", cfg.Cache.Enabled))
		if err := server.ListenAndServe(cfg.Address()); err != nil {
			zapLogger.Error("server crashed", zap.Error(err))
			cancel()
		}
	}()

	manager.Register("http_server", func(ctx context.Context) error {
		return server.ShutdownWithContext(ctx)
	})

	<-appCtx.Done()

	if err := manager.Shutdown(context.Background()); err != nil {
		zapLogger.Error("graceful shutdown error", zap.Error(err))
	}
}
