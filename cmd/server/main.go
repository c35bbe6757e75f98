// Command server runs the Casa Segura marketplace API and its chat channel.
//
//go:generate swag init -g cmd/server/main.go -d ../../ -o ../../docs --parseInternal
//
// @title                       Casa Segura API
// @version                     1.0
// @description                 Marketplace backend: addresses, jobs, reviews, credits and chat.
// @BasePath                    /api/v1
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
// @description                 Type "Bearer" followed by a space and the access token.
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
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/casasegura/backend/internal/config"
	httpapi "github.com/casasegura/backend/internal/http"
	"github.com/casasegura/backend/internal/observability"
	"github.com/casasegura/backend/internal/realtime"
	"github.com/casasegura/backend/internal/repo"
	"github.com/casasegura/backend/internal/services"
	"github.com/casasegura/backend/internal/storage"
	"github.com/casasegura/backend/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	// A missing .env is fine; real deployments use the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.ConfigureLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName, version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(ctx, cfg.DB)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	var uploads services.UploadSigner
	att, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	if att != nil {
		uploads = att
	} else {
		log.Info().Msg("attachment storage not configured; uploads disabled")
	}

	var broker realtime.Broker
	if cfg.Chat.RedisURL != "" {
		rb, err := realtime.NewRedisBroker(ctx, cfg.Chat.RedisURL, cfg.Chat.RedisChannel)
		if err != nil {
			return err
		}
		broker = rb
	}

	svc := httpapi.NewServices(db, cfg, broker, uploads)
	if err := svc.Hub.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := svc.Hub.Close(); err != nil {
			log.Warn().Err(err).Msg("hub close")
		}
	}()

	sweeper := &services.Sweeper{Jobs: svc.Jobs, DB: db, Interval: cfg.Jobs.SweepInterval}
	go sweeper.Run(ctx)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(ctx, r, svc, cfg)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("db", cfg.DB.Driver).
			Bool("redis", broker != nil).
			Bool("uploads", uploads != nil).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	return nil
}
