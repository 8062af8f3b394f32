package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mkravets/dialog-server/internal/auth"
	"github.com/mkravets/dialog-server/internal/bus"
	"github.com/mkravets/dialog-server/internal/config"
	"github.com/mkravets/dialog-server/internal/core"
	"github.com/mkravets/dialog-server/internal/store/postgres"
	"github.com/mkravets/dialog-server/internal/store/redis"
	transporthttp "github.com/mkravets/dialog-server/internal/transport/http"
)

// App wires together the stores, the fanout bus, the core services and the
// transport layer.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           *postgres.Store
	redisClient     *goredis.Client
	bus             bus.Bus
	log             *zerolog.Logger
}

// New constructs the application with the provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := postgres.New(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Msg("metadata store initialized")

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("payload store initialized")

	payloads := redis.NewPayloadStore(redisClient, cfg.PayloadTTL)
	fanout := bus.NewRedis(redisClient, logger)

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.TokenTTL,
	}
	authService := auth.NewService(st, jwtConfig)

	pipeline := core.NewPipeline(st, st, payloads, fanout, logger)
	presence := core.NewPresence(st, fanout, logger)

	api := transporthttp.NewAPIHandlers(authService, st, payloads, pipeline, logger)
	ws := transporthttp.NewWSHandler(fanout, pipeline, presence, authService, logger)
	server := transporthttp.NewServer(*cfg, api, ws, authService, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		redisClient:     redisClient,
		bus:             fanout,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes the bus, the redis client and the database.
func (a *App) cleanup() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close fanout bus")
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
