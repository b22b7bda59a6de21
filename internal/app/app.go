package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/liquidchat-server/internal/auth"
	"github.com/vovakirdan/liquidchat-server/internal/bus"
	"github.com/vovakirdan/liquidchat-server/internal/bus/redisbus"
	"github.com/vovakirdan/liquidchat-server/internal/config"
	"github.com/vovakirdan/liquidchat-server/internal/core"
	"github.com/vovakirdan/liquidchat-server/internal/store"
	"github.com/vovakirdan/liquidchat-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/liquidchat-server/internal/transport/http"
)

// App wires together the messaging core, persistence, fan-out bus, and the
// HTTP transport.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	sweepInterval   time.Duration
	presence        *core.PresenceTracker
	store           store.Store
	bus             bus.Bus
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	fanout, err := newBus(cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	logger.Info().Str("bus", string(cfg.Bus)).Msg("fan-out bus initialized")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
	tokens := auth.NewService(st, jwtConfig)

	limiter := core.NewRateLimiter(cfg.MessageRateLimit, cfg.RateLimitWindow)
	presence := core.NewPresenceTracker(cfg.PresenceExpiry, fanout, logger)
	router := core.NewRouter(st, st, fanout, cfg.MessageMaxLength, logger)

	gateway := transporthttp.NewGateway(tokens, router, limiter, presence, fanout, st, st, logger)
	server := transporthttp.NewServer(gateway, *cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		sweepInterval:   cfg.PresenceHeartbeat,
		presence:        presence,
		store:           st,
		bus:             fanout,
		log:             logger,
	}, nil
}

func newBus(cfg *config.Config, logger *zerolog.Logger) (bus.Bus, error) {
	switch cfg.Bus {
	case config.BusRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b, err := redisbus.New(ctx, cfg.RedisAddr, logger)
		if err != nil {
			return nil, fmt.Errorf("init redis bus: %w", err)
		}
		return b, nil
	default:
		return bus.NewMemory(), nil
	}
}

// Run starts the HTTP server and the presence sweep, and blocks until
// context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go a.sweepLoop(ctx)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

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

// sweepLoop expires stale sessions on a fixed cadence. It runs independently
// of connection goroutines and never blocks them.
func (a *App) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if expired := a.presence.Sweep(time.Now()); len(expired) > 0 {
				a.log.Debug().Int("count", len(expired)).Msg("presence sweep expired users")
			}
		case <-ctx.Done():
			return
		}
	}
}

// cleanup closes the bus and database.
func (a *App) cleanup() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close bus")
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
