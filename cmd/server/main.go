package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/live-commerce/internal/commerce"
	"github.com/iliyamo/live-commerce/internal/config"
	"github.com/iliyamo/live-commerce/internal/database"
	"github.com/iliyamo/live-commerce/internal/handler"
	"github.com/iliyamo/live-commerce/internal/logger"
	"github.com/iliyamo/live-commerce/internal/middleware"
	"github.com/iliyamo/live-commerce/internal/queue"
	"github.com/iliyamo/live-commerce/internal/repository"
	"github.com/iliyamo/live-commerce/internal/room"
	"github.com/iliyamo/live-commerce/internal/router"
	"github.com/iliyamo/live-commerce/internal/service"
	"github.com/iliyamo/live-commerce/internal/token"
	"github.com/iliyamo/live-commerce/internal/upstream"
)

const eventBuffer = 256

func main() {
	cfg, err := loadConfig()
	if err != nil {
		// no logger yet; configuration problems halt startup
		boot := logger.New("error", "prod")
		boot.Fatal().Err(err).Msg("startup aborted")
	}
	log := logger.New(cfg.LogLevel, cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions, products, db := openStores(ctx, cfg, log)
	if db != nil {
		defer db.Close()
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn().Msg("redis unavailable: rate limiting and response cache disabled")
	} else {
		defer rdb.Close()
	}

	locker := newLocker(cfg, rdb, log)

	signer, err := token.NewSigner(cfg.LiveKit.APISecret)
	if err != nil {
		log.Fatal().Err(commerce.Configuration("token signer", err)).Msg("startup aborted")
	}
	issuer, err := token.NewIssuer(signer, cfg.LiveKit.APIKey,
		token.WithTTLs(cfg.LiveKit.TokenTTL, cfg.LiveKit.ServerTokenTTL),
		token.WithLogger(log),
	)
	if err != nil {
		log.Fatal().Err(commerce.Configuration("token issuer", err)).Msg("startup aborted")
	}

	var rooms room.Gateway
	switch cfg.RoomProvider {
	case "memory":
		log.Warn().Msg("using in-memory room provider")
		rooms = room.NewMemoryGateway()
	default:
		rooms = room.NewLiveKitGateway(cfg.LiveKit.URL, issuer,
			room.WithEmptyTimeout(cfg.LiveKit.EmptyTimeout),
			room.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
			room.WithLogger(log),
		)
	}

	catalogClient, err := upstream.NewCatalogClient(cfg.CatalogURL, cfg.RequestTimeout, cfg.CatalogCacheSize, cfg.CatalogCacheTTL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("catalog client")
	}
	shopClient := upstream.NewShopClient(cfg.ShopURL, cfg.RequestTimeout, log)

	publisher := service.NewEventPublisher(cfg.Rabbit.URL, cfg.Rabbit.Exchange, eventBuffer, service.DialAMQP, log)
	publisher.Start(ctx)
	defer publisher.Stop()

	catalog := commerce.NewCatalog(sessions, products, catalogClient, shopClient,
		commerce.WithLocker(locker),
		commerce.WithEvents(publisher),
		commerce.WithLogger(log),
	)
	lifecycle := service.NewSessions(sessions, rooms, issuer, locker, cfg.RequestTimeout, log)

	if cfg.Sweep.Enabled {
		sweeper := service.NewSweeper(sessions, rooms, locker, cfg.Sweep.Interval, cfg.Sweep.Grace, cfg.Sweep.Batch, cfg.RequestTimeout, log)
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}
	if cfg.Rabbit.RelayEnabled {
		relay := queue.NewRelay(cfg.Rabbit.URL, cfg.Rabbit.Exchange, cfg.Rabbit.RelayQueue, rooms, cfg.RequestTimeout, log)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("event relay stopped")
			}
		}()
	}

	cache := middleware.NewResponseCache(config.LoadCacheConfig(), rdb, log)
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log)

	checks := map[string]handler.Pinger{}
	if db != nil {
		checks["mysql"] = db
	}
	if rdb != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(log))
	router.RegisterRoutes(e, handler.NewHealthHandler(checks))
	router.RegisterSessions(e, handler.NewSessionHandler(lifecycle, cache, log), cfg.JWTSecret, limiter)
	router.RegisterProducts(e, handler.NewProductHandler(catalog, cache, log), cfg.JWTSecret, cache)

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("env", cfg.Env).Str("store", cfg.Store).Str("rooms", cfg.RoomProvider).Msg("listening")
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
}

// openStores returns the session and catalog stores.  The MySQL schema is
// applied on startup.
// loadConfig reads the environment.  Every failure is a ConfigurationError.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, commerce.Configuration("invalid configuration", err)
	}
	return cfg, nil
}

func openStores(ctx context.Context, cfg config.Config, log zerolog.Logger) (repository.SessionStore, repository.ProductStore, *sql.DB) {
	if cfg.Store == "memory" {
		log.Warn().Msg("using in-memory store; data is lost on restart")
		m := repository.NewMemoryStore()
		return m, m, nil
	}
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection")
	}
	mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := database.Migrate(mctx, db); err != nil {
		log.Fatal().Err(err).Msg("database migration")
	}
	return repository.NewSessionRepo(db), repository.NewSessionProductRepo(db), db
}

func newLocker(cfg config.Config, rdb *redis.Client, log zerolog.Logger) commerce.Locker {
	if cfg.LockStrategy == "redis" {
		if rdb == nil {
			log.Fatal().Err(commerce.Configuration("PIN_LOCK_STRATEGY=redis needs a reachable redis", nil)).Msg("startup aborted")
		}
		return commerce.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait, log)
	}
	return commerce.NewKeyedMutex(cfg.LockWait)
}
