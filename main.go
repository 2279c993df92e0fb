package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"retro-sync/api"
	"retro-sync/board"
	"retro-sync/presence"
	"retro-sync/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{})
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	deps, closeBackends, err := buildDeps(cfg, logger)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	defer closeBackends()

	auth, err := buildAuth(cfg)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}
	deps.Auth = auth
	deps.Session = cfg.sessionConfig()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Decompress())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))
	if cfg.Debug {
		pprof.Register(e)
	}

	gateway := api.Register(e, deps, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()
	logger.WithField("addr", cfg.ListenAddr).Info("retro-sync listening")

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("sessions did not close in time")
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
}

// buildDeps picks the backends: Redis when configured, else the local
// store; Azure for the directory and exports when configured, else the tree
// directory with exports disabled.
func buildDeps(cfg Config, logger *log.Logger) (api.Deps, func(), error) {
	var (
		deps    api.Deps
		rc      *redis.Client
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.RedisConnectionString != "" {
		rc = redis.NewClient(redisOptions(cfg.RedisConnectionString))
		closers = append(closers, func() {
			if err := rc.Close(); err != nil {
				logger.WithError(err).Warn("redis close")
			}
		})
		deps.Remote = storage.NewRedisStore(rc, logger)
		deps.History = storage.NewRedisHistory(rc, cfg.HistoryTTL)
		deps.Deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	} else {
		local, err := storage.NewLocalStore(cfg.LocalStoreDir, logger)
		if err != nil {
			return api.Deps{}, closeAll, err
		}
		logger.WithField("dir", cfg.LocalStoreDir).Warn("REDIS_CONNECTION_STRING not set; boards are shared within this process only")
		deps.Remote = local
		deps.History = presence.NewTreeHistory(local)
	}

	if cfg.StorageConnectionString != "" {
		if cfg.ProvisionStorage {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			err := storage.Provision(ctx, cfg.StorageConnectionString, cfg.BoardsTable, cfg.ExportQueue)
			cancel()
			if err != nil {
				closeAll()
				return api.Deps{}, func() {}, err
			}
			logger.Info("storage provisioned")
		}
		st, err := storage.New(cfg.StorageConnectionString, cfg.BoardsTable, cfg.ExportQueue)
		if err != nil {
			closeAll()
			return api.Deps{}, func() {}, err
		}
		deps.Exporter = st
		var dir board.Directory = st
		if rc != nil {
			dir = storage.NewCache(st, rc, cfg.DirectoryCacheTTL)
		}
		deps.Directory = dir
	} else {
		deps.Directory = storage.NewTreeDirectory(deps.Remote)
	}
	return deps, closeAll, nil
}

func buildAuth(cfg Config) (*api.Auth, error) {
	if cfg.LocalAuthMode != "" {
		return api.NewAuth(nil, cfg.authConfig()), nil
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, cfg.authConfig()), nil
}
