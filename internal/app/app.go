package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/marianozunino/relay/internal/blob"
	"github.com/marianozunino/relay/internal/config"
	"github.com/marianozunino/relay/internal/expiration"
	"github.com/marianozunino/relay/internal/handler"
	"github.com/marianozunino/relay/internal/metadata"
	"github.com/marianozunino/relay/internal/metrics"
	middie "github.com/marianozunino/relay/internal/middleware"
	"github.com/marianozunino/relay/internal/session"
	"github.com/marianozunino/relay/internal/token"
	"github.com/marianozunino/relay/internal/transfer"
)

// multipart framing on top of the largest accepted file
const uploadOverheadBytes = 1 << 20

// App represents the application
type App struct {
	server  *echo.Echo
	sweeper *expiration.Sweeper
	config  *config.Config
	durable *metadata.Durable
	redis   *redis.Client
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New wires the relay. When the record store cannot be reached the relay
// starts in degraded mode on top of the blob directory layout.
func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}

	configData, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	log.Info("configuration loaded", zap.String("config", string(configData)))

	if err := setup(cfg); err != nil {
		return nil, err
	}

	blobs := blob.NewOS(cfg.UploadPath)
	if err := blobs.Init(); err != nil {
		return nil, fmt.Errorf("failed to prepare upload path: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		config: cfg,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}

	var backend metadata.Backend
	durable, err := metadata.Probe(cfg.Database.Driver, cfg.Database.DSN, log)
	if err != nil {
		log.Warn("record store unavailable, running in degraded mode: pins are not checked and quotas are not enforced",
			zap.String("driver", cfg.Database.Driver),
			zap.Error(err))
		backend = metadata.NewFallback(blobs, cfg.SessionTTL(), cfg.FileTTL(), cfg.MaxDownloads, log)
		metrics.DurableStoreUp.Set(0)
	} else {
		app.durable = durable
		backend = durable
		metrics.DurableStoreUp.Set(1)
	}

	store := app.tokenStore(ctx)
	tokens := token.NewAuthority(store, cfg.TokenTTL(), cfg.MaxDownloads, log)

	sessions := session.NewManager(backend, blobs, tokens, cfg.SessionTTL(), cfg.MaxSessionTTL(), log)
	transfers := transfer.NewService(backend, blobs, tokens, transfer.Limits{
		MaxFileBytes:       cfg.MaxSizeToBytes(),
		MaxFilesPerSession: cfg.MaxFilesPerSession,
		FileTTL:            cfg.FileTTL(),
		MaxDownloads:       cfg.MaxDownloads,
	}, log)
	app.sweeper = expiration.NewSweeper(backend, blobs, tokens, cfg.CleanupEvery(), log)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.HTTPErrorHandler(log)

	// Configure timeouts for large file uploads
	e.Server.ReadTimeout = 10 * time.Minute
	e.Server.WriteTimeout = 10 * time.Minute
	e.Server.IdleTimeout = 15 * time.Minute
	e.Server.ReadHeaderTimeout = 30 * time.Second

	log.Debug("server timeouts configured",
		zap.Duration("read", e.Server.ReadTimeout),
		zap.Duration("write", e.Server.WriteTimeout),
		zap.Duration("idle", e.Server.IdleTimeout))

	e.Use(middleware.Recover())
	e.Use(middie.RequestLogger(log.Named("access")))
	e.Use(middie.SecurityHeaders())

	app.server = e
	h := handler.NewHandler(cfg, backend, sessions, transfers, tokens, app.sweeper, log)
	registerRoutes(e, app, h)

	if cfg.AdminToken == "" {
		log.Warn("admin_token is not set, admin routes are open")
	}
	return app, nil
}

// tokenStore picks the configured token store. An unreachable Redis falls
// back to process memory.
func (a *App) tokenStore(ctx context.Context) token.Store {
	if a.config.TokenStore != "redis" {
		return token.NewMemoryStore()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.config.Redis.Addr,
		Password: a.config.Redis.Password,
		DB:       a.config.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		a.log.Warn("redis unavailable, keeping download tokens in memory",
			zap.String("addr", a.config.Redis.Addr),
			zap.Error(err))
		client.Close()
		return token.NewMemoryStore()
	}

	a.redis = client
	a.log.Info("download tokens stored in redis", zap.String("addr", a.config.Redis.Addr))
	return token.NewRedisStore(client, a.config.Redis.Prefix)
}

// Start starts the sweeper and the HTTP server
func (a *App) Start() error {
	if err := a.sweeper.Start(a.ctx); err != nil {
		return err
	}

	serverAddr := fmt.Sprintf(":%d", a.config.Port)

	go func() {
		if err := a.server.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server stopped", zap.Error(err))
		}
	}()

	a.log.Info("server started", zap.String("addr", serverAddr))
	return nil
}

// Stop stops background work and releases the stores
func (a *App) Stop() {
	a.sweeper.Stop()
	a.cancel()

	if a.durable != nil {
		if err := a.durable.Close(); err != nil {
			a.log.Warn("failed to close record store", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("failed to close redis client", zap.Error(err))
		}
	}
}

// Shutdown gracefully shuts down the server
func (a *App) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

// setup ensures all necessary directories exist
func setup(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.UploadPath, 0o755); err != nil {
		return err
	}

	if cfg.Database.Driver == "sqlite3" && cfg.Database.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0o755); err != nil {
			return err
		}
	}

	return nil
}

// registerRoutes registers all HTTP routes
func registerRoutes(e *echo.Echo, app *App, h *handler.Handler) {
	cfg := app.config

	e.Use(middleware.BodyLimit(
		fmt.Sprintf("%dK", (cfg.MaxSizeToBytes()+uploadOverheadBytes)/1024),
	))

	join := middie.NewIPRateLimiter(app.ctx, cfg.JoinRatePerMinute, 5, app.log.Named("ratelimit"))
	admin := middie.AdminToken(cfg.AdminToken)

	api := e.Group("/api")
	api.POST("/session/create", h.HandleCreateSession)
	api.POST("/session/find", h.HandleFindSession, join.Handler())
	api.DELETE("/session", h.HandleDeleteSession)

	api.POST("/upload", h.HandleUpload)
	api.GET("/files", h.HandleListFiles)
	api.DELETE("/files/:id", h.HandleDeleteFile)
	api.GET("/download/:filename", h.HandleDownload)

	api.POST("/admin/cleanup", h.HandleCleanup, admin)
	api.GET("/admin/stats", h.HandleStats, admin)

	api.GET("/health", h.HandleHealth)
	api.GET("/ip", h.HandleNetworkInfo)

	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
}
