package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/simp-lee/logger"
	"gorm.io/gorm"

	"github.com/productx/backoffice/internal/config"
	"github.com/productx/backoffice/internal/lookup"
	"github.com/productx/backoffice/internal/middleware"
	"github.com/productx/backoffice/internal/module/journal"
	resmodule "github.com/productx/backoffice/internal/module/resource"
	"github.com/productx/backoffice/internal/resource"
	"github.com/productx/backoffice/internal/upload"
	"github.com/productx/backoffice/web"
)

// App holds the console's dependencies and the HTTP server.
type App struct {
	engine *gin.Engine
	db     *gorm.DB
	logger *logger.Logger
	cfg    *config.Config
	views  *resource.Views
	store  lookup.Store
	warmer *lookup.Warmer
}

type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

var newHTTPServer = func(addr string, handler http.Handler) httpServer {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

var notifyContext = func(parent context.Context, signals ...os.Signal) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, signals...)
}

// New creates and wires a fully configured App from the given Config.
//
// It sets up logging, the journal database, the backend client, the resource
// catalog, lookups, uploads, the per-view list state, middleware, template
// rendering and routes. Background work starts in Run.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	var cleanup []func()
	success := false
	defer func() {
		if success {
			return
		}
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// 1. Setup logger.
	log, err := config.SetupLogger(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("setup logger: %w", err)
	}
	cleanup = append(cleanup, func() {
		if err := log.Close(); err != nil {
			slog.Error("logger close error", slog.Any("error", err))
		}
	})

	if cfg.Server.Mode == gin.DebugMode && cfg.Server.Host == "0.0.0.0" {
		log.Warn("insecure server config: debug mode on 0.0.0.0 exposes template hot reload and debug logs")
	}

	// 2. Setup the journal database.
	db, err := config.SetupDatabase(&cfg.Database, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("setup database: %w", err)
	}
	cleanup = append(cleanup, func() { closeDatabase(db, nil) })

	// 3. Backend client and resource catalog.
	client, err := config.SetupBackend(&cfg.Backend, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("setup backend: %w", err)
	}

	validate := validator.New()
	defs, err := resource.LoadDir(cfg.Catalog.Dir)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	catalog, err := resource.NewCatalog(defs, validate)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	log.Info("resource catalog loaded", slog.Int("resources", len(catalog.All())), slog.Int("lookups", len(catalog.Lookups())))

	// 4. Lookups: Redis when reachable, memory otherwise.
	storeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	store := lookup.NewStore(storeCtx, lookup.RedisConfig{
		Addr:     cfg.Lookup.Redis.Addr,
		Password: cfg.Lookup.Redis.Password,
		DB:       cfg.Lookup.Redis.DB,
	}, log.Logger)
	cancel()
	cleanup = append(cleanup, func() { closeStore(store, nil) })

	lookups := lookup.NewService(catalog, client, store, config.Duration(cfg.Lookup.TTL, lookup.DefaultTTL), log.Logger)
	var warmer *lookup.Warmer
	if cfg.Lookup.Refresh != "" {
		warmer, err = lookup.NewWarmer(lookups, cfg.Lookup.Refresh, config.Duration(cfg.Lookup.Timeout, time.Minute), log.Logger)
		if err != nil {
			return nil, fmt.Errorf("setup lookup refresh: %w", err)
		}
	}

	// 5. Uploads.
	provider, err := upload.NewProvider(context.Background(), cfg.Storage, client)
	if err != nil {
		return nil, fmt.Errorf("setup storage: %w", err)
	}
	uploader := upload.NewUploader(provider, upload.Options{
		MaxSize:        cfg.Storage.MaxSize(),
		AllowedExts:    cfg.Storage.AllowedExts,
		BytesPerSecond: cfg.Storage.BytesPerSecond,
	})
	log.Info("storage ready", slog.String("provider", uploader.Provider()))

	// 6. Manual dependency injection: repository → service → handler.
	journalSvc := journal.NewJournalService(journal.NewJournalRepository(db), log.Logger)
	views := resource.NewViews(resource.ViewsConfig{
		TTL:             config.Duration(cfg.Server.ViewTTL, resource.DefaultViewTTL),
		MaxViews:        cfg.Server.MaxViews,
		CleanupInterval: resource.DefaultCleanupInterval,
	}, client, log.Logger)
	cleanup = append(cleanup, views.Close)

	modules := []Module{
		resmodule.NewModule(
			resmodule.NewResourceHandler(catalog, client, lookups),
			resmodule.NewPageHandler(resmodule.PageDeps{
				Catalog:  catalog,
				Views:    views,
				Backend:  client,
				Lookups:  lookups,
				Journal:  journalSvc,
				Validate: validate,
				Logger:   log.Logger,
			}),
			resmodule.NewUploadHandler(catalog, uploader, journalSvc, log.Logger),
		),
		journal.NewModule(journal.NewJournalHandler(journalSvc)),
	}

	// 7. Create Gin engine with custom middleware (not gin.Default()).
	if err := validateGinMode(cfg.Server.Mode); err != nil {
		return nil, err
	}
	gin.SetMode(cfg.Server.Mode)
	engine := gin.New()
	engine.Use(
		middleware.Recovery(log.Logger),
		middleware.RequestIDWithConfig(middleware.RequestIDConfig{
			TrustUpstream: false,
		}),
		middleware.Logger(log.Logger),
	)

	// 8. Determine filesystem mode and set up template renderer.
	var fsys fs.FS
	if cfg.Server.Mode == gin.DebugMode {
		fsys, err = resolveDebugWebFS()
		if err != nil {
			return nil, fmt.Errorf("resolve debug template fs: %w", err)
		}
	} else {
		fsys = web.EmbeddedFS
	}

	renderer, err := NewTemplateRenderer(fsys, cfg.Server.Mode == gin.DebugMode)
	if err != nil {
		return nil, fmt.Errorf("setup template renderer: %w", err)
	}
	engine.HTMLRender = renderer

	// 9. Resolve CSRF secret.
	csrfSecret, err := resolveCSRFSecret(cfg.Server.CSRFSecret, cfg.Server.Mode, log.Logger)
	if err != nil {
		return nil, err
	}

	// 10. Register all routes.
	if err := RegisterRoutes(engine, &RouteDeps{
		Modules:    modules,
		DB:         db,
		Breaker:    client.Breaker(),
		Catalog:    catalog,
		Mode:       cfg.Server.Mode,
		CSRFSecret: csrfSecret,
	}); err != nil {
		return nil, fmt.Errorf("register routes: %w", err)
	}

	success = true
	return &App{
		engine: engine,
		db:     db,
		logger: log,
		cfg:    cfg,
		views:  views,
		store:  store,
		warmer: warmer,
	}, nil
}

// resolveCSRFSecret returns the configured secret, or a random one outside
// release mode when only a placeholder is configured.
func resolveCSRFSecret(secret, mode string, log *slog.Logger) (string, error) {
	if !isPlaceholderCSRFSecret(secret) {
		if mode == gin.ReleaseMode {
			if len(secret) < 32 {
				return "", errors.New("csrf_secret must be at least 32 characters in release mode")
			}
			if config.CountSecretClasses(secret) < 3 {
				return "", errors.New("csrf_secret must include at least 3 character classes in release mode")
			}
		}
		return secret, nil
	}
	if mode == gin.ReleaseMode {
		return "", errors.New("csrf_secret must be a non-placeholder value in release mode")
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate csrf secret: %w", err)
	}
	log.Warn("no csrf_secret configured, using random secret in non-release mode (will change on restart)")
	return hex.EncodeToString(b), nil
}

func isPlaceholderCSRFSecret(secret string) bool {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return true
	}

	switch strings.ToLower(trimmed) {
	case "change-me-to-a-random-secret", "change-me-in-env":
		return true
	default:
		return false
	}
}

func validateGinMode(mode string) error {
	switch mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
		return nil
	default:
		return fmt.Errorf("invalid server.mode %q: must be one of %q, %q, %q", mode, gin.DebugMode, gin.ReleaseMode, gin.TestMode)
	}
}

func resolveDebugWebFS() (fs.FS, error) {
	if _, file, _, ok := runtime.Caller(0); ok {
		webDir := filepath.Clean(filepath.Join(filepath.Dir(file), "..", "..", "web"))
		if stat, err := os.Stat(webDir); err == nil && stat.IsDir() {
			return os.DirFS(webDir), nil
		}
	}

	exePath, err := os.Executable()
	if err == nil {
		webDir := filepath.Join(filepath.Dir(exePath), "web")
		if stat, err := os.Stat(webDir); err == nil && stat.IsDir() {
			return os.DirFS(webDir), nil
		}
	}

	return nil, errors.New("debug web directory not found")
}

// Run starts the HTTP server and the background jobs, and blocks until a
// shutdown signal is received. It performs graceful shutdown with a 5-second
// timeout, waits for a running lookup refresh, and releases the view state,
// the lookup store and the database.
func (a *App) Run() error {
	if a == nil {
		return errors.New("app is nil")
	}
	if a.cfg == nil {
		return errors.New("app config is nil")
	}
	if a.engine == nil {
		return errors.New("app engine is nil")
	}

	log := slog.Default()
	if a.logger != nil {
		log = a.logger.Logger
	}

	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	srv := newHTTPServer(addr, a.engine)

	// Listen for SIGINT / SIGTERM.
	ctx, stop := notifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.warmer != nil {
		a.warmer.Start()
		log.Info("lookup refresh scheduled", slog.String("schedule", a.cfg.Lookup.Refresh))
	}

	// Start HTTP server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		log.Info("server started", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		runErr = fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown with 5-second deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if runErr == nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown error", slog.Any("error", err))
		}
	}

	if a.warmer != nil {
		select {
		case <-a.warmer.Stop().Done():
		case <-shutdownCtx.Done():
			log.Warn("lookup refresh still running at shutdown")
		}
	}
	if a.views != nil {
		a.views.Close()
	}
	closeStore(a.store, log)
	closeDatabase(a.db, log)

	log.Info("server stopped")
	if a.logger != nil {
		if err := a.logger.Close(); err != nil {
			slog.Error("logger close error", slog.Any("error", err))
		}
	}

	return runErr
}

// closeStore closes a store holding a connection, such as Redis.
func closeStore(store lookup.Store, log *slog.Logger) {
	closer, ok := store.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil && log != nil {
		log.Error("lookup store close error", slog.Any("error", err))
	}
}

func closeDatabase(db *gorm.DB, log *slog.Logger) {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		if log == nil {
			log = slog.Default()
		}
		log.Error("database close error", slog.Any("error", err))
		return
	}
	if log != nil {
		log.Info("database connection closed")
	}
}
