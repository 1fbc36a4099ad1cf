package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"parley/internal/api"
	"parley/internal/auth"
	"parley/internal/cache"
	"parley/internal/config"
	"parley/internal/database"
	"parley/internal/engine"
	"parley/internal/roomtree"
	"parley/internal/session"
	"parley/internal/transport"
	"parley/internal/upload"
	pkgdatabase "parley/pkg/database"
	"parley/pkg/interfaces"
)

// Application wires all components together in dependency order:
// store -> registry/tree/cache -> hub -> engine -> handlers -> HTTP.
type Application struct {
	config     *config.Config
	store      *database.Manager
	hub        *transport.Hub
	engine     *engine.Engine
	httpServer *http.Server
	limiter    *transport.RateLimiter

	limiterDone chan struct{}
}

func NewApplication(cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.DatabasePath

	store, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize durable store: %w", err)
	}

	registry := session.NewRegistry()
	tree := roomtree.New()
	msgCache := cache.New(cfg.CacheSize)
	hub := transport.NewHub()

	eng := engine.New(store, hub, registry, tree, msgCache, cfg.HistoryLimit)

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	limiter := transport.NewRateLimiter(cfg.RateLimit)
	wsHandler := transport.NewHandler(hub, eng, tokens, limiter)

	uploads, err := upload.NewStore(cfg.UploadDir, cfg.MaxUploadBytes)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize upload store: %w", err)
	}

	apiServer := api.NewServer(store, eng, tokens, uploads, wsHandler)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	app := &Application{
		config:      cfg,
		store:       store,
		hub:         hub,
		engine:      eng,
		httpServer:  httpServer,
		limiter:     limiter,
		limiterDone: make(chan struct{}),
	}

	if err := app.seed(context.Background()); err != nil {
		_ = store.Close()
		return nil, err
	}

	return app, nil
}

// seed guarantees a usable installation on first boot: one admin account
// (when configured) and the default room, so clients always have somewhere
// to join.
func (app *Application) seed(ctx context.Context) error {
	if app.config.AdminPassword != "" {
		admins, err := app.store.CountAdmins(ctx)
		if err != nil {
			return fmt.Errorf("failed to count admins: %w", err)
		}
		if admins == 0 {
			hash, err := auth.HashPassword(app.config.AdminPassword)
			if err != nil {
				return fmt.Errorf("invalid admin password: %w", err)
			}
			if _, err := app.store.CreateUser(ctx, app.config.AdminUsername, app.config.AdminEmail, hash, true); err != nil && !errors.Is(err, interfaces.ErrUserExists) {
				return fmt.Errorf("failed to seed admin account: %w", err)
			}
			log.Printf("Seeded admin account %q", app.config.AdminUsername)
		}
	}

	if app.config.DefaultRoom != "" {
		if _, err := app.store.FindRoomByName(ctx, app.config.DefaultRoom); errors.Is(err, interfaces.ErrRoomNotFound) {
			if _, err := app.store.CreateRoom(ctx, app.config.DefaultRoom, false, ""); err != nil && !errors.Is(err, interfaces.ErrRoomExists) {
				return fmt.Errorf("failed to seed default room: %w", err)
			}
			log.Printf("Seeded default room %q", app.config.DefaultRoom)
		}
	}

	return nil
}

// Start launches the HTTP server and the rate limiter janitor, returning
// once the server is accepting connections.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting parley on %s", app.httpServer.Addr)

	go app.limiterJanitor()

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("Parley started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (app *Application) limiterJanitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			app.limiter.Cleanup()
		case <-app.limiterDone:
			return
		}
	}
}

// Stop shuts components down in reverse order: HTTP first so no new events
// arrive, then the store so pending writes flush.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down parley")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	close(app.limiterDone)

	if err := app.store.Close(); err != nil {
		log.Printf("Durable store shutdown error: %v", err)
	}

	log.Printf("Parley shutdown complete")
	return nil
}
