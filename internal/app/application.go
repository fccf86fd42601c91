package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"adminchat/internal/api"
	"adminchat/internal/auth"
	"adminchat/internal/config"
	"adminchat/internal/hub"
	"adminchat/internal/metrics"
	"adminchat/internal/presence"
	"adminchat/internal/store"
	"adminchat/internal/websocket"
	"adminchat/pkg/database"
)

// Application owns every component and their lifecycles. Construction
// wires the dependency chain store -> auth -> presence -> hub -> transport;
// Stop unwinds it in reverse so nothing broadcasts into a closed store.
type Application struct {
	config  *config.Config
	store   *store.Manager
	hub     *hub.Hub
	server  *http.Server
	cancel  context.CancelFunc
	started bool
}

// New builds the application from configuration. Nothing starts running
// until Start.
func New(cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := database.DefaultConfig(cfg.Database.Path)
	dbConfig.BusyTimeout = cfg.Database.Timeout
	messageStore, err := store.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open message store: %w", err)
	}

	validator := database.NewSchemaValidator(messageStore.GetDB())
	if err := validator.ValidateTablesExist(); err != nil {
		_ = messageStore.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	if err := validator.ValidateIndexes(); err != nil {
		_ = messageStore.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	verifier := auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.Leeway)
	registry := presence.NewRegistry()
	m := metrics.New()
	chatHub := hub.NewHub(registry, messageStore, m, cfg.Database.Timeout)
	wsHandler := websocket.NewHandler(chatHub, verifier, websocket.Config{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		BufferSize:   cfg.WebSocket.BufferSize,
	})

	server := api.NewServer(messageStore, chatHub, verifier, m, wsHandler, api.UploadConfig{
		Dir:           cfg.Upload.Dir,
		MaxImageBytes: cfg.Upload.MaxImageBytes,
		MaxModelBytes: cfg.Upload.MaxModelBytes,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config: cfg,
		store:  messageStore,
		hub:    chatHub,
		server: httpServer,
	}, nil
}

// Start launches the hub and the HTTP listener. It returns once both are
// running; HTTP serve errors are reported on the returned channel.
func (a *Application) Start(ctx context.Context) (<-chan error, error) {
	if a.started {
		return nil, fmt.Errorf("application already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.hub.Start(runCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start hub: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("app: listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	a.started = true
	return errCh, nil
}

// Stop shuts the application down in reverse dependency order: stop
// accepting HTTP, drain the hub, then close the store.
func (a *Application) Stop(timeout time.Duration) error {
	if !a.started {
		return nil
	}
	a.started = false

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var firstErr error
	if err := a.server.Shutdown(ctx); err != nil {
		firstErr = fmt.Errorf("HTTP shutdown: %w", err)
	}
	if err := a.hub.Stop(); err != nil && err != hub.ErrHubNotRunning {
		if firstErr == nil {
			firstErr = fmt.Errorf("hub shutdown: %w", err)
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.store.Close(); err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("store close: %w", err)
		}
	}
	return firstErr
}
