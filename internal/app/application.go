package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"taskflow/internal/api"
	"taskflow/internal/auth"
	"taskflow/internal/config"
	"taskflow/internal/database"
	"taskflow/internal/events"
	"taskflow/internal/hub"
	"taskflow/internal/tracker"
	"taskflow/internal/websocket"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config      *config.Config
	logger      *zap.Logger
	store       *database.Manager
	verifier    *auth.Verifier
	broadcaster *hub.Broadcaster
	tracker     *tracker.Tracker
	apiServer   *api.Server
	gateway     *websocket.Gateway
	httpServer  *http.Server

	mu       sync.Mutex
	listener net.Listener
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Store → Verifier → Broadcaster → Emitter → Tracker → API → Gateway → HTTP
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Auth.JWTSecret == config.DefaultJWTSecret {
		logger.Warn("using the default JWT secret; set TASKFLOW_AUTH_JWT_SECRET in production")
	}

	// STEP 1: Open the document store and apply migrations
	store, err := database.NewManager(cfg.StoreConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.Timeout)
	defer cancel()
	if err := store.HealthCheck(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("database health check failed: %w", err)
	}

	// STEP 2: One verifier shared by REST and the realtime handshake
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	// STEP 3: Room broadcaster and the commit-then-emit path into it
	broadcaster := hub.NewBroadcaster(logger)
	emitter := events.NewEmitter(broadcaster, logger)
	svc := tracker.New(store, emitter, logger)

	// STEP 4: REST API and realtime gateway on one router
	apiServer := api.NewServer(svc, verifier, verifier, broadcaster, api.Config{
		RequestsPerMinute:   cfg.RateLimit.RequestsPerMinute,
		EnableTokenEndpoint: cfg.Auth.TokenEndpoint,
	}, logger)

	gateway := websocket.NewGateway(verifier, broadcaster, websocket.GatewayConfig{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		BufferSize:   cfg.WebSocket.BufferSize,
	}, logger)
	apiServer.Handle("/ws", gateway)

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		logger:      logger.Named("app"),
		store:       store,
		verifier:    verifier,
		broadcaster: broadcaster,
		tracker:     svc,
		apiServer:   apiServer,
		gateway:     gateway,
		httpServer:  httpServer,
	}, nil
}

// Start begins application execution
// The broadcaster starts first so the gateway never accepts a connection it
// cannot register; the listener is bound before Start returns
func (app *Application) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// STEP 1: Start the room broadcaster
	if err := app.broadcaster.Start(); err != nil {
		return fmt.Errorf("failed to start broadcaster: %w", err)
	}

	// STEP 2: Bind and serve HTTP
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.broadcaster.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	app.mu.Lock()
	app.listener = listener
	app.stopCh = make(chan struct{})
	app.mu.Unlock()

	app.wg.Add(2)
	go func() {
		defer app.wg.Done()
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	go app.cleanupLoop(app.stopCh)

	app.logger.Info("taskflow started", zap.String("addr", listener.Addr().String()))
	return nil
}

// cleanupLoop drops idle rate limiter entries
func (app *Application) cleanupLoop(stop <-chan struct{}) {
	defer app.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			app.apiServer.Limiter().Cleanup()
		case <-stop:
			return
		}
	}
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Broadcaster (closes realtime connections) → Store
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down taskflow")

	// STEP 1: Stop accepting new requests
	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	// STEP 2: Close realtime connections
	if err := app.broadcaster.Stop(); err != nil && !errors.Is(err, hub.ErrBroadcasterStopped) {
		app.logger.Warn("broadcaster shutdown error", zap.Error(err))
	}

	app.mu.Lock()
	if app.stopCh != nil {
		close(app.stopCh)
		app.stopCh = nil
	}
	app.mu.Unlock()
	app.wg.Wait()

	// STEP 3: Close database connections
	if err := app.store.Close(); err != nil {
		app.logger.Warn("database shutdown error", zap.Error(err))
		return err
	}

	app.logger.Info("taskflow shutdown complete")
	return nil
}

// Addr returns the bound listener address, or the configured one before Start
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Verifier exposes the credential verifier, which also issues tokens
func (app *Application) Verifier() *auth.Verifier {
	return app.verifier
}

// Broadcaster exposes the room broadcaster for stats
func (app *Application) Broadcaster() *hub.Broadcaster {
	return app.broadcaster
}
