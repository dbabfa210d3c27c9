package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"geochat/internal/api"
	"geochat/internal/config"
	"geochat/internal/hub"
	"geochat/internal/presence"
	"geochat/internal/registry"
	"geochat/internal/relay"
	"geochat/internal/router"
	"geochat/internal/store"
	"geochat/internal/websocket"
)

// Application wires the components in dependency order:
// store -> presence -> registry -> router -> hub -> transports.
type Application struct {
	config     *config.Config
	log        *zap.Logger
	store      *store.SQLite
	registry   *registry.Registry
	hub        *hub.Hub
	httpServer *http.Server
}

func NewApplication(cfg *config.Config, log *zap.Logger) (*Application, error) {
	st, err := store.Open(cfg.Store.Path, log.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	// Presence is wiped at boot. Clients re-submit their location when
	// they reconnect, so stale rows from the previous run only confuse
	// the roster.
	ctx := context.Background()
	if err := st.Clear(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("clear store: %w", err)
	}
	if cfg.Relay.Seed {
		if _, err := st.Upsert(ctx, cfg.Relay.Participant, cfg.Relay.Participant,
			cfg.Relay.SeedLatitude, cfg.Relay.SeedLongitude); err != nil {
			st.Close()
			return nil, fmt.Errorf("seed relay participant: %w", err)
		}
	}

	pres := presence.New(st, log.Named("presence"))
	reg := registry.New(log.Named("registry"))
	relayClient := relay.New(cfg.Relay.URL, cfg.Relay.Timeout, log.Named("relay"))
	rtr := router.New(reg, st, relayClient, cfg.Relay.Participant, cfg.Relay.Timeout, log.Named("router"))
	h := hub.New(reg, pres, rtr, log.Named("hub"))
	apiServer := api.NewServer(pres, st, reg, h, log.Named("api"))
	wsHandler := websocket.NewHandler(reg, h, websocket.Options{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		SendBuffer:   cfg.WebSocket.SendBuffer,
	}, log.Named("websocket"))

	mux := http.NewServeMux()
	mux.Handle("/users", apiServer)
	mux.Handle("/users/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		log:        log,
		store:      st,
		registry:   reg,
		hub:        h,
		httpServer: httpServer,
	}, nil
}

func (app *Application) Start(ctx context.Context) error {
	app.log.Info("starting", zap.String("addr", app.httpServer.Addr))

	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("start hub: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.hub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		app.log.Info("started")
		return nil
	case <-ctx.Done():
		app.hub.Stop()
		return ctx.Err()
	}
}

// Stop shuts components down in reverse order: HTTP, hub, store.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info("shutting down")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.Warn("http shutdown", zap.Error(err))
	}
	if err := app.hub.Stop(); err != nil {
		app.log.Warn("hub shutdown", zap.Error(err))
	}
	for _, conn := range app.registry.Connections() {
		_ = conn.Close()
	}
	if err := app.store.Close(); err != nil {
		app.log.Warn("store shutdown", zap.Error(err))
	}

	app.log.Info("shutdown complete")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("GEOCHAT_CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	app, err := NewApplication(cfg, log)
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	appErrCh := make(chan error, 1)
	go func() {
		if err := app.Start(ctx); err != nil {
			appErrCh <- err
		}
	}()

	select {
	case err := <-appErrCh:
		return fmt.Errorf("application error: %w", err)
	case sig := <-signalCh:
		log.Info("signal received", zap.String("signal", sig.String()))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return app.Stop(shutdownCtx)
	}
}
