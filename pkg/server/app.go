// Package server owns the application lifecycle: start the stream pipeline
// and the HTTP API, then tear everything down on SIGINT/SIGTERM.
package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wayy-Research/wrdata/internal/domain/models"
	"github.com/Wayy-Research/wrdata/internal/domain/repository"
	"github.com/Wayy-Research/wrdata/internal/stream"
	"github.com/Wayy-Research/wrdata/internal/usecase"
	pkgch "github.com/Wayy-Research/wrdata/pkg/clickhouse"
	"github.com/Wayy-Research/wrdata/pkg/config"
	xhttp "github.com/Wayy-Research/wrdata/pkg/http"
	applogger "github.com/Wayy-Research/wrdata/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg      *config.Config
	log      *applogger.Logger
	manager  *stream.Manager
	router   *usecase.AlertRouter
	storage  repository.Storage
	chClient *pkgch.Client // nil when clickhouse backend is off

	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
}

// New creates an App with all dependencies wired.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	manager *stream.Manager,
	router *usecase.AlertRouter,
	storage repository.Storage,
	chClient *pkgch.Client,
	httpHandler xhttp.Handler,
) *App {
	return &App{
		cfg:         cfg,
		log:         log.Named("app"),
		manager:     manager,
		router:      router,
		storage:     storage,
		chClient:    chClient,
		httpHandler: httpHandler,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.storage != nil {
		if err := a.storage.Init(ctx); err != nil {
			return err
		}
	}

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)

	subs, err := a.manager.StreamMany(ctx, a.cfg.Stream.Symbols, func(ev models.TradeEvent) {
		if err := a.router.Handle(ctx, ev); err != nil {
			a.log.Error("alert routing failed",
				applogger.String("symbol", ev.Symbol),
				applogger.Error(err))
		}
	})
	if err != nil && len(subs) == 0 {
		// nothing to stream; partial failures are already logged
		return err
	}
	a.log.Info("streaming started",
		applogger.Strings("symbols", a.cfg.Stream.Symbols),
		applogger.String("provider", a.cfg.Stream.Provider),
		applogger.Int("live", len(subs)))

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start failed", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	a.log.Info("shutdown signal received")

	cancel()
	return a.shutdown()
}

// shutdown gracefully stops all services.
func (a *App) shutdown() error {
	if err := a.manager.DisconnectAll(); err != nil {
		a.log.Warn("stream teardown error", applogger.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if a.router != nil {
		a.router.Close()
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
