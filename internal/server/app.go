// Package server assembles the storage engine and runs the tierstore daemon:
// the sweep scheduler, the gRPC health endpoint and the Prometheus listener.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/tierstore/internal/lease"
	"github.com/dmitrijs2005/tierstore/internal/logging"
	"github.com/dmitrijs2005/tierstore/internal/metrics"
	"github.com/dmitrijs2005/tierstore/internal/server/config"
	"github.com/dmitrijs2005/tierstore/internal/server/scheduler"

	gs "github.com/dmitrijs2005/tierstore/internal/server/grpc"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	engine    *Engine
	scheduler *scheduler.Scheduler
	locker    *lease.Redis
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.New(os.Stdout, c.LogFormat, c.LogLevel)

	engine, err := OpenEngine(ctx, c, logger, metrics.NewObjectStoreMetrics())
	if err != nil {
		return nil, fmt.Errorf("engine init error: %w", err)
	}

	opts := scheduler.Options{
		LeaseTTL:   c.LeaseTTL,
		Metrics:    metrics.NewSweepMetrics(),
		Checklists: engine.Checklists,
		Logger:     logger,
	}

	var locker *lease.Redis
	if c.RedisURL != "" {
		locker, err = lease.NewRedis(ctx, c.RedisURL)
		if err != nil {
			_ = engine.Close()
			return nil, fmt.Errorf("lease init error: %w", err)
		}
		opts.Locker = locker
	}

	s := scheduler.New(opts)
	s.Add(engine.LocalCollector, c.LocalGCInterval)
	s.Add(engine.RemoteCollector, c.RemoteGCInterval)
	s.Add(engine.Uploader, c.UploadInterval)

	return &App{config: c, logger: logger, engine: engine, scheduler: s, locker: locker}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewHealthServer(app.config.HealthAddr, app.logger, app.engine.DB, 10*time.Second)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run blocks until a signal arrives or a listener fails, then shuts down.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "stage", app.config.Stage, "storage", app.config.Storage)

	app.initSignalHandler(cancelFunc)

	var ms *metrics.Server
	if app.config.MetricsAddr != "" {
		ms = metrics.NewServer(app.config.MetricsAddr)
		if err := ms.Start(); err != nil {
			app.logger.Error(ctx, "metrics listener failed", "error", err)
			ms = nil
		} else {
			app.logger.Info(ctx, "Serving metrics", "address", ms.Addr())
		}
	}

	var wg sync.WaitGroup

	if app.config.HealthAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startGRPCServer(ctx, cancelFunc)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.scheduler.Start(ctx)
	}()

	wg.Wait()

	app.logger.Info(context.Background(), "Stopping app...")
	if ms != nil {
		_ = ms.Close()
	}
	if app.locker != nil {
		_ = app.locker.Close()
	}
	if err := app.engine.Close(); err != nil {
		app.logger.Error(context.Background(), "close engine", "error", err)
	}
}
