package serverrun

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	cfgpkg "github.com/rosterhq/roster/internal/config"
	"github.com/rosterhq/roster/internal/dedupe"
	"github.com/rosterhq/roster/internal/queue"
	"github.com/rosterhq/roster/internal/runtime"
	httpserver "github.com/rosterhq/roster/internal/server/http"
	"github.com/rosterhq/roster/internal/worker"
	logpkg "github.com/rosterhq/roster/pkg/log"
)

type Options struct {
	Config cfgpkg.Config
}

// Run starts the worker pool and HTTP server and blocks until ctx is
// cancelled.
func Run(ctx context.Context, opts Options) error {
	// Be robust to callers that don't pass a signal-aware context.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return err
	}

	procLogger, err := logpkg.ApplyConfig(&logpkg.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	if err != nil {
		procLogger = logpkg.NewLogger(
			logpkg.WithLevel(logpkg.InfoLevel),
			logpkg.WithFormatter(&logpkg.TextFormatter{}),
		)
	}

	// Redirect stdlib logs (e.g., Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: procLogger})
	if err != nil {
		return err
	}
	defer rt.Close()

	procLogger.Info("Starting roster server",
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("fsync", cfg.FsyncMode),
		logpkg.Int("workers", cfg.Worker.Concurrency),
		logpkg.Bool("mirror", cfg.Mirror.AMQPURL != ""),
	)

	consumer := queue.NewConsumer(rt.Tubes(), cfg.Queue.LeaseMs)
	pool := worker.New(consumer, rt.Store(), dedupe.New(rt.Store()), rt.Bus(), worker.Config{
		Concurrency:    cfg.Worker.Concurrency,
		ReserveTimeout: time.Duration(cfg.Worker.ReserveTimeoutMs) * time.Millisecond,
		LeaseMs:        cfg.Queue.LeaseMs,
		MaxAttempts:    uint32(cfg.Worker.MaxAttempts),
		BackoffBase:    time.Duration(cfg.Worker.BackoffBaseMs) * time.Millisecond,
		BackoffCap:     time.Duration(cfg.Worker.BackoffCapMs) * time.Millisecond,
	}, procLogger)

	hsrv := httpserver.New(rt)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Run(sctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, cfg.HTTPAddr); err != nil && sctx.Err() == nil {
			procLogger.Error("http server stopped", logpkg.Err(err))
		}
	}()

	<-sctx.Done()
	hsrv.Close()
	wg.Wait()
	return nil
}
