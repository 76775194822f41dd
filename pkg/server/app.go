package server

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/victorescoto/fiap-ml-finance/pkg/config"
	xhttp "github.com/victorescoto/fiap-ml-finance/pkg/http"
	pkgkafka "github.com/victorescoto/fiap-ml-finance/pkg/kafka"
	applogger "github.com/victorescoto/fiap-ml-finance/pkg/logger"
	"github.com/victorescoto/fiap-ml-finance/pkg/queue"
)

// App encapsulates the serving process lifecycle: the HTTP API plus the optional
// event consumer and job worker.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	httpServer *xhttp.Server
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	worker     *queue.RedisQueue
	closers    []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

// New creates the App. consumer, kh and worker may be nil.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	httpHandler xhttp.Handler,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	worker *queue.RedisQueue,
) *App {
	if l == nil {
		l = applogger.NewNop()
	}
	srv := xhttp.NewServer(httpHandler,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORSOrigins(cfg.Server.CORSOrigins),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithLogger(l),
	)
	return &App{cfg: cfg, l: l, httpServer: srv, consumer: consumer, kh: kh, worker: worker}
}

// AddCloser registers infrastructure released after every component stopped.
// Closers run in reverse registration order.
func (a *App) AddCloser(name string, c io.Closer) {
	if c != nil {
		a.closers = append(a.closers, namedCloser{name: name, c: c})
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component and blocks until ctx is done.
func (a *App) RunContext(ctx context.Context) error {
	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			a.l.Error("kafka consumer start error", applogger.Error(err))
			return err
		}
		a.l.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if a.worker != nil {
		if err := a.worker.Start(); err != nil {
			a.l.Error("job worker start error", applogger.Error(err))
			a.shutdown()
			return err
		}
		a.l.Info("job worker started")
	}

	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		a.shutdown()
		return err
	}
	a.l.Info("http server started",
		applogger.Int("port", a.cfg.Server.Port),
		applogger.String("env", a.cfg.Environment),
		applogger.Strings("symbols", a.cfg.Symbols),
	)

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	a.shutdown()
	return nil
}

// shutdown gracefully stops all services.
func (a *App) shutdown() {
	a.l.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
	}

	if a.worker != nil {
		if err := a.worker.Stop(shutdownCtx); err != nil {
			a.l.Warn("job worker stop error", applogger.Error(err))
		}
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		nc := a.closers[i]
		if err := nc.c.Close(); err != nil {
			a.l.Warn("close error", applogger.String("component", nc.name), applogger.Error(err))
		}
	}

	a.l.Info("shutdown complete")
}
