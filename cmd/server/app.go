package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Hobrus/dashify.git/internal/app/server/config"
	"github.com/Hobrus/dashify.git/internal/app/server/fault"
	"github.com/Hobrus/dashify.git/internal/app/server/handlers"
	"github.com/Hobrus/dashify.git/internal/app/server/lifecycle"
	"github.com/Hobrus/dashify.git/internal/app/server/metrics"
	"github.com/Hobrus/dashify.git/internal/app/server/publisher"
	"github.com/Hobrus/dashify.git/internal/app/server/scheduler"
	"github.com/Hobrus/dashify.git/internal/app/server/simulate"
	"github.com/Hobrus/dashify.git/internal/app/server/tailer"
	"github.com/Hobrus/dashify.git/internal/pkg/buildinfo"
	"github.com/Hobrus/dashify.git/internal/pkg/logging"
)

type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	channel string

	reg       *metrics.Registry
	refresher *metrics.Refresher
	pub       *publisher.Async
	hub       *publisher.Hub
	server    *lifecycle.Server
	sched     *scheduler.Scheduler
	tail      *tailer.Tailer

	// pipeLogger never writes to the tailed file, so warnings from the
	// tailer and the delivery path are not streamed back into themselves.
	pipeLogger *logrus.Logger
	transport  publisher.Transport

	stopTail context.CancelFunc
	tailDone chan struct{}
}

type appOption func(*app)

// withTransport replaces the transport built from the config.
func withTransport(t publisher.Transport) appOption {
	return func(a *app) { a.transport = t }
}

func newApp(cfg *config.Config, logger *logrus.Logger, opts ...appOption) (*app, error) {
	a := &app{
		cfg:        cfg,
		logger:     logger,
		pipeLogger: logging.Local(logger),
		channel:    publisher.ChannelName(cfg.ClientID),
		reg:        metrics.NewRegistry(),
		tailDone:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := metrics.RegisterServerMetrics(a.reg); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	a.refresher = metrics.NewRefresher(a.reg, logger, cfg.DiskPath)

	var gate sync.Locker
	if cfg.HeadOfLine {
		gate = &sync.Mutex{}
	}

	if a.transport == nil {
		transport, err := a.buildTransport()
		if err != nil {
			return nil, err
		}
		a.transport = transport
	}
	a.pub = publisher.NewAsync(a.transport, a.pipeLogger, a.reg, publisher.DefaultQueueSize)

	a.server = lifecycle.New(cfg.Address(), nil, logger)
	dispatcher := fault.New(fault.Config{
		Channel:        a.channel,
		CPUIterations:  cfg.CPUIterations,
		MemoryFraction: cfg.MemoryFraction,
		OutageDuration: cfg.OutageDuration.Duration,
	}, a.pub, a.reg, logger, simulate.NewMemorySpiker(uint64(cfg.MemoryCeilingMB)<<20), a.server)

	var logFeed http.Handler
	if a.hub != nil {
		logFeed = a.hub
	}
	a.server.SetHandler(handlers.NewRouter(handlers.NewHandler(dispatcher, a.reg, logger, logFeed), gate))

	a.sched = scheduler.New(gate, logger)
	a.tail = tailer.New(cfg.LogFilePath(), a.publishChunk, a.pipeLogger, tailer.Options{
		RetryDelay:   cfg.TailRetryDelay.Duration,
		PollInterval: cfg.TailPollInterval.Duration,
		Gate:         gate,
	})
	return a, nil
}

func (a *app) buildTransport() (publisher.Transport, error) {
	var transports publisher.MultiTransport
	if a.cfg.UsesPusher() {
		transports = append(transports, publisher.NewPusherTransport(publisher.PusherConfig{
			AppID:   a.cfg.Pusher.AppID,
			Key:     a.cfg.Pusher.Key,
			Secret:  a.cfg.Pusher.Secret,
			Cluster: a.cfg.Pusher.Cluster,
			UseTLS:  a.cfg.Pusher.UseTLS,
			Host:    a.cfg.Pusher.Host,
		}))
	}
	if a.cfg.UsesWebsocket() {
		a.hub = publisher.NewHub(a.pipeLogger)
		transports = append(transports, a.hub)
	}

	switch len(transports) {
	case 0:
		return nil, fmt.Errorf("no transport for %q", a.cfg.Transport)
	case 1:
		return transports[0], nil
	default:
		return transports, nil
	}
}

func (a *app) publishChunk(chunk []byte) {
	a.pub.Publish(a.channel, publisher.EventLogs, string(chunk))
}

func (a *app) announce(message string) {
	a.pub.Publish(a.channel, publisher.EventLogs, message)
}

// start brings every component up. The first metric refresh runs before the
// listener opens so the first scrape already has disk and heap values.
func (a *app) start(ctx context.Context) error {
	a.pub.Start()
	a.refresher.Refresh(ctx)

	if err := a.server.Start(); err != nil {
		return err
	}
	port := a.server.Port()
	a.logger.WithFields(logrus.Fields{
		"addr":    a.server.Addr(),
		"channel": a.channel,
		"logFile": a.cfg.LogFilePath(),
		"build":   buildinfo.String(),
	}).Info("Server is listening on port " + port)
	a.announce("Server is listening on port " + port)

	a.sched.Every("metrics-refresh", a.cfg.MetricsInterval.Duration, a.refresher.Refresh)
	a.sched.Every("ping", a.cfg.PingInterval.Duration, func(context.Context) {
		a.announce("Server is still listening at http://localhost:" + port)
	})

	tailCtx, cancel := context.WithCancel(context.Background())
	a.stopTail = cancel
	go func() {
		defer close(a.tailDone)
		if err := a.tail.Run(tailCtx); err != nil {
			a.logger.WithError(err).Error("Log tailer stopped")
		}
	}()
	return nil
}

// shutdown stops timers and the tailer first so nothing new is published,
// then drains the server and the publisher queue.
func (a *app) shutdown(ctx context.Context) error {
	a.sched.Stop()
	if a.stopTail != nil {
		a.stopTail()
		select {
		case <-a.tailDone:
		case <-ctx.Done():
		}
	}

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := a.pub.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("publisher close: %w", err))
	}
	if a.hub != nil {
		a.hub.Close()
	}
	return errors.Join(errs...)
}

// run serves until ctx is cancelled or the server fails.
func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	if err := a.start(ctx); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case serveErr = <-a.server.Errors():
		logger.WithError(serveErr).Error("Server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
	defer cancel()
	if err := a.shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		serveErr = errors.Join(serveErr, err)
	}
	logger.Info("Server stopped gracefully")
	return serveErr
}
