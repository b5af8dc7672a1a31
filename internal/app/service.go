package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"banknotify/internal/clock"
	"banknotify/internal/config"
	"banknotify/internal/dispatch"
	"banknotify/internal/i18n"
	"banknotify/internal/ingest"
	"banknotify/internal/kinds"
	"banknotify/internal/logging"
	"banknotify/internal/metrics"
	"banknotify/internal/notify"
	"banknotify/internal/notifyqueue"
	"banknotify/internal/store"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout  = 10 * time.Second
	cronStopTimeout  = 5 * time.Second
	storeOpenTimeout = 15 * time.Second
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable notification service.
type Service struct {
	source   config.ConfigSource
	logger   *slog.Logger
	closeLog func()
	store    store.Store
	metrics  *metrics.Metrics
	pipeline *Pipeline
	httpSrv  *http.Server
	natsSub  interface{ Close() error }

	mu        sync.Mutex
	cfg       config.Config
	notifyQ   notifyqueue.Worker
	notifyPub notifyqueue.Producer

	readyFlag atomic.Bool
	clock     clock.Clock
}

// notifyRuntime is the delivery side built from one config snapshot.
type notifyRuntime struct {
	transmitter dispatch.Transmitter
	producer    notifyqueue.Producer
	worker      notifyqueue.Worker
}

func (r notifyRuntime) close() {
	if r.worker != nil {
		_ = r.worker.Close()
	}
	if r.producer != nil {
		_ = r.producer.Close()
	}
}

// NewService builds service instance from config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	service := &Service{
		source:   source,
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		metrics:  metrics.New(),
		clock:    clk,
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeOpenTimeout)
	defer cancel()
	st, err := store.Open(ctx, cfg)
	if err != nil {
		service.cleanupInitResources()
		return nil, fmt.Errorf("open store: %w", err)
	}
	service.store = st

	catalog, err := i18n.Load(cfg.Locale.Dir)
	if err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	runtime, err := service.buildNotifyRuntime(cfg)
	if err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	service.notifyPub = runtime.producer
	service.notifyQ = runtime.worker

	service.pipeline = NewPipeline(PipelineDeps{
		Config:      cfg,
		Store:       st,
		Catalog:     catalog,
		Classes:     kinds.All(),
		Transmitter: runtime.transmitter,
		Metrics:     service.metrics,
		Logger:      logger,
		Clock:       clk,
	})
	service.buildHTTPServer()
	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	logger.Info("service initialized",
		"mode", cfg.Service.Mode,
		"store", cfg.Store.Backend,
		"lang", cfg.Service.Lang,
		"queue", cfg.Notify.Queue.Enabled,
		"classes_enabled", len(dispatch.EnabledClasses(kinds.All(), cfg.Notifications, logger)),
	)
	return service, nil
}

// Pipeline returns the notification pipeline sink.
func (s *Service) Pipeline() *Pipeline {
	return s.pipeline
}

// Handler returns the HTTP handler served by the service.
func (s *Service) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler, err := s.buildReloadScheduler()
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.logger.Info("http server starting", "listen", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	if scheduler != nil {
		scheduler.Start()
		s.logger.Info("config reload scheduled", "schedule", s.currentConfig().Service.ReloadSchedule)
	}
	s.readyFlag.Store(true)

	group.Go(func() error {
		<-groupCtx.Done()
		if scheduler != nil {
			stopCtx := scheduler.Stop()
			select {
			case <-stopCtx.Done():
			case <-time.After(cronStopTimeout):
			}
		}
		return s.shutdown()
	})
	return group.Wait()
}

// buildReloadScheduler registers config reload on the cron schedule.
// Params: none.
// Returns: cron scheduler or nil when reload is disabled.
func (s *Service) buildReloadScheduler() (*cron.Cron, error) {
	cfg := s.currentConfig()
	if !cfg.Service.ReloadEnabled {
		return nil, nil
	}
	scheduler := cron.New()
	_, err := scheduler.AddFunc(cfg.Service.ReloadSchedule, func() {
		if err := s.reloadConfig(); err != nil {
			s.logger.Error("reload failed", "error", err.Error())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule config reload %q: %w", cfg.Service.ReloadSchedule, err)
	}
	return scheduler, nil
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("http shutdown: %w", err))
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
	}

	s.mu.Lock()
	worker, producer := s.notifyQ, s.notifyPub
	s.notifyQ, s.notifyPub = nil, nil
	s.mu.Unlock()
	if worker != nil {
		if err := worker.Close(); err != nil {
			s.logger.Error("notify queue worker close failed", "error", err.Error())
			markErr(fmt.Errorf("notify queue worker close: %w", err))
		}
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			s.logger.Error("notify queue producer close failed", "error", err.Error())
			markErr(fmt.Errorf("notify queue producer close: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
	s.logger.Info("service stopped")
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	notifyRuntime{producer: s.notifyPub, worker: s.notifyQ}.close()
	s.notifyQ, s.notifyPub = nil, nil
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildHTTPServer wires chi router with API endpoints.
// Params: none.
// Returns: none.
func (s *Service) buildHTTPServer() {
	cfg := s.currentConfig()
	api := NewAPI(cfg.Ingest.HTTP, s.store, s.pipeline, s.metrics, &s.readyFlag, s.logger)
	s.httpSrv = &http.Server{
		Addr:              cfg.Ingest.HTTP.Listen,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// buildNATSSubscriber starts NATS ingest when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	cfg := s.currentConfig()
	if isSingleMode(cfg) || !cfg.Ingest.NATS.Enabled {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(cfg.Ingest.NATS, observedSink("nats", s.pipeline, s.metrics), s.logger)
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

// reloadConfig atomically reloads and applies new config snapshot.
// Params: none.
// Returns: reload or apply error.
func (s *Service) reloadConfig() error {
	nextCfg, err := config.LoadSnapshot(s.source)
	if err != nil {
		return err
	}
	current := s.currentConfig()
	if isSingleMode(nextCfg) != isSingleMode(current) {
		return errors.New("service.mode change requires restart")
	}
	if nextCfg.Store != current.Store {
		s.logger.Warn("store settings changed; restart required to apply", "backend", nextCfg.Store.Backend)
	}

	runtime, err := s.buildNotifyRuntime(nextCfg)
	if err != nil {
		return err
	}
	s.pipeline.Apply(nextCfg, runtime.transmitter)

	s.mu.Lock()
	previous := notifyRuntime{producer: s.notifyPub, worker: s.notifyQ}
	s.notifyPub, s.notifyQ = runtime.producer, runtime.worker
	s.cfg = nextCfg
	s.mu.Unlock()
	previous.close()

	s.logger.Info("configuration reloaded",
		"classes_enabled", len(dispatch.EnabledClasses(kinds.All(), nextCfg.Notifications, s.logger)),
	)
	return nil
}

// buildNotifyRuntime creates transmitter and optional queue pair from config snapshot.
// Params: config snapshot.
// Returns: direct router transmitter or queue-backed transmitter with its worker.
func (s *Service) buildNotifyRuntime(cfg config.Config) (notifyRuntime, error) {
	router := notify.NewRouter(cfg.Notify, s.logger)
	if len(router.Channels()) == 0 {
		s.logger.Warn("no notify channels are enabled")
	}
	if isSingleMode(cfg) || !cfg.Notify.Queue.Enabled {
		return notifyRuntime{transmitter: router}, nil
	}

	producer, err := notifyqueue.NewNATSProducer(cfg.Notify.Queue)
	if err != nil {
		return notifyRuntime{}, err
	}
	worker, err := notifyqueue.NewNATSWorker(cfg.Notify.Queue, s.logger, func(ctx context.Context, job notifyqueue.Job) error {
		_, err := router.Deliver(ctx, job.Channel, job.Notification)
		return err
	})
	if err != nil {
		_ = producer.Close()
		return notifyRuntime{}, err
	}
	return notifyRuntime{
		transmitter: notifyqueue.NewTransmitter(producer, router.Channels(), s.clock.Now),
		producer:    producer,
		worker:      worker,
	}, nil
}

func (s *Service) currentConfig() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func isSingleMode(cfg config.Config) bool {
	return config.NormalizeServiceMode(cfg.Service.Mode) == config.ServiceModeSingle
}
