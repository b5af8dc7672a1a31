package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"banknotify/internal/clock"
	"banknotify/internal/config"
	"banknotify/internal/dispatch"
	"banknotify/internal/domain"
	"banknotify/internal/i18n"
	"banknotify/internal/metrics"
	"banknotify/internal/store"
)

// Pipeline runs one notification pass per ingested transaction batch.
// Params: store, locale catalog, class registry, transmitter, and config snapshot.
// Returns: ingest sink backed by dispatch.SendNotifications.
type Pipeline struct {
	mu          sync.RWMutex
	cfg         config.Config
	transmitter dispatch.Transmitter

	store   store.Store
	catalog *i18n.Catalog
	classes []dispatch.Class
	metrics *metrics.Metrics
	logger  *slog.Logger
	clock   clock.Clock
}

// PipelineDeps groups pipeline collaborators.
type PipelineDeps struct {
	Config      config.Config
	Store       store.Store
	Catalog     *i18n.Catalog
	Classes     []dispatch.Class
	Transmitter dispatch.Transmitter
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Clock       clock.Clock
}

// NewPipeline creates notification pipeline.
// Params: pipeline dependencies; Metrics and Clock are optional.
// Returns: ready pipeline.
func NewPipeline(deps PipelineDeps) *Pipeline {
	clk := deps.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Pipeline{
		cfg:         deps.Config,
		transmitter: deps.Transmitter,
		store:       deps.Store,
		catalog:     deps.Catalog,
		classes:     deps.Classes,
		metrics:     m,
		logger:      logger,
		clock:       clk,
	}
}

// Apply swaps configuration snapshot and transmitter used by later runs.
// Params: next config and transmitter.
// Returns: none.
func (p *Pipeline) Apply(cfg config.Config, transmitter dispatch.Transmitter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	p.transmitter = transmitter
}

func (p *Pipeline) snapshot() (config.Config, dispatch.Transmitter) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg, p.transmitter
}

// Process runs notification dispatch for one transaction batch.
// Params: context and validated transactions.
// Returns: settings/store error; class failures are only logged by dispatch.
func (p *Pipeline) Process(ctx context.Context, transactions []domain.Transaction) (err error) {
	start := time.Now()
	defer func() { p.metrics.ObserveRunDuration(start, err) }()

	cfg, transmitter := p.snapshot()
	settings, err := p.loadSettings(ctx, cfg)
	if err != nil {
		return err
	}

	dictionary := p.catalog.Resolve(runLang(cfg.Service, settings))

	runCtx, cancel := runContext(ctx, cfg.Service.RunTimeout())
	defer cancel()

	dispatcher := dispatch.New(dispatch.Deps{
		Classes:     p.classes,
		Client:      p.store,
		Transmitter: transmitter,
		Dictionary:  dictionary,
		Logger:      p.logger,
		Clock:       p.clock,
		Observer:    p.metrics,
	})
	if err := dispatcher.SendNotifications(runCtx, settings.Notifications, transactions); err != nil {
		return fmt.Errorf("send notifications: %w", err)
	}
	return nil
}

// loadSettings reads stored settings, falling back to config notifications.
// Params: context and config snapshot.
// Returns: settings document or store error.
func (p *Pipeline) loadSettings(ctx context.Context, cfg config.Config) (domain.Settings, error) {
	settings, err := p.store.Settings(ctx)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	p.logger.Debug("settings document not found, using configured notifications")
	return domain.Settings{
		ID:            store.SettingsID,
		Lang:          cfg.Service.Lang,
		Notifications: cfg.Notifications,
	}, nil
}

// runLang picks the run language: BANKNOTIFY_LANG, then the settings document, then service.lang.
func runLang(service config.ServiceConfig, settings domain.Settings) string {
	if service.LangFromEnv {
		return service.Lang
	}
	if lang := strings.TrimSpace(settings.Lang); lang != "" {
		return lang
	}
	return service.Lang
}

// runContext bounds one run when a timeout is configured.
func runContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
