package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"banknotify/internal/clock"
	"banknotify/internal/domain"
	"banknotify/internal/i18n"
	"banknotify/internal/reconcile"
	"banknotify/internal/rules"

	"github.com/google/uuid"
)

// Client is the store surface visible to dispatch and class builders.
// Params: batched account lookup and full group collection fetch.
// Returns: read-only platform client.
type Client interface {
	reconcile.AccountFetcher
	Groups(ctx context.Context) ([]domain.Group, error)
}

// Transmitter delivers one built notification.
// Params: context and notification payload.
// Returns: delivery error.
type Transmitter interface {
	Transmit(ctx context.Context, notification domain.Notification) error
}

// BuildFunc constructs one class notification from dispatch options.
// Params: context and per-class option bundle.
// Returns: notification, nil when there is nothing to notify, or build error.
type BuildFunc func(ctx context.Context, opts Options) (*domain.Notification, error)

// Class is one notification kind known at startup.
// Params: rule descriptor, display name, and build capability.
// Returns: registry entry iterated by Dispatcher.
type Class struct {
	rules.Descriptor
	Name  string
	Build BuildFunc
}

// Data is shared transaction context attached to every class.
// Params: resolved accounts, all groups, and the incoming batch.
// Returns: read-only data bundle.
type Data struct {
	Accounts     []domain.Account
	Groups       []domain.Group
	Transactions []domain.Transaction
}

// Options is the per-class option bundle built fresh for each send.
// Params: client handle, translation, locales, rule set or flattened rule, and data.
// Returns: input of Class.Build.
type Options struct {
	Client  Client
	T       i18n.TranslateFunc
	Locales map[string]i18n.Dictionary
	Lang    string
	// Rules is set for multi-rule classes.
	Rules []rules.Rule
	// Fields holds the single rule of legacy classes.
	Fields rules.Rule
	Data   Data
	Now    time.Time
	RunID  string
}

// Observer receives pipeline outcomes for metrics.
// Params: class name for per-class outcomes.
// Returns: none.
type Observer interface {
	ObserveRun()
	ObserveEnabled(class string)
	ObserveMissingAccounts(count int)
	ObserveSent(class string)
	ObserveSkipped(class string)
	ObserveFailed(class string)
}

// Dispatcher evaluates enabled classes and sends their notifications.
// Params: fixed class list, store client, transmitter, locale, logger, and clock.
// Returns: sendNotifications entrypoint.
type Dispatcher struct {
	classes     []Class
	client      Client
	transmitter Transmitter
	dictionary  i18n.Dictionary
	translate   i18n.TranslateFunc
	logger      *slog.Logger
	clock       clock.Clock
	observer    Observer
}

// Deps groups Dispatcher collaborators.
// Params: all runtime collaborators; Observer and Clock are optional.
// Returns: constructor input for New.
type Deps struct {
	Classes     []Class
	Client      Client
	Transmitter Transmitter
	Dictionary  i18n.Dictionary
	Logger      *slog.Logger
	Clock       clock.Clock
	Observer    Observer
}

// New builds a dispatcher bound to one locale dictionary.
// Params: dispatcher dependencies.
// Returns: ready dispatcher.
func New(deps Deps) *Dispatcher {
	clk := deps.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		classes:     append([]Class(nil), deps.Classes...),
		client:      deps.Client,
		transmitter: deps.Transmitter,
		dictionary:  deps.Dictionary,
		translate:   deps.Dictionary.Translator(),
		logger:      logger,
		clock:       clk,
		observer:    observer,
	}
}

// Classes returns the configured class list.
// Params: none.
// Returns: ordered class registry copy.
func (d *Dispatcher) Classes() []Class {
	return append([]Class(nil), d.classes...)
}

// EnabledClasses filters classes with at least one valid enabled rule.
// Params: class list, raw configuration, and optional logger.
// Returns: order-preserving subset of classes.
func EnabledClasses(classes []Class, cfg rules.Configuration, logger *slog.Logger) []Class {
	enabled := make([]Class, 0, len(classes))
	for _, class := range classes {
		if rules.Enabled(class.Descriptor, cfg) {
			if logger != nil {
				logger.Info("notification class enabled", "class", class.Name)
			}
			enabled = append(enabled, class)
			continue
		}
		if logger != nil {
			logger.Info("notification class disabled", "class", class.Name)
		}
	}
	return enabled
}

// SendNotifications runs one dispatch pass for a transaction batch.
// Params: context, user notification configuration, and transaction batch.
// Returns: account/group fetch error; per-class failures are logged only.
func (d *Dispatcher) SendNotifications(ctx context.Context, cfg rules.Configuration, transactions []domain.Transaction) error {
	runID := uuid.NewString()
	logger := d.logger.With("run_id", runID)
	d.observer.ObserveRun()

	enabled := EnabledClasses(d.classes, cfg, logger)
	for _, class := range enabled {
		d.observer.ObserveEnabled(class.Name)
	}

	resolution, err := reconcile.Resolve(ctx, d.client, transactions, logger)
	if err != nil {
		return err
	}
	if len(resolution.Missing) > 0 {
		d.observer.ObserveMissingAccounts(len(resolution.Missing))
	}
	accounts := resolution.Accounts
	groups, err := d.client.Groups(ctx)
	if err != nil {
		return fmt.Errorf("fetch groups: %w", err)
	}

	data := Data{Accounts: accounts, Groups: groups, Transactions: transactions}
	now := d.clock.Now()
	for _, class := range enabled {
		opts := d.buildOptions(class, cfg, data, now, runID)
		if err := d.sendClass(ctx, class, opts); err != nil {
			d.observer.ObserveFailed(class.Name)
			logger.Warn("notification class send failed", "class", class.Name, "error", err.Error())
		}
	}
	logger.Info("notification dispatch finished", "enabled", len(enabled), "transactions", len(transactions), "accounts", len(accounts))
	return nil
}

// buildOptions assembles the per-class option bundle.
// Params: class, configuration, shared data, run time, and run id.
// Returns: fresh options value.
func (d *Dispatcher) buildOptions(class Class, cfg rules.Configuration, data Data, now time.Time, runID string) Options {
	opts := Options{
		Client:  d.client,
		T:       d.translate,
		Locales: map[string]i18n.Dictionary{d.dictionary.Lang: d.dictionary},
		Lang:    d.dictionary.Lang,
		Data:    data,
		Now:     now,
		RunID:   runID,
	}
	active := rules.Active(class.Descriptor, cfg)
	if class.MultiRule {
		opts.Rules = active
	} else if len(active) > 0 {
		opts.Fields = active[0]
	} else {
		opts.Fields = rules.Rule{}
	}
	return opts
}

// sendClass builds and transmits one class notification with panic isolation.
// Params: context, class, and option bundle.
// Returns: build/transmit error or recovered panic.
func (d *Dispatcher) sendClass(ctx context.Context, class Class, opts Options) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic in %s: %v", class.Name, recovered)
		}
	}()

	if class.Build == nil {
		return fmt.Errorf("class %s has no build function", class.Name)
	}
	notification, err := class.Build(ctx, opts)
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	if notification == nil {
		d.observer.ObserveSkipped(class.Name)
		d.logger.Debug("notification class has nothing to send", "class", class.Name, "run_id", opts.RunID)
		return nil
	}

	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	notification.RunID = opts.RunID
	notification.Class = class.Name
	notification.Lang = opts.Lang
	if notification.Timestamp.IsZero() {
		notification.Timestamp = opts.Now
	}
	if err := d.transmitter.Transmit(ctx, *notification); err != nil {
		return fmt.Errorf("transmit: %w", err)
	}
	d.observer.ObserveSent(class.Name)
	return nil
}

type nopObserver struct{}

func (nopObserver) ObserveRun()                {}
func (nopObserver) ObserveEnabled(string)      {}
func (nopObserver) ObserveMissingAccounts(int) {}
func (nopObserver) ObserveSent(string)         {}
func (nopObserver) ObserveSkipped(string)      {}
func (nopObserver) ObserveFailed(string)       {}
