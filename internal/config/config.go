package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"banknotify/internal/rules"
	"banknotify/internal/templatefmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

const (
	defaultServiceName        = "banknotify"
	defaultLang               = "en"
	defaultRunTimeoutSec      = 30
	defaultReloadSchedule     = "@every 30s"
	defaultHTTPListen         = ":8080"
	defaultHealthPath         = "/healthz"
	defaultReadyPath          = "/readyz"
	defaultIngestPath         = "/ingest"
	defaultMetricsPath        = "/metrics"
	defaultNATSSubject        = "banknotify.transactions"
	defaultNATSIngestStream   = "BANKNOTIFY_TRANSACTIONS"
	defaultNATSIngestConsumer = "banknotify-ingest"
	defaultNATSIngestGroup    = "banknotify-workers"
	defaultNATSIngestWorkers  = 1
	defaultNATSAckWaitSec     = 30
	defaultNATSNackDelayMS    = 1000
	defaultNATSMaxDeliver     = -1
	defaultNATSMaxAckPending  = 2048
	defaultNATSURL            = "nats://127.0.0.1:4222"
	defaultAccountsBucket     = "accounts"
	defaultGroupsBucket       = "groups"
	defaultSettingsBucket     = "settings"
	defaultNotifySubject      = "banknotify.notify"
	defaultNotifyStream       = "BANKNOTIFY_NOTIFY"
	defaultNotifyConsumer     = "banknotify-notify"
	defaultNotifyGroup        = "banknotify-notifiers"
	defaultNotifyDLQSubject   = "banknotify.notify.dlq"
	defaultNotifyDLQStream    = "BANKNOTIFY_NOTIFY_DLQ"
	defaultRedisKeyPrefix     = "banknotify"
	defaultPostgresMaxConns   = 5
	defaultMessageTemplate    = "{{ .Title }}\n{{ .Message }}"

	// EnvLang overrides service.lang.
	EnvLang = "BANKNOTIFY_LANG"
	// EnvRunTimeoutSec overrides service.run_timeout_sec.
	EnvRunTimeoutSec = "BANKNOTIFY_RUN_TIMEOUT_SEC"

	// ServiceModeNATS keeps NATS-backed store/ingest/queue settings.
	ServiceModeNATS = "nats"
	// ServiceModeSingle keeps single-instance mode without NATS dependencies.
	ServiceModeSingle = "single"

	// StoreBackendMemory keeps documents in process memory.
	StoreBackendMemory = "memory"
	// StoreBackendNATS keeps documents in JetStream KV buckets.
	StoreBackendNATS = "nats"
	// StoreBackendPostgres keeps documents in Postgres jsonb tables.
	StoreBackendPostgres = "postgres"
	// StoreBackendRedis keeps documents in Redis keys.
	StoreBackendRedis = "redis"

	// NotifyChannelTelegram identifies Telegram transport.
	NotifyChannelTelegram = "telegram"
	// NotifyChannelHTTP identifies generic HTTP transport.
	NotifyChannelHTTP = "http"
	// NotifyChannelMattermost identifies Mattermost transport.
	NotifyChannelMattermost = "mattermost"
)

var (
	notifyChannelOrder = []string{
		NotifyChannelTelegram,
		NotifyChannelHTTP,
		NotifyChannelMattermost,
	}
	notifyChannelRegistry = map[string]notifyChannelDescriptor{
		NotifyChannelTelegram: {
			enabled:  func(cfg NotifyConfig) bool { return cfg.Telegram.Enabled },
			retry:    func(cfg NotifyConfig) NotifyRetry { return cfg.Telegram.Retry },
			template: func(cfg NotifyConfig) string { return cfg.Telegram.Template },
		},
		NotifyChannelHTTP: {
			enabled:  func(cfg NotifyConfig) bool { return cfg.HTTP.Enabled },
			retry:    func(cfg NotifyConfig) NotifyRetry { return cfg.HTTP.Retry },
			template: func(cfg NotifyConfig) string { return cfg.HTTP.Template },
		},
		NotifyChannelMattermost: {
			enabled:  func(cfg NotifyConfig) bool { return cfg.Mattermost.Enabled },
			retry:    func(cfg NotifyConfig) NotifyRetry { return cfg.Mattermost.Retry },
			template: func(cfg NotifyConfig) string { return cfg.Mattermost.Template },
		},
	}
	supportedStoreBackends = map[string]struct{}{
		StoreBackendMemory:   {},
		StoreBackendNATS:     {},
		StoreBackendPostgres: {},
		StoreBackendRedis:    {},
	}
)

// notifyChannelDescriptor stores generic accessors for one notify transport.
// Params: config readers for enabled/retry/template fields.
// Returns: channel metadata used by generic helpers.
type notifyChannelDescriptor struct {
	enabled  func(NotifyConfig) bool
	retry    func(NotifyConfig) NotifyRetry
	template func(NotifyConfig) string
}

// Config holds service runtime settings and default notification rules.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service       ServiceConfig       `toml:"service"`
	Log           LogConfig           `toml:"log"`
	Ingest        IngestConfig        `toml:"ingest"`
	Store         StoreConfig         `toml:"store"`
	Notify        NotifyConfig        `toml:"notify"`
	Locale        LocaleConfig        `toml:"locale"`
	Notifications rules.Configuration `toml:"notifications"`
}

// ServiceConfig contains process-level settings.
// Params: name, mode, language, run budget, and reload schedule.
// Returns: service behavior defaults.
type ServiceConfig struct {
	Name           string `toml:"name"`
	Mode           string `toml:"mode"`
	Lang           string `toml:"lang"`
	RunTimeoutSec  int    `toml:"run_timeout_sec"`
	ReloadEnabled  bool   `toml:"reload_enabled"`
	ReloadSchedule string `toml:"reload_schedule"`
	// LangFromEnv is set when BANKNOTIFY_LANG supplied Lang.
	LangFromEnv bool `toml:"-"`
}

// RunTimeout returns the execution budget of one dispatch run.
// Params: none.
// Returns: positive duration, or zero when unbounded.
func (s ServiceConfig) RunTimeout() time.Duration {
	if s.RunTimeoutSec <= 0 {
		return 0
	}
	return time.Duration(s.RunTimeoutSec) * time.Second
}

// IngestConfig defines inbound transaction interfaces.
// Params: embedded HTTP and NATS subscription controls.
// Returns: ingestion runtime options.
type IngestConfig struct {
	HTTP HTTPIngestConfig `toml:"http"`
	NATS NATSIngestConfig `toml:"nats"`
}

// HTTPIngestConfig configures the HTTP API and transaction intake endpoint.
// Params: enable flag, listen/endpoints, and optional body size limit.
// Returns: HTTP behavior.
type HTTPIngestConfig struct {
	Enabled      bool   `toml:"enabled"`
	Listen       string `toml:"listen"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	IngestPath   string `toml:"ingest_path"`
	MetricsPath  string `toml:"metrics_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// NATSIngestConfig configures JetStream queue-consumer ingestion.
// Params: connection + worker/ack/redelivery policy; stream routing keys are runtime-fixed.
// Returns: NATS ingest behavior.
type NATSIngestConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"url"`
	Subject       string   `toml:"-"`
	Stream        string   `toml:"-"`
	ConsumerName  string   `toml:"-"`
	DeliverGroup  string   `toml:"-"`
	Workers       int      `toml:"workers"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
}

// StoreConfig selects the document store backend.
// Params: backend name and per-backend connection settings.
// Returns: store factory input.
type StoreConfig struct {
	Backend  string              `toml:"backend"`
	Memory   MemoryStoreConfig   `toml:"memory"`
	Postgres PostgresStoreConfig `toml:"postgres"`
	Redis    RedisStoreConfig    `toml:"redis"`
}

// MemoryStoreConfig configures the in-process store.
// Params: optional JSON seed file with accounts/groups/settings.
// Returns: memory backend options.
type MemoryStoreConfig struct {
	SeedFile string `toml:"seed_file"`
}

// PostgresStoreConfig configures the Postgres store.
// Params: DSN and pool limits.
// Returns: postgres backend options.
type PostgresStoreConfig struct {
	DSN               string `toml:"dsn"`
	MaxOpenConns      int    `toml:"max_open_conns"`
	ConnectTimeoutSec int    `toml:"connect_timeout_sec"`
}

// RedisStoreConfig configures the Redis store.
// Params: redis URL and key namespace prefix.
// Returns: redis backend options.
type RedisStoreConfig struct {
	URL       string `toml:"url"`
	KeyPrefix string `toml:"key_prefix"`
}

// NATSStoreConfig contains fixed JetStream KV controls for the store backend.
// Params: URL list and bucket names.
// Returns: NATS store backend options.
type NATSStoreConfig struct {
	URL                []string
	AccountsBucket     string
	GroupsBucket       string
	SettingsBucket     string
	AllowCreateBuckets bool
}

// DeriveStoreNATSConfig builds fixed store-backend settings from runtime config.
// Params: full runtime configuration snapshot.
// Returns: non-user-overridable NATS store settings.
func DeriveStoreNATSConfig(cfg Config) NATSStoreConfig {
	urls := normalizeNATSURLs(cfg.Ingest.NATS.URL)
	if len(urls) == 0 {
		urls = []string{defaultNATSURL}
	}
	return NATSStoreConfig{
		URL:                urls,
		AccountsBucket:     defaultAccountsBucket,
		GroupsBucket:       defaultGroupsBucket,
		SettingsBucket:     defaultSettingsBucket,
		AllowCreateBuckets: true,
	}
}

// NotifyConfig defines outbound notification behavior.
// Params: queue and per-channel transport settings.
// Returns: notification controls.
type NotifyConfig struct {
	Queue      NotifyQueue      `toml:"queue"`
	Telegram   TelegramNotifier `toml:"telegram"`
	HTTP       HTTPNotifier     `toml:"http"`
	Mattermost MattermostConfig `toml:"mattermost"`
}

// NotifyQueue defines asynchronous delivery queue settings.
// Params: enable flag, worker/ack policy, and DLQ toggle; subjects are runtime-fixed.
// Returns: async notify pipeline controls.
type NotifyQueue struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"-"`
	Subject       string   `toml:"-"`
	Stream        string   `toml:"-"`
	ConsumerName  string   `toml:"-"`
	DeliverGroup  string   `toml:"-"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
	DLQ           bool     `toml:"dlq"`
	DLQSubject    string   `toml:"-"`
	DLQStream     string   `toml:"-"`
}

// NotifyRetry configures outbound delivery retries.
// Params: retry toggle, backoff, attempt limits, and logging.
// Returns: retry policy for notifications.
type NotifyRetry struct {
	Enabled        bool   `toml:"enabled"`
	Backoff        string `toml:"backoff"`
	InitialMS      int    `toml:"initial_ms"`
	MaxMS          int    `toml:"max_ms"`
	MaxAttempts    int    `toml:"max_attempts"`
	LogEachAttempt bool   `toml:"log_each_attempt"`
}

// TelegramNotifier defines Telegram channel settings.
// Params: enabled flag, bot token, chat ID, API base URL, retry policy, and message template.
// Returns: Telegram sender configuration.
type TelegramNotifier struct {
	Enabled  bool        `toml:"enabled"`
	BotToken string      `toml:"bot_token"`
	ChatID   string      `toml:"chat_id"`
	APIBase  string      `toml:"api_base"`
	Retry    NotifyRetry `toml:"retry"`
	Template string      `toml:"template"`
}

// HTTPNotifier defines generic outbound HTTP endpoint.
// Params: URL, method, timeout, optional static headers, retry policy, and message template.
// Returns: HTTP notification sender configuration.
type HTTPNotifier struct {
	Enabled    bool              `toml:"enabled"`
	URL        string            `toml:"url"`
	Method     string            `toml:"method"`
	TimeoutSec int               `toml:"timeout_sec"`
	Headers    map[string]string `toml:"headers"`
	Retry      NotifyRetry       `toml:"retry"`
	Template   string            `toml:"template"`
}

// MattermostConfig defines Mattermost API channel settings.
// Params: enabled flag, API base URL, bot token, channel id, retry policy, and message template.
// Returns: Mattermost sender configuration.
type MattermostConfig struct {
	Enabled    bool        `toml:"enabled"`
	BaseURL    string      `toml:"base_url"`
	BotToken   string      `toml:"bot_token"`
	ChannelID  string      `toml:"channel_id"`
	TimeoutSec int         `toml:"timeout_sec"`
	Retry      NotifyRetry `toml:"retry"`
	Template   string      `toml:"template"`
}

// LocaleConfig points at optional locale override files.
// Params: directory with `<lang>.json` dictionaries.
// Returns: i18n loader input.
type LocaleConfig struct {
	Dir string `toml:"dir"`
}

// LogConfig contains console/file logging sinks.
// Params: sink settings for each output target.
// Returns: logger setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, and path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// ConfigSource describes file or directory config source.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}

	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		cfg, err = loadFile(src.File)
	} else {
		cfg, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// configMergeHints carries explicit bool-presence markers used for directory overlays.
// Params: sparse fields decoded from one TOML fragment.
// Returns: merge behavior hints for zero-value bool overrides.
type configMergeHints struct {
	Notify notifyMergeHints `toml:"notify"`
}

type notifyMergeHints struct {
	Queue      toggleHint `toml:"queue"`
	Telegram   toggleHint `toml:"telegram"`
	HTTP       toggleHint `toml:"http"`
	Mattermost toggleHint `toml:"mattermost"`
}

type toggleHint struct {
	Enabled *bool `toml:"enabled"`
}

// loadFile reads one TOML configuration file.
// Params: file path to config snapshot.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	cfg, _, err := loadFileForMerge(path)
	return cfg, err
}

// loadFileForMerge reads one TOML file with merge hints.
// Params: file path to config fragment.
// Returns: decoded config plus explicit-bool hints for overlay merge.
func loadFileForMerge(path string) (Config, configMergeHints, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, configMergeHints{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(body, &cfg); err != nil {
		return Config{}, configMergeHints{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	var hints configMergeHints
	if err := toml.Unmarshal(body, &hints); err != nil {
		return Config{}, configMergeHints{}, fmt.Errorf("decode merge hints %q: %w", path, err)
	}
	return cfg, hints, nil
}

// loadDir reads and merges TOML files from one directory.
// Params: directory containing config fragments.
// Returns: merged config snapshot or load/decode error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(entry.Name())) != ".toml" {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	if len(files) == 0 {
		return Config{}, fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	var merged Config
	for _, file := range files {
		fragment, hints, err := loadFileForMerge(file)
		if err != nil {
			return Config{}, err
		}
		mergeConfig(&merged, fragment, hints)
	}
	return merged, nil
}

// mergeConfig overlays source onto destination.
// Params: destination config, next fragment, and explicit-bool hints.
// Returns: merged configuration side-effect in dst.
func mergeConfig(dst *Config, src Config, hints configMergeHints) {
	if src.Service != (ServiceConfig{}) {
		dst.Service = src.Service
	}
	if src.Log != (LogConfig{}) {
		dst.Log = src.Log
	}
	if hasIngestConfig(src.Ingest) {
		dst.Ingest = src.Ingest
	}
	if src.Store != (StoreConfig{}) {
		dst.Store = src.Store
	}
	if src.Locale != (LocaleConfig{}) {
		dst.Locale = src.Locale
	}
	mergeNotifyConfig(&dst.Notify, src.Notify, hints.Notify)
	for key, value := range src.Notifications {
		if dst.Notifications == nil {
			dst.Notifications = make(rules.Configuration, len(src.Notifications))
		}
		dst.Notifications[key] = value
	}
}

// mergeNotifyConfig overlays notify fragment channel by channel.
// Params: destination notify config, fragment, and explicit enabled markers.
// Returns: merged notify settings in dst.
func mergeNotifyConfig(dst *NotifyConfig, src NotifyConfig, hints notifyMergeHints) {
	if hasQueueConfig(src.Queue) || hints.Queue.Enabled != nil {
		dst.Queue = src.Queue
	}
	if src.Telegram != (TelegramNotifier{}) || hints.Telegram.Enabled != nil {
		dst.Telegram = src.Telegram
	}
	if hasHTTPNotifierConfig(src.HTTP) || hints.HTTP.Enabled != nil {
		dst.HTTP = src.HTTP
	}
	if src.Mattermost != (MattermostConfig{}) || hints.Mattermost.Enabled != nil {
		dst.Mattermost = src.Mattermost
	}
}

func hasQueueConfig(cfg NotifyQueue) bool {
	return cfg.Enabled ||
		cfg.AckWaitSec != 0 ||
		cfg.NackDelayMS != 0 ||
		cfg.MaxDeliver != 0 ||
		cfg.MaxAckPending != 0 ||
		cfg.DLQ
}

func hasHTTPNotifierConfig(cfg HTTPNotifier) bool {
	return cfg.Enabled ||
		strings.TrimSpace(cfg.URL) != "" ||
		strings.TrimSpace(cfg.Method) != "" ||
		cfg.TimeoutSec != 0 ||
		len(cfg.Headers) > 0 ||
		cfg.Retry != (NotifyRetry{}) ||
		strings.TrimSpace(cfg.Template) != ""
}

// applyEnv applies environment overrides on top of decoded file values.
// Params: config pointer and environment lookup function.
// Returns: error when override value is malformed.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if value, ok := lookup(EnvLang); ok && strings.TrimSpace(value) != "" {
		cfg.Service.Lang = strings.TrimSpace(value)
		cfg.Service.LangFromEnv = true
	}
	if value, ok := lookup(EnvRunTimeoutSec); ok && strings.TrimSpace(value) != "" {
		seconds, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%s must be an integer number of seconds: %w", EnvRunTimeoutSec, err)
		}
		cfg.Service.RunTimeoutSec = seconds
	}
	return nil
}

// applyDefaults fills omitted config fields with safe defaults.
// Params: cfg pointer to decoded snapshot.
// Returns: defaults applied in place.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = defaultServiceName
	}
	cfg.Service.Mode = NormalizeServiceMode(cfg.Service.Mode)
	if strings.TrimSpace(cfg.Service.Lang) == "" {
		cfg.Service.Lang = defaultLang
	}
	if cfg.Service.RunTimeoutSec == 0 {
		cfg.Service.RunTimeoutSec = defaultRunTimeoutSec
	}
	if strings.TrimSpace(cfg.Service.ReloadSchedule) == "" {
		cfg.Service.ReloadSchedule = defaultReloadSchedule
	}

	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	if strings.TrimSpace(cfg.Ingest.HTTP.Listen) == "" {
		cfg.Ingest.HTTP.Listen = defaultHTTPListen
	}
	if strings.TrimSpace(cfg.Ingest.HTTP.HealthPath) == "" {
		cfg.Ingest.HTTP.HealthPath = defaultHealthPath
	}
	if strings.TrimSpace(cfg.Ingest.HTTP.ReadyPath) == "" {
		cfg.Ingest.HTTP.ReadyPath = defaultReadyPath
	}
	if strings.TrimSpace(cfg.Ingest.HTTP.IngestPath) == "" {
		cfg.Ingest.HTTP.IngestPath = defaultIngestPath
	}
	if strings.TrimSpace(cfg.Ingest.HTTP.MetricsPath) == "" {
		cfg.Ingest.HTTP.MetricsPath = defaultMetricsPath
	}
	if cfg.Ingest.HTTP.MaxBodyBytes <= 0 {
		cfg.Ingest.HTTP.MaxBodyBytes = 2 << 20
	}

	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	if cfg.Service.Mode == ServiceModeSingle {
		// Single mode always disables NATS-dependent paths regardless of user flags.
		cfg.Ingest.NATS.Enabled = false
		cfg.Notify.Queue.Enabled = false
		cfg.Notify.Queue.DLQ = false
		cfg.Ingest.HTTP.Enabled = true
		if cfg.Store.Backend == "" {
			cfg.Store.Backend = StoreBackendMemory
		}
	} else {
		cfg.Ingest.NATS.URL = normalizeNATSURLs(cfg.Ingest.NATS.URL)
		if len(cfg.Ingest.NATS.URL) == 0 {
			cfg.Ingest.NATS.URL = []string{defaultNATSURL}
		}
		cfg.Ingest.NATS.Subject = defaultNATSSubject
		cfg.Ingest.NATS.Stream = defaultNATSIngestStream
		cfg.Ingest.NATS.ConsumerName = defaultNATSIngestConsumer
		cfg.Ingest.NATS.DeliverGroup = defaultNATSIngestGroup
		if cfg.Ingest.NATS.Workers == 0 {
			cfg.Ingest.NATS.Workers = defaultNATSIngestWorkers
		}
		if cfg.Ingest.NATS.AckWaitSec <= 0 {
			cfg.Ingest.NATS.AckWaitSec = defaultNATSAckWaitSec
		}
		if cfg.Ingest.NATS.NackDelayMS <= 0 {
			cfg.Ingest.NATS.NackDelayMS = defaultNATSNackDelayMS
		}
		if cfg.Ingest.NATS.MaxDeliver == 0 {
			cfg.Ingest.NATS.MaxDeliver = defaultNATSMaxDeliver
		}
		if cfg.Ingest.NATS.MaxAckPending <= 0 {
			cfg.Ingest.NATS.MaxAckPending = defaultNATSMaxAckPending
		}
		if !cfg.Ingest.HTTP.Enabled && !cfg.Ingest.NATS.Enabled {
			cfg.Ingest.HTTP.Enabled = true
		}
		if cfg.Store.Backend == "" {
			cfg.Store.Backend = StoreBackendNATS
		}

		// Queue uses the same NATS URL list as ingest/store in multi-instance mode.
		cfg.Notify.Queue.URL = append([]string(nil), cfg.Ingest.NATS.URL...)
		cfg.Notify.Queue.Subject = defaultNotifySubject
		cfg.Notify.Queue.Stream = defaultNotifyStream
		cfg.Notify.Queue.ConsumerName = defaultNotifyConsumer
		cfg.Notify.Queue.DeliverGroup = defaultNotifyGroup
		cfg.Notify.Queue.DLQSubject = defaultNotifyDLQSubject
		cfg.Notify.Queue.DLQStream = defaultNotifyDLQStream
		if cfg.Notify.Queue.AckWaitSec <= 0 {
			cfg.Notify.Queue.AckWaitSec = defaultNATSAckWaitSec
		}
		if cfg.Notify.Queue.NackDelayMS <= 0 {
			cfg.Notify.Queue.NackDelayMS = defaultNATSNackDelayMS
		}
		if cfg.Notify.Queue.MaxDeliver == 0 {
			cfg.Notify.Queue.MaxDeliver = defaultNATSMaxDeliver
		}
		if cfg.Notify.Queue.MaxAckPending <= 0 {
			cfg.Notify.Queue.MaxAckPending = defaultNATSMaxAckPending
		}
	}

	if cfg.Store.Postgres.MaxOpenConns <= 0 {
		cfg.Store.Postgres.MaxOpenConns = defaultPostgresMaxConns
	}
	if cfg.Store.Postgres.ConnectTimeoutSec <= 0 {
		cfg.Store.Postgres.ConnectTimeoutSec = 5
	}
	if strings.TrimSpace(cfg.Store.Redis.KeyPrefix) == "" {
		cfg.Store.Redis.KeyPrefix = defaultRedisKeyPrefix
	}

	if cfg.Notify.Telegram.APIBase == "" {
		cfg.Notify.Telegram.APIBase = "https://api.telegram.org"
	}
	if strings.TrimSpace(cfg.Notify.Telegram.Template) == "" {
		cfg.Notify.Telegram.Template = "<b>{{ .Title }}</b>\n{{ .Message }}"
	}
	fillNotifyRetryDefaults(&cfg.Notify.Telegram.Retry)
	if cfg.Notify.HTTP.Method == "" {
		cfg.Notify.HTTP.Method = "POST"
	}
	if cfg.Notify.HTTP.TimeoutSec <= 0 {
		cfg.Notify.HTTP.TimeoutSec = 10
	}
	if strings.TrimSpace(cfg.Notify.HTTP.Template) == "" {
		cfg.Notify.HTTP.Template = defaultMessageTemplate
	}
	fillNotifyRetryDefaults(&cfg.Notify.HTTP.Retry)
	if cfg.Notify.Mattermost.TimeoutSec <= 0 {
		cfg.Notify.Mattermost.TimeoutSec = 10
	}
	if strings.TrimSpace(cfg.Notify.Mattermost.Template) == "" {
		cfg.Notify.Mattermost.Template = "#### {{ .Title }}\n{{ range .Lines }}- {{ . }}\n{{ end }}"
	}
	fillNotifyRetryDefaults(&cfg.Notify.Mattermost.Retry)

	if cfg.Notifications == nil {
		cfg.Notifications = rules.Configuration{}
	}
}

// fillNotifyRetryDefaults normalizes retry policy fields for one channel.
// Params: retry policy pointer.
// Returns: policy defaults applied in place.
func fillNotifyRetryDefaults(retry *NotifyRetry) {
	if retry == nil {
		return
	}
	if retry.Backoff == "" {
		retry.Backoff = "exponential"
	}
	if retry.InitialMS <= 0 {
		retry.InitialMS = 500
	}
	if retry.MaxMS <= 0 {
		retry.MaxMS = 60000
	}
}

// validateConfig validates full runtime configuration.
// Params: cfg snapshot to validate.
// Returns: first validation error.
func validateConfig(cfg Config) error {
	mode := NormalizeServiceMode(cfg.Service.Mode)
	if !IsSupportedServiceMode(mode) {
		return fmt.Errorf("service.mode has unsupported value %q", cfg.Service.Mode)
	}
	if cfg.Service.RunTimeoutSec < 0 {
		return errors.New("service.run_timeout_sec must be >=0")
	}
	if cfg.Service.ReloadEnabled {
		if _, err := cron.ParseStandard(cfg.Service.ReloadSchedule); err != nil {
			return fmt.Errorf("service.reload_schedule is invalid: %w", err)
		}
	}
	if strings.TrimSpace(cfg.Ingest.HTTP.Listen) == "" {
		return errors.New("ingest.http.listen is required")
	}
	for name, path := range map[string]string{
		"health_path":  cfg.Ingest.HTTP.HealthPath,
		"ready_path":   cfg.Ingest.HTTP.ReadyPath,
		"ingest_path":  cfg.Ingest.HTTP.IngestPath,
		"metrics_path": cfg.Ingest.HTTP.MetricsPath,
	} {
		if !strings.HasPrefix(strings.TrimSpace(path), "/") {
			return fmt.Errorf("ingest.http.%s must start with /", name)
		}
	}
	if mode == ServiceModeNATS {
		if len(cfg.Ingest.NATS.URL) == 0 {
			return errors.New("ingest.nats.url is required")
		}
		for i, url := range cfg.Ingest.NATS.URL {
			if strings.TrimSpace(url) == "" {
				return fmt.Errorf("ingest.nats.url[%d] is empty", i)
			}
		}
		if cfg.Ingest.NATS.Enabled {
			if cfg.Ingest.NATS.Workers <= 0 {
				return errors.New("ingest.nats.workers must be >0 when ingest.nats.enabled=true")
			}
			if cfg.Ingest.NATS.MaxDeliver == 0 || cfg.Ingest.NATS.MaxDeliver < -1 {
				return errors.New("ingest.nats.max_deliver must be -1 or >0")
			}
		}
	}

	if err := validateStore(mode, cfg.Store); err != nil {
		return err
	}
	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}

	if cfg.Notify.Telegram.Enabled {
		if strings.TrimSpace(cfg.Notify.Telegram.BotToken) == "" {
			return errors.New("notify.telegram.bot_token is required when notify.telegram.enabled=true")
		}
		if strings.TrimSpace(cfg.Notify.Telegram.ChatID) == "" {
			return errors.New("notify.telegram.chat_id is required when notify.telegram.enabled=true")
		}
	}
	if cfg.Notify.HTTP.Enabled && strings.TrimSpace(cfg.Notify.HTTP.URL) == "" {
		return errors.New("notify.http.url is required when notify.http.enabled=true")
	}
	if cfg.Notify.Mattermost.Enabled {
		if strings.TrimSpace(cfg.Notify.Mattermost.BaseURL) == "" {
			return errors.New("notify.mattermost.base_url is required when notify.mattermost.enabled=true")
		}
		if strings.TrimSpace(cfg.Notify.Mattermost.BotToken) == "" {
			return errors.New("notify.mattermost.bot_token is required when notify.mattermost.enabled=true")
		}
		if strings.TrimSpace(cfg.Notify.Mattermost.ChannelID) == "" {
			return errors.New("notify.mattermost.channel_id is required when notify.mattermost.enabled=true")
		}
	}
	if cfg.Notify.Queue.Enabled {
		if cfg.Notify.Queue.MaxDeliver == 0 || cfg.Notify.Queue.MaxDeliver < -1 {
			return errors.New("notify.queue.max_deliver must be -1 or >0")
		}
	}
	if cfg.Notify.Queue.DLQ && !cfg.Notify.Queue.Enabled {
		return errors.New("notify.queue.dlq requires notify.queue.enabled=true")
	}
	for _, channel := range NotifyChannelNames() {
		if !NotifyChannelEnabled(cfg.Notify, channel) {
			continue
		}
		if err := validateMessageTemplate("notify."+channel+".template", NotifyChannelTemplate(cfg.Notify, channel)); err != nil {
			return err
		}
	}
	return nil
}

// validateStore checks backend selection and its required settings.
// Params: normalized service mode and store section.
// Returns: validation error.
func validateStore(mode string, store StoreConfig) error {
	if _, ok := supportedStoreBackends[store.Backend]; !ok {
		return fmt.Errorf("store.backend has unsupported value %q", store.Backend)
	}
	switch store.Backend {
	case StoreBackendNATS:
		if mode == ServiceModeSingle {
			return errors.New("store.backend=nats requires service.mode=nats")
		}
	case StoreBackendPostgres:
		if strings.TrimSpace(store.Postgres.DSN) == "" {
			return errors.New("store.postgres.dsn is required when store.backend=postgres")
		}
	case StoreBackendRedis:
		if strings.TrimSpace(store.Redis.URL) == "" {
			return errors.New("store.redis.url is required when store.backend=redis")
		}
	}
	return nil
}

// hasIngestConfig reports whether ingest section has explicit values.
// Params: ingest configuration fragment.
// Returns: true when section should be merged into destination snapshot.
func hasIngestConfig(cfg IngestConfig) bool {
	return cfg.HTTP != (HTTPIngestConfig{}) ||
		cfg.NATS.Enabled ||
		len(cfg.NATS.URL) > 0 ||
		cfg.NATS.Workers != 0 ||
		cfg.NATS.AckWaitSec != 0 ||
		cfg.NATS.NackDelayMS != 0 ||
		cfg.NATS.MaxDeliver != 0 ||
		cfg.NATS.MaxAckPending != 0
}

// normalizeNATSURLs trims spaces around each configured NATS URL.
// Params: raw URL list from config.
// Returns: normalized URL list preserving element count for validation.
func normalizeNATSURLs(urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	out := make([]string, len(urls))
	for i := range urls {
		out[i] = strings.TrimSpace(urls[i])
	}
	return out
}

// NormalizeServiceMode canonicalizes service mode and applies default.
// Params: raw mode value from config.
// Returns: normalized mode (`nats` by default).
func NormalizeServiceMode(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return ServiceModeNATS
	}
	return normalized
}

// IsSupportedServiceMode reports whether mode value is supported.
// Params: normalized mode value.
// Returns: true for known modes.
func IsSupportedServiceMode(mode string) bool {
	switch NormalizeServiceMode(mode) {
	case ServiceModeNATS, ServiceModeSingle:
		return true
	default:
		return false
	}
}

// NotifyChannelNames returns deterministic list of supported channel keys.
// Params: none.
// Returns: ordered channel key list.
func NotifyChannelNames() []string {
	out := make([]string, len(notifyChannelOrder))
	copy(out, notifyChannelOrder)
	return out
}

// NotifyChannelEnabled checks if channel transport is enabled globally.
// Params: global notify config and channel key.
// Returns: true when corresponding transport section is enabled.
func NotifyChannelEnabled(cfg NotifyConfig, channel string) bool {
	descriptor, ok := notifyChannelRegistry[strings.ToLower(strings.TrimSpace(channel))]
	if !ok {
		return false
	}
	return descriptor.enabled(cfg)
}

// NotifyChannelRetry returns retry policy for one channel.
// Params: global notify config and channel key.
// Returns: retry policy for channel transport.
func NotifyChannelRetry(cfg NotifyConfig, channel string) NotifyRetry {
	descriptor, ok := notifyChannelRegistry[strings.ToLower(strings.TrimSpace(channel))]
	if !ok {
		return NotifyRetry{}
	}
	return descriptor.retry(cfg)
}

// NotifyChannelTemplate returns message template body for one channel.
// Params: global notify config and channel key.
// Returns: template body or empty string for unknown channel.
func NotifyChannelTemplate(cfg NotifyConfig, channel string) string {
	descriptor, ok := notifyChannelRegistry[strings.ToLower(strings.TrimSpace(channel))]
	if !ok {
		return ""
	}
	return descriptor.template(cfg)
}

// validateMessageTemplate parses one text template and checks it is non-empty.
// Params: field path and template body.
// Returns: parse/empty error.
func validateMessageTemplate(path, body string) error {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return fmt.Errorf("%s is required", path)
	}
	if _, err := templatefmt.ParseTemplate(path, trimmed); err != nil {
		return fmt.Errorf("%s is invalid: %w", path, err)
	}
	return nil
}

// validateLogSink validates one log sink configuration.
// Params: sink name, sink values, and whether path is required.
// Returns: sink validation error.
func validateLogSink(name string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(sink.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s.level has unsupported value %q", name, sink.Level)
	}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", name, sink.Format)
	}

	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required", name)
	}
	return nil
}
