package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram transport settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// APIURL points the bot at a self-hosted Bot API server; empty -> api.telegram.org
	APIURL string `yaml:"api_url" envconfig:"TELEGRAM_API_URL"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir" envconfig:"LOG_DIR"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

// RateLimitConfig holds settings for per-user rate limiting.
// ExcludeUpdates accepts update kinds that bypass limiting: "message", "photo".
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// ClassifierConfig points at the model-serving endpoint.
type ClassifierConfig struct {
	URL     string        `yaml:"url" envconfig:"CLASSIFIER_URL"`
	Timeout time.Duration `yaml:"timeout" envconfig:"CLASSIFIER_TIMEOUT"`
	TopK    int           `yaml:"top_k" envconfig:"CLASSIFIER_TOP_K"`
	Retries int           `yaml:"retries" envconfig:"CLASSIFIER_RETRIES"`
}

// ImagesConfig controls where received photos live between the photo and the classify step.
type ImagesConfig struct {
	Backend  string        `yaml:"backend" envconfig:"IMAGES_BACKEND"`
	MaxBytes int64         `yaml:"max_bytes" envconfig:"IMAGES_MAX_BYTES"`
	TTL      time.Duration `yaml:"ttl" envconfig:"IMAGES_TTL"`
	// JanitorSchedule is a cron spec for TTL pruning; empty disables the janitor.
	JanitorSchedule string `yaml:"janitor_schedule" envconfig:"IMAGES_JANITOR_SCHEDULE"`
}

// StorageConfig holds S3-compatible object storage settings for the "minio" images backend.
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint" envconfig:"MINIO_ENDPOINT"`
	AccessKey string `yaml:"access_key" envconfig:"MINIO_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" envconfig:"MINIO_SECRET_KEY"`
	Bucket    string `yaml:"bucket" envconfig:"MINIO_BUCKET"`
	UseSSL    bool   `yaml:"use_ssl" envconfig:"MINIO_USE_SSL"`
}

// DatabaseConfig holds Postgres settings for the prediction history. Empty Host disables it.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	MigrationsDir  string `yaml:"migrations_dir" envconfig:"DB_MIGRATIONS_DIR"`
}

// Enabled reports whether the history database is configured.
func (d DatabaseConfig) Enabled() bool {
	return strings.TrimSpace(d.Host) != ""
}

// MetricsConfig configures the Prometheus endpoint. Empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen" envconfig:"METRICS_LISTEN"`
	Path   string `yaml:"path" envconfig:"METRICS_PATH"`
}

// SenderConfig tunes the outbound message dispatcher.
type SenderConfig struct {
	QueueSize    int           `yaml:"queue_size" envconfig:"SENDER_QUEUE_SIZE"`
	Workers      int           `yaml:"workers" envconfig:"SENDER_WORKERS"`
	MaxRetries   int           `yaml:"max_retries" envconfig:"SENDER_MAX_RETRIES"`
	RetryBackoff time.Duration `yaml:"retry_backoff" envconfig:"SENDER_RETRY_BACKOFF"`
}

// EngineConfig bounds conversation processing.
type EngineConfig struct {
	DrainTimeout time.Duration `yaml:"drain_timeout" envconfig:"ENGINE_DRAIN_TIMEOUT"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// ImagesMemory keeps photos in process memory.
	ImagesMemory = "memory"
	// ImagesMinio keeps photos in an S3-compatible bucket.
	ImagesMinio = "minio"
)

const (
	// UpdateMessage identifies text messages for rate limit exclusions.
	UpdateMessage = "message"
	// UpdatePhoto identifies photo messages for rate limit exclusions.
	UpdatePhoto = "photo"
)

const (
	defaultClassifierTimeout = 30 * time.Second
	defaultMaxImageBytes     = 20 << 20
	defaultImageTTL          = time.Hour
	defaultDrainTimeout      = 30 * time.Second
	defaultMetricsPath       = "/metrics"
	defaultMigrationsDir     = "migrations"
)

// Config aggregates the whole bot configuration.
type Config struct {
	Telegram   TelegramConfig   `yaml:"telegram"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Logging    LoggingConfig    `yaml:"logging"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Images     ImagesConfig     `yaml:"images"`
	Storage    StorageConfig    `yaml:"storage"`
	Database   DatabaseConfig   `yaml:"database"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Sender     SenderConfig     `yaml:"sender"`
	Engine     EngineConfig     `yaml:"engine"`
}

// Load reads configuration from a YAML file and environment variables.
// A missing file is tolerated so the bot can run from the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs validation of required configuration fields and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram token is required")
	}
	if err := normalizeRunMode(cfg); err != nil {
		return err
	}
	if err := normalizeClassifier(&cfg.Classifier); err != nil {
		return err
	}
	if err := normalizeImages(cfg); err != nil {
		return err
	}
	if err := normalizeRateLimit(&cfg.RateLimit); err != nil {
		return err
	}

	if cfg.Database.Enabled() {
		if cfg.Database.Port == "" {
			cfg.Database.Port = "5432"
		}
		if cfg.Database.SSLMode == "" {
			cfg.Database.SSLMode = "disable"
		}
		if cfg.Database.MaxConnections <= 0 {
			cfg.Database.MaxConnections = 5
		}
		if cfg.Database.MigrationsDir == "" {
			cfg.Database.MigrationsDir = defaultMigrationsDir
		}
	}

	if cfg.Metrics.Listen != "" && cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaultMetricsPath
	}
	if cfg.Engine.DrainTimeout <= 0 {
		cfg.Engine.DrainTimeout = defaultDrainTimeout
	}
	return nil
}

func normalizeRunMode(cfg *Config) error {
	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" || rm == "polling" {
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm
	return nil
}

func normalizeClassifier(c *ClassifierConfig) error {
	raw := strings.TrimSpace(c.URL)
	if raw == "" {
		return fmt.Errorf("classifier.url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid classifier.url %q", c.URL)
	}
	c.URL = raw
	if c.Timeout <= 0 {
		c.Timeout = defaultClassifierTimeout
	}
	if c.TopK <= 0 {
		c.TopK = 1
	}
	if c.Retries < 0 {
		return fmt.Errorf("classifier.retries must be >= 0")
	}
	return nil
}

func normalizeImages(cfg *Config) error {
	img := &cfg.Images
	backend := strings.ToLower(strings.TrimSpace(img.Backend))
	if backend == "" {
		backend = ImagesMemory
	}
	switch backend {
	case ImagesMemory:
	case ImagesMinio:
		if strings.TrimSpace(cfg.Storage.Endpoint) == "" {
			return fmt.Errorf("storage.endpoint is required when images.backend is 'minio'")
		}
		if strings.TrimSpace(cfg.Storage.Bucket) == "" {
			cfg.Storage.Bucket = "visionbot-photos"
		}
	default:
		return fmt.Errorf("invalid images.backend %q; allowed: memory, minio", img.Backend)
	}
	img.Backend = backend
	if img.MaxBytes <= 0 {
		img.MaxBytes = defaultMaxImageBytes
	}
	if img.TTL <= 0 {
		img.TTL = defaultImageTTL
	}
	img.JanitorSchedule = strings.TrimSpace(img.JanitorSchedule)
	return nil
}

func normalizeRateLimit(rl *RateLimitConfig) error {
	allowed := map[string]struct{}{
		UpdateMessage: {},
		UpdatePhoto:   {},
	}
	for i, v := range rl.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: message, photo", v)
		}
		rl.ExcludeUpdates[i] = key
	}
	return nil
}
