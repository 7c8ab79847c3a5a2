package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment string         `mapstructure:"environment" validate:"required"`
	LogLevel    string         `mapstructure:"log_level"`
	AppName     string         `mapstructure:"app_name" validate:"required"`
	Server      ServerConfig   `mapstructure:"server"`
	Ingest      IngestConfig   `mapstructure:"ingest"`
	Store       StoreConfig    `mapstructure:"store"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Alerts      AlertsConfig   `mapstructure:"alerts"`
	Notifier    NotifierConfig `mapstructure:"notifier"`
	Webhook     WebhookConfig  `mapstructure:"webhook"`
	Workers     WorkerConfig   `mapstructure:"workers"`
	Tracing     TracingConfig  `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port            int    `mapstructure:"port" validate:"min=1,max=65535"`
	Host            string `mapstructure:"host"`
	ReadTimeout     int    `mapstructure:"read_timeout"`
	WriteTimeout    int    `mapstructure:"write_timeout"`
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min"`
	MaxBodyBytes    int64  `mapstructure:"max_body_bytes"`
}

// IngestConfig sizes the rolling window and the alert policy
type IngestConfig struct {
	ThresholdAmount        string   `mapstructure:"threshold_amount" validate:"required"`
	WindowSeconds          int      `mapstructure:"window_seconds" validate:"gt=0"`
	CooldownSeconds        int      `mapstructure:"cooldown_seconds" validate:"gte=0"`
	BucketSizeSeconds      int      `mapstructure:"bucket_size_seconds" validate:"gt=0"`
	BucketRetentionSeconds int      `mapstructure:"bucket_retention_seconds" validate:"gte=0"`
	LedgerRetentionSeconds int      `mapstructure:"ledger_retention_seconds" validate:"gte=0"`
	TrackedAssetSymbol     string   `mapstructure:"tracked_asset_symbol" validate:"required"`
	TrackedWallets         []string `mapstructure:"tracked_wallets"`
	RecognizedAssets       []string `mapstructure:"recognized_assets"`
	PairConcurrency        int      `mapstructure:"pair_concurrency" validate:"gt=0"`
	AlertTimeoutSeconds    int      `mapstructure:"alert_timeout_seconds" validate:"gt=0"`
	AlertsEnabled          bool     `mapstructure:"alerts_enabled"`
}

// Threshold parses the configured threshold amount
func (c IngestConfig) Threshold() (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(c.ThresholdAmount))
}

// Window returns the aggregation window
func (c IngestConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// Cooldown returns the minimum quiet period between alerts
func (c IngestConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// BucketSize returns the bucket width
func (c IngestConfig) BucketSize() time.Duration {
	return time.Duration(c.BucketSizeSeconds) * time.Second
}

// BucketRetention returns how long buckets outlive their last write.
// Zero selects window + 2 buckets.
func (c IngestConfig) BucketRetention() time.Duration {
	if c.BucketRetentionSeconds <= 0 {
		return c.Window() + 2*c.BucketSize()
	}
	return time.Duration(c.BucketRetentionSeconds) * time.Second
}

// LedgerRetention returns how long ledger entries are kept
func (c IngestConfig) LedgerRetention() time.Duration {
	return time.Duration(c.LedgerRetentionSeconds) * time.Second
}

// AlertTimeout bounds a single alert publish
func (c IngestConfig) AlertTimeout() time.Duration {
	return time.Duration(c.AlertTimeoutSeconds) * time.Second
}

// StoreConfig selects the backing store
type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory redis postgres"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// Addr returns host:port
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AlertsConfig selects where threshold alerts are published
type AlertsConfig struct {
	Channel         string `mapstructure:"channel" validate:"oneof=sns slack log none"`
	SNSTopicARN     string `mapstructure:"sns_topic_arn"`
	SlackWebhookURL string `mapstructure:"slack_webhook_url"`
	AWSRegion       string `mapstructure:"aws_region"`
}

// NotifierConfig drives the SQS to Slack notifier
type NotifierConfig struct {
	QueueURL                 string `mapstructure:"queue_url"`
	SlackWebhookURL          string `mapstructure:"slack_webhook_url"`
	MaxMessages              int32  `mapstructure:"max_messages"`
	WaitTimeSeconds          int32  `mapstructure:"wait_time_seconds"`
	VisibilityTimeoutSeconds int32  `mapstructure:"visibility_timeout_seconds"`
	MaxAttempts              int    `mapstructure:"max_attempts"`
}

// WebhookConfig controls the inbound endpoint
type WebhookConfig struct {
	Path       string `mapstructure:"path"`
	SigningKey string `mapstructure:"signing_key"`
}

type WorkerConfig struct {
	RetentionEnabled  bool   `mapstructure:"retention_enabled"`
	RetentionSchedule string `mapstructure:"retention_schedule"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.Ingest.TrackedWallets = ParseWalletList(strings.Join(config.Ingest.TrackedWallets, ","))

	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("app_name", "serverless-eth-watcher")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.rate_limit_per_min", 600)
	viper.SetDefault("server.max_body_bytes", 1<<20)

	viper.SetDefault("ingest.threshold_amount", "1.5")
	viper.SetDefault("ingest.window_seconds", 300)
	viper.SetDefault("ingest.cooldown_seconds", 300)
	viper.SetDefault("ingest.bucket_size_seconds", 60)
	viper.SetDefault("ingest.bucket_retention_seconds", 0)
	viper.SetDefault("ingest.ledger_retention_seconds", 7*24*3600)
	viper.SetDefault("ingest.tracked_asset_symbol", "ETH")
	viper.SetDefault("ingest.tracked_wallets", []string{})
	viper.SetDefault("ingest.recognized_assets", []string{"ETH", "USDC", "DAI"})
	viper.SetDefault("ingest.pair_concurrency", 4)
	viper.SetDefault("ingest.alert_timeout_seconds", 5)
	viper.SetDefault("ingest.alerts_enabled", true)

	viper.SetDefault("store.driver", "memory")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "volume_watcher")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 3600)
	viper.SetDefault("database.migrations_path", "file://migrations")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.key_prefix", "vw")

	viper.SetDefault("alerts.channel", "log")
	viper.SetDefault("alerts.aws_region", "us-east-1")

	viper.SetDefault("notifier.max_messages", 10)
	viper.SetDefault("notifier.wait_time_seconds", 20)
	viper.SetDefault("notifier.visibility_timeout_seconds", 60)
	viper.SetDefault("notifier.max_attempts", 3)

	viper.SetDefault("webhook.path", "/webhooks/alchemy")

	viper.SetDefault("workers.retention_enabled", true)
	viper.SetDefault("workers.retention_schedule", "@every 10m")

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.sample_rate", 0.1)
}

// overrideFromEnv maps the flat environment names used by deployments onto viper keys
func overrideFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.port", p)
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
	}
	if appName := os.Getenv("APP_NAME"); appName != "" {
		viper.Set("app_name", appName)
	}

	if threshold := os.Getenv("THRESHOLD_ETH"); threshold != "" {
		viper.Set("ingest.threshold_amount", threshold)
	}
	setIntFromEnv("WINDOW_SECONDS", "ingest.window_seconds")
	setIntFromEnv("COOLDOWN_SECONDS", "ingest.cooldown_seconds")
	setIntFromEnv("BUCKET_SIZE_SECONDS", "ingest.bucket_size_seconds")
	if asset := os.Getenv("TRACKED_ASSET_SYMBOL"); asset != "" {
		viper.Set("ingest.tracked_asset_symbol", asset)
	}
	if wallets, ok := os.LookupEnv("TRACKED_WALLETS"); ok {
		viper.Set("ingest.tracked_wallets", ParseWalletList(wallets))
	}

	if topic := os.Getenv("SNS_TOPIC_ARN"); topic != "" {
		viper.Set("alerts.sns_topic_arn", topic)
	}
	if slack := os.Getenv("SLACK_WEBHOOK_URL"); slack != "" {
		viper.Set("alerts.slack_webhook_url", slack)
		viper.Set("notifier.slack_webhook_url", slack)
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		viper.Set("alerts.aws_region", region)
	}
	if queue := os.Getenv("NOTIFIER_QUEUE_URL"); queue != "" {
		viper.Set("notifier.queue_url", queue)
	}
	if key := os.Getenv("ALCHEMY_SIGNING_KEY"); key != "" {
		viper.Set("webhook.signing_key", key)
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		if host, port, ok := strings.Cut(addr, ":"); ok {
			viper.Set("redis.host", host)
			if p, err := strconv.Atoi(port); err == nil {
				viper.Set("redis.port", p)
			}
		}
	}
}

func setIntFromEnv(env, key string) {
	if raw := os.Getenv(env); raw != "" {
		if v, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			viper.Set(key, v)
		}
	}
}

// ParseWalletList splits a comma separated list, trims entries, drops blanks
// and removes case-insensitive duplicates while keeping first-seen order.
func ParseWalletList(raw string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.Split(raw, ",") {
		w := strings.TrimSpace(part)
		if w == "" {
			continue
		}
		key := strings.ToLower(w)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, w)
	}
	return out
}

func validate(config *Config) error {
	if err := validator.New().Struct(config); err != nil {
		return err
	}

	threshold, err := config.Ingest.Threshold()
	if err != nil {
		return fmt.Errorf("invalid threshold amount %q: %w", config.Ingest.ThresholdAmount, err)
	}
	if !threshold.IsPositive() {
		return fmt.Errorf("threshold amount must be positive")
	}

	if config.Ingest.BucketRetention() < config.Ingest.Window()+config.Ingest.BucketSize() {
		return fmt.Errorf("bucket retention must cover the window plus one bucket")
	}

	switch config.Alerts.Channel {
	case "sns":
		if config.Alerts.SNSTopicARN == "" {
			return fmt.Errorf("SNS topic ARN is required when alerts.channel is sns")
		}
	case "slack":
		if config.Alerts.SlackWebhookURL == "" {
			return fmt.Errorf("slack webhook URL is required when alerts.channel is slack")
		}
	}

	if config.Store.Driver == "postgres" && config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
		return fmt.Errorf("database configuration is incomplete")
	}

	return nil
}
