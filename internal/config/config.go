package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Provider     ProviderConfig     `mapstructure:"provider"`
	Webhook      WebhookConfig      `mapstructure:"webhook"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Matcher      MatcherConfig      `mapstructure:"matcher"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Alert        AlertConfig        `mapstructure:"alert"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequestsPerSec float64       `mapstructure:"requests_per_sec"`
	Burst          int           `mapstructure:"burst"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host" envconfig:"DB_HOST"`
	Port     int    `mapstructure:"port" envconfig:"DB_PORT"`
	User     string `mapstructure:"user" envconfig:"DB_USER"`
	Password string `mapstructure:"password" envconfig:"DB_PASSWORD"`
	Name     string `mapstructure:"name" envconfig:"DB_NAME"`
	SSLMode  string `mapstructure:"sslmode" envconfig:"DB_SSLMODE"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url" envconfig:"REDIS_URL"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token" envconfig:"PROVIDER_TOKEN"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type WebhookConfig struct {
	SharedSecret    string `mapstructure:"shared_secret" envconfig:"WEBHOOK_SHARED_SECRET"`
	ClientState     string `mapstructure:"client_state" envconfig:"WEBHOOK_CLIENT_STATE"`
	SignatureHeader string `mapstructure:"signature_header"`
}

type QueueConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	BackoffCap      time.Duration `mapstructure:"backoff_cap"`
	StaleTimeout    time.Duration `mapstructure:"stale_timeout"`
	BreakerTrips    int           `mapstructure:"breaker_trips"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
	RetentionPeriod time.Duration `mapstructure:"retention_period"`
}

type SubscriptionConfig struct {
	ExpirationHours  int           `mapstructure:"expiration_hours"`
	RenewalThreshold time.Duration `mapstructure:"renewal_threshold"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	MaxFailures      int           `mapstructure:"max_failures"`
}

type MatcherConfig struct {
	SubjectWeight     float64       `mapstructure:"subject_weight"`
	RecipientWeight   float64       `mapstructure:"recipient_weight"`
	TimeWeight        float64       `mapstructure:"time_weight"`
	ThreadWeight      float64       `mapstructure:"thread_weight"`
	Threshold         float64       `mapstructure:"threshold"`
	TimeWindow        time.Duration `mapstructure:"time_window"`
	CountAutoReplies  bool          `mapstructure:"count_auto_replies"`
	CandidateCacheTTL time.Duration `mapstructure:"candidate_cache_ttl"`
}

type OperationLimit struct {
	Ceiling int           `mapstructure:"ceiling"`
	Window  time.Duration `mapstructure:"window"`
}

type RateLimitConfig struct {
	MessageRead        OperationLimit `mapstructure:"message_read"`
	SubscriptionCreate OperationLimit `mapstructure:"subscription_create"`
	SubscriptionRenew  OperationLimit `mapstructure:"subscription_renew"`
	SubscriptionDelete OperationLimit `mapstructure:"subscription_delete"`
	Bulk               OperationLimit `mapstructure:"bulk"`
	// FailOpenReads keeps read-only operations available when the backing
	// store is unreachable. Mutating operations fail closed unless
	// FailOpenMutations is set, which trades safety for availability.
	FailOpenReads     bool          `mapstructure:"fail_open_reads"`
	FailOpenMutations bool          `mapstructure:"fail_open_mutations"`
	RetentionPeriod   time.Duration `mapstructure:"retention_period"`
}

type AlertConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUser     string `mapstructure:"smtp_user" envconfig:"ALERT_SMTP_USER"`
	SMTPPassword string `mapstructure:"smtp_password" envconfig:"ALERT_SMTP_PASSWORD"`
	From         string `mapstructure:"from"`
	OperatorAddr string `mapstructure:"operator_addr"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/app")
	viper.AddConfigPath("/app/config")

	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Container env overrides for secrets and endpoints.
	if err := envconfig.Process("", &cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to process database env: %w", err)
	}
	if err := envconfig.Process("", &cfg.Webhook); err != nil {
		return nil, fmt.Errorf("failed to process webhook env: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.requests_per_sec", 100.0)
	viper.SetDefault("server.burst", 200)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 2)

	viper.SetDefault("provider.request_timeout", 30*time.Second)

	viper.SetDefault("webhook.signature_header", "X-Webhook-Signature")

	viper.SetDefault("queue.max_retries", 5)
	viper.SetDefault("queue.max_concurrent", 10)
	viper.SetDefault("queue.poll_interval", 5*time.Second)
	viper.SetDefault("queue.backoff_base", time.Second)
	viper.SetDefault("queue.backoff_cap", 60*time.Second)
	viper.SetDefault("queue.stale_timeout", 5*time.Minute)
	viper.SetDefault("queue.breaker_trips", 10)
	viper.SetDefault("queue.breaker_cooldown", 30*time.Second)
	viper.SetDefault("queue.retention_period", 7*24*time.Hour)

	viper.SetDefault("subscription.expiration_hours", 72)
	viper.SetDefault("subscription.renewal_threshold", 48*time.Hour)
	viper.SetDefault("subscription.sweep_interval", time.Hour)
	viper.SetDefault("subscription.max_failures", 5)

	viper.SetDefault("matcher.subject_weight", 0.35)
	viper.SetDefault("matcher.recipient_weight", 0.30)
	viper.SetDefault("matcher.time_weight", 0.20)
	viper.SetDefault("matcher.thread_weight", 0.15)
	viper.SetDefault("matcher.threshold", 0.8)
	viper.SetDefault("matcher.time_window", 7*24*time.Hour)
	viper.SetDefault("matcher.count_auto_replies", false)
	viper.SetDefault("matcher.candidate_cache_ttl", time.Minute)

	viper.SetDefault("rate_limit.message_read.ceiling", 10000)
	viper.SetDefault("rate_limit.message_read.window", time.Hour)
	viper.SetDefault("rate_limit.subscription_create.ceiling", 50)
	viper.SetDefault("rate_limit.subscription_create.window", time.Hour)
	viper.SetDefault("rate_limit.subscription_renew.ceiling", 500)
	viper.SetDefault("rate_limit.subscription_renew.window", time.Hour)
	viper.SetDefault("rate_limit.subscription_delete.ceiling", 100)
	viper.SetDefault("rate_limit.subscription_delete.window", time.Hour)
	viper.SetDefault("rate_limit.bulk.ceiling", 100)
	viper.SetDefault("rate_limit.bulk.window", time.Minute)
	viper.SetDefault("rate_limit.fail_open_reads", true)
	viper.SetDefault("rate_limit.fail_open_mutations", false)
	viper.SetDefault("rate_limit.retention_period", 24*time.Hour)

	viper.SetDefault("alert.enabled", false)
	viper.SetDefault("alert.smtp_port", 587)
}

// Limit returns the configured ceiling/window pair for an operation key.
func (c RateLimitConfig) Limit(op string) (OperationLimit, bool) {
	switch op {
	case "message_read":
		return c.MessageRead, true
	case "subscription_create":
		return c.SubscriptionCreate, true
	case "subscription_renew":
		return c.SubscriptionRenew, true
	case "subscription_delete":
		return c.SubscriptionDelete, true
	case "bulk":
		return c.Bulk, true
	}
	return OperationLimit{}, false
}
