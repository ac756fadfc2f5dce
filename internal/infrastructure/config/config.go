package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	WooCommerce WooCommerceConfig
	Sync        SyncConfig
	State       StateConfig
	Source      SourceConfig
	Log         LogConfig
	Telemetry   TelemetryConfig
	Profiling   ProfilingConfig
	HTTP        HTTPConfig
}

// WooCommerceConfig holds the remote platform settings
type WooCommerceConfig struct {
	SiteURL          string
	ConsumerKey      string
	ConsumerSecret   string
	UserAgent        string // empty rotates a browser user agent
	Timeout          time.Duration
	MaxAttempts      int
	RetryWaitMin     time.Duration
	RetryWaitMax     time.Duration
	RateLimitQPS     float64 // 0 disables throttling
	RateLimitBurst   int
	MaxResponseBytes int64
}

// SyncConfig holds engine settings
type SyncConfig struct {
	MaxParallelStreams int
	BatchSize          int
	ErrorSampleSize    int
	ClampNegativeStock bool
	CategoryPolicy     string // drop, create
}

// StateConfig selects where the sync state blob is kept
type StateConfig struct {
	Backend string // file, redis, s3, sql
	Path    string
	Redis   RedisConfig
	S3      S3Config
	SQL     SQLConfig
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// S3Config holds S3 (or S3-compatible) settings
type S3Config struct {
	Bucket       string
	Key          string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
}

// SQLConfig holds SQL state database settings
type SQLConfig struct {
	Driver       string // postgres, sqlite
	DSN          string
	Name         string // state row name; runners sharing a database use distinct names
	Migrate      bool
	MaxOpenConns int
}

// SourceConfig selects where inbound records come from
type SourceConfig struct {
	Kind  string // jsonl, kafka
	Path  string // jsonl input file; empty or "-" reads stdin
	Kafka KafkaConfig
}

// KafkaConfig holds consumer settings
type KafkaConfig struct {
	Brokers   []string
	Topic     string
	GroupID   string
	BatchWait time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	LogsEnabled       bool    // Export logs through the OTLP log bridge
	DBTracing         bool    // Trace SQL state queries
}

// ProfilingConfig holds Pyroscope continuous profiling configuration
type ProfilingConfig struct {
	Enabled           bool
	ServerAddress     string
	ApplicationName   string
	BasicAuthUser     string
	BasicAuthPassword string
	SpanProfiles      bool // link CPU profiles to trace spans
}

// HTTPConfig holds the ingest server configuration (serve mode)
type HTTPConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxBodySize     int64
	ShutdownTimeout time.Duration
	TrustedProxies  []string
	Auth            AuthConfig
}

// AuthConfig holds bearer token verification for the ingest API.
// An empty secret leaves the API open.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

// Source kinds
const (
	SourceJSONL = "jsonl"
	SourceKafka = "kafka"
)

// Load loads configuration from a TOML file and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with WOOSYNC_ prefix (e.g., WOOSYNC_WOOCOMMERCE_CONSUMER_KEY)
// 2. Variables from an optional .env file
// 3. woosync.toml, or the file at path when path is set
// 4. Built-in defaults
func Load(path string) (*Config, error) {
	// .env never overrides variables that are already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("woosync")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/woosync")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("WOOSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		WooCommerce: WooCommerceConfig{
			SiteURL:          v.GetString("woocommerce.site_url"),
			ConsumerKey:      v.GetString("woocommerce.consumer_key"),
			ConsumerSecret:   v.GetString("woocommerce.consumer_secret"),
			UserAgent:        v.GetString("woocommerce.user_agent"),
			Timeout:          v.GetDuration("woocommerce.timeout"),
			MaxAttempts:      v.GetInt("woocommerce.max_attempts"),
			RetryWaitMin:     v.GetDuration("woocommerce.retry_wait_min"),
			RetryWaitMax:     v.GetDuration("woocommerce.retry_wait_max"),
			RateLimitQPS:     v.GetFloat64("woocommerce.rate_limit_qps"),
			RateLimitBurst:   v.GetInt("woocommerce.rate_limit_burst"),
			MaxResponseBytes: v.GetInt64("woocommerce.max_response_bytes"),
		},
		Sync: SyncConfig{
			MaxParallelStreams: v.GetInt("sync.max_parallel_streams"),
			BatchSize:          v.GetInt("sync.batch_size"),
			ErrorSampleSize:    v.GetInt("sync.error_sample_size"),
			ClampNegativeStock: v.GetBool("sync.clamp_negative_stock"),
			CategoryPolicy:     v.GetString("sync.category_policy"),
		},
		State: StateConfig{
			Backend: v.GetString("state.backend"),
			Path:    v.GetString("state.path"),
			Redis: RedisConfig{
				Addr:     v.GetString("state.redis.addr"),
				Password: v.GetString("state.redis.password"),
				DB:       v.GetInt("state.redis.db"),
				Key:      v.GetString("state.redis.key"),
			},
			S3: S3Config{
				Bucket:       v.GetString("state.s3.bucket"),
				Key:          v.GetString("state.s3.key"),
				Region:       v.GetString("state.s3.region"),
				Endpoint:     v.GetString("state.s3.endpoint"),
				AccessKey:    v.GetString("state.s3.access_key"),
				SecretKey:    v.GetString("state.s3.secret_key"),
				UseSSL:       v.GetBool("state.s3.use_ssl"),
				UsePathStyle: v.GetBool("state.s3.use_path_style"),
			},
			SQL: SQLConfig{
				Driver:       v.GetString("state.sql.driver"),
				DSN:          v.GetString("state.sql.dsn"),
				Name:         v.GetString("state.sql.name"),
				Migrate:      v.GetBool("state.sql.migrate"),
				MaxOpenConns: v.GetInt("state.sql.max_open_conns"),
			},
		},
		Source: SourceConfig{
			Kind: v.GetString("source.kind"),
			Path: v.GetString("source.path"),
			Kafka: KafkaConfig{
				Brokers:   v.GetStringSlice("source.kafka.brokers"),
				Topic:     v.GetString("source.kafka.topic"),
				GroupID:   v.GetString("source.kafka.group_id"),
				BatchWait: v.GetDuration("source.kafka.batch_wait"),
			},
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTracing:         v.GetBool("telemetry.db_tracing"),
		},
		Profiling: ProfilingConfig{
			Enabled:           v.GetBool("profiling.enabled"),
			ServerAddress:     v.GetString("profiling.server_address"),
			ApplicationName:   v.GetString("profiling.application_name"),
			BasicAuthUser:     v.GetString("profiling.basic_auth_user"),
			BasicAuthPassword: v.GetString("profiling.basic_auth_password"),
			SpanProfiles:      v.GetBool("profiling.span_profiles"),
		},
		HTTP: HTTPConfig{
			Port:            v.GetString("http.port"),
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			IdleTimeout:     v.GetDuration("http.idle_timeout"),
			MaxBodySize:     v.GetInt64("http.max_body_size"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			TrustedProxies:  v.GetStringSlice("http.trusted_proxies"),
			Auth: AuthConfig{
				JWTSecret: v.GetString("http.auth.jwt_secret"),
				Issuer:    v.GetString("http.auth.issuer"),
				Audience:  v.GetString("http.auth.audience"),
			},
		},
	}

	// Apply defaults for empty values
	applyDefaults(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.WooCommerce.Timeout == 0 {
		cfg.WooCommerce.Timeout = 300 * time.Second
	}
	if cfg.WooCommerce.MaxAttempts == 0 {
		cfg.WooCommerce.MaxAttempts = 5
	}
	if cfg.WooCommerce.RetryWaitMin == 0 {
		cfg.WooCommerce.RetryWaitMin = 2 * time.Second
	}
	if cfg.WooCommerce.RetryWaitMax == 0 {
		cfg.WooCommerce.RetryWaitMax = 60 * time.Second
	}
	if cfg.WooCommerce.MaxResponseBytes == 0 {
		cfg.WooCommerce.MaxResponseBytes = 32 << 20 // 32MB
	}
	if cfg.Sync.MaxParallelStreams == 0 {
		cfg.Sync.MaxParallelStreams = 10
	}
	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = 100
	}
	if cfg.Sync.ErrorSampleSize == 0 {
		cfg.Sync.ErrorSampleSize = 10
	}
	if cfg.Sync.CategoryPolicy == "" {
		cfg.Sync.CategoryPolicy = "drop"
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = "file"
	}
	if cfg.State.Path == "" {
		cfg.State.Path = "woosync-state.json"
	}
	if cfg.State.Redis.Addr == "" {
		cfg.State.Redis.Addr = "localhost:6379"
	}
	if cfg.State.SQL.Driver == "" {
		cfg.State.SQL.Driver = "postgres"
	}
	if cfg.Source.Kind == "" {
		cfg.Source.Kind = SourceJSONL
	}
	if cfg.Source.Kafka.GroupID == "" {
		cfg.Source.Kafka.GroupID = "woosync"
	}
	if cfg.Source.Kafka.BatchWait == 0 {
		cfg.Source.Kafka.BatchWait = 2 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	// stdout carries STATE messages in run mode
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stderr"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "woosync"
	}
	if cfg.Profiling.ApplicationName == "" {
		cfg.Profiling.ApplicationName = cfg.Telemetry.ServiceName
	}
	if cfg.HTTP.Port == "" {
		cfg.HTTP.Port = "8080"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	// a request runs a whole batch against the platform
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 10 * time.Minute
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 10 << 20 // 10MB
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 30 * time.Second
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if strings.TrimSpace(c.WooCommerce.SiteURL) == "" {
		return fmt.Errorf("woocommerce.site_url is required")
	}
	if c.WooCommerce.ConsumerKey == "" {
		return fmt.Errorf("woocommerce.consumer_key is required")
	}
	if c.WooCommerce.ConsumerSecret == "" {
		return fmt.Errorf("woocommerce.consumer_secret is required")
	}
	if c.WooCommerce.MaxAttempts < 0 {
		return fmt.Errorf("woocommerce.max_attempts cannot be negative")
	}
	if c.WooCommerce.RetryWaitMax < c.WooCommerce.RetryWaitMin {
		return fmt.Errorf("woocommerce.retry_wait_max (%s) cannot be less than woocommerce.retry_wait_min (%s)",
			c.WooCommerce.RetryWaitMax, c.WooCommerce.RetryWaitMin)
	}
	if c.WooCommerce.RateLimitQPS < 0 {
		return fmt.Errorf("woocommerce.rate_limit_qps cannot be negative")
	}

	if c.Sync.MaxParallelStreams < 0 {
		return fmt.Errorf("sync.max_parallel_streams cannot be negative")
	}
	if c.Sync.BatchSize < 0 {
		return fmt.Errorf("sync.batch_size cannot be negative")
	}
	switch strings.ToLower(c.Sync.CategoryPolicy) {
	case "drop", "create":
	default:
		return fmt.Errorf("sync.category_policy must be drop or create, got %q", c.Sync.CategoryPolicy)
	}

	switch strings.ToLower(c.State.Backend) {
	case "file", "redis":
	case "sql":
		switch strings.ToLower(c.State.SQL.Driver) {
		case "postgres", "sqlite":
		default:
			return fmt.Errorf("state.sql.driver must be postgres or sqlite, got %q", c.State.SQL.Driver)
		}
		if c.State.SQL.DSN == "" {
			return fmt.Errorf("state.sql.dsn is required for the sql backend")
		}
	case "s3":
		if c.State.S3.Bucket == "" {
			return fmt.Errorf("state.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("state.backend must be file, redis, s3 or sql, got %q", c.State.Backend)
	}

	switch strings.ToLower(c.Source.Kind) {
	case SourceJSONL:
	case SourceKafka:
		if len(c.Source.Kafka.Brokers) == 0 || c.Source.Kafka.Topic == "" {
			return fmt.Errorf("source.kafka.brokers and source.kafka.topic are required for the kafka source")
		}
	default:
		return fmt.Errorf("source.kind must be jsonl or kafka, got %q", c.Source.Kind)
	}

	// Validate telemetry configuration
	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	if c.Profiling.Enabled && c.Profiling.ServerAddress == "" {
		return fmt.Errorf("profiling.server_address is required when profiling is enabled")
	}

	return nil
}
