package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Budget   BudgetConfig   `mapstructure:"budget"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Lark     LarkConfig     `mapstructure:"lark"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port for the HTTP listener
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// OpenAIConfig holds extraction API configuration. Rates are cents per
// million tokens.
type OpenAIConfig struct {
	APIKey           string        `mapstructure:"api_key"`
	BaseURL          string        `mapstructure:"base_url"`
	Model            string        `mapstructure:"model"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxTokens        int           `mapstructure:"max_tokens"`
	InputCentsPerM   float64       `mapstructure:"input_cents_per_million"`
	OutputCentsPerM  float64       `mapstructure:"output_cents_per_million"`
}

// BudgetConfig holds the monthly extraction cap
type BudgetConfig struct {
	MonthlyCents          int64 `mapstructure:"monthly_cents"`
	AlertThresholdPercent int   `mapstructure:"alert_threshold_percent"`
}

// StorageConfig selects and configures the blob store
type StorageConfig struct {
	Driver             string        `mapstructure:"driver"` // local or gcs
	LocalDir           string        `mapstructure:"local_dir"`
	SigningSecret      string        `mapstructure:"signing_secret"`
	PublicBaseURL      string        `mapstructure:"public_base_url"`
	GCSBucket          string        `mapstructure:"gcs_bucket"`
	GCSCredentialsJSON string        `mapstructure:"gcs_credentials_json"`
	DownloadTTL        time.Duration `mapstructure:"download_ttl"`
}

// IngestConfig holds bulk upload limits
type IngestConfig struct {
	MaxBatchFiles int   `mapstructure:"max_batch_files"`
	MaxFileBytes  int64 `mapstructure:"max_file_bytes"`
	MatchLimit    int   `mapstructure:"match_limit"`
}

// RedisConfig enables the cross-process extraction lock when Addr is set
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockKey  string        `mapstructure:"lock_key"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// Enabled reports whether Redis is configured
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

// LarkConfig enables budget alerts to a Lark chat when all fields are set
type LarkConfig struct {
	AppID       string `mapstructure:"app_id"`
	AppSecret   string `mapstructure:"app_secret"`
	AlertChatID string `mapstructure:"alert_chat_id"`
}

// Enabled reports whether budget alerts can be sent
func (l LarkConfig) Enabled() bool {
	return l.AppID != "" && l.AppSecret != "" && l.AlertChatID != ""
}

// WorkersConfig tunes background maintenance
type WorkersConfig struct {
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	StaleAfter         time.Duration `mapstructure:"stale_after"`
	SweepBatchSize     int           `mapstructure:"sweep_batch_size"`
	SpendGaugeInterval time.Duration `mapstructure:"spend_gauge_interval"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables. A .env file
// in the working directory is applied to the environment first. An empty
// configPath runs on defaults and environment alone.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 60*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/invoices.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// OpenAI defaults
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.timeout", 60*time.Second)
	v.SetDefault("openai.max_tokens", 1000)
	v.SetDefault("openai.input_cents_per_million", 250)
	v.SetDefault("openai.output_cents_per_million", 1000)

	// Budget defaults
	v.SetDefault("budget.monthly_cents", 1000)
	v.SetDefault("budget.alert_threshold_percent", 80)

	// Storage defaults
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local_dir", "data/blobs")
	v.SetDefault("storage.public_base_url", "http://localhost:8080")
	v.SetDefault("storage.download_ttl", time.Hour)

	// Ingest defaults
	v.SetDefault("ingest.max_batch_files", 20)
	v.SetDefault("ingest.max_file_bytes", 10<<20)
	v.SetDefault("ingest.match_limit", 5)

	// Redis defaults
	v.SetDefault("redis.lock_key", "invoice-matcher:extraction")
	v.SetDefault("redis.lock_ttl", 2*time.Minute)

	// Worker defaults
	v.SetDefault("workers.sweep_interval", 5*time.Minute)
	v.SetDefault("workers.stale_after", time.Hour)
	v.SetDefault("workers.sweep_batch_size", 100)
	v.SetDefault("workers.spend_gauge_interval", time.Minute)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) error {
	// Sensitive credentials from environment
	bindings := map[string]string{
		"openai.api_key":               "OPENAI_API_KEY",
		"openai.base_url":              "OPENAI_BASE_URL",
		"storage.signing_secret":       "STORAGE_SIGNING_SECRET",
		"storage.gcs_bucket":           "GCS_BUCKET",
		"storage.gcs_credentials_json": "GCS_CREDENTIALS_JSON",
		"redis.addr":                   "REDIS_ADDR",
		"redis.password":               "REDIS_PASSWORD",
		"lark.app_id":                  "LARK_APP_ID",
		"lark.app_secret":              "LARK_APP_SECRET",
		"lark.alert_chat_id":           "LARK_ALERT_CHAT_ID",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// Validate OpenAI credentials
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	if c.OpenAI.Timeout <= 0 {
		return fmt.Errorf("openai.timeout must be positive")
	}
	if c.OpenAI.InputCentsPerM <= 0 {
		return fmt.Errorf("openai.input_cents_per_million must be positive")
	}
	if c.OpenAI.OutputCentsPerM <= c.OpenAI.InputCentsPerM {
		return fmt.Errorf("openai.output_cents_per_million must be greater than the input rate")
	}

	// Validate budget
	if c.Budget.MonthlyCents < 0 {
		return fmt.Errorf("budget.monthly_cents must not be negative")
	}
	if c.Budget.AlertThresholdPercent < 1 || c.Budget.AlertThresholdPercent > 100 {
		return fmt.Errorf("budget.alert_threshold_percent must be between 1 and 100")
	}

	// Validate storage
	switch c.Storage.Driver {
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local driver")
		}
		if len(c.Storage.SigningSecret) < 16 {
			return fmt.Errorf("storage.signing_secret must be at least 16 characters")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs driver")
		}
	default:
		return fmt.Errorf("storage.driver must be local or gcs, got %q", c.Storage.Driver)
	}
	if c.Storage.DownloadTTL <= 0 {
		return fmt.Errorf("storage.download_ttl must be positive")
	}

	// Validate ingest limits
	if c.Ingest.MaxBatchFiles <= 0 {
		return fmt.Errorf("ingest.max_batch_files must be positive")
	}
	if c.Ingest.MaxFileBytes <= 0 {
		return fmt.Errorf("ingest.max_file_bytes must be positive")
	}
	if c.Ingest.MatchLimit <= 0 {
		return fmt.Errorf("ingest.match_limit must be positive")
	}

	if c.Workers.SweepInterval <= 0 || c.Workers.SpendGaugeInterval <= 0 {
		return fmt.Errorf("workers intervals must be positive")
	}
	if c.Workers.StaleAfter < c.OpenAI.Timeout {
		return fmt.Errorf("workers.stale_after must not be shorter than openai.timeout")
	}
	if c.Workers.SweepBatchSize <= 0 {
		return fmt.Errorf("workers.sweep_batch_size must be positive")
	}

	if c.Redis.Enabled() && c.Redis.LockTTL <= 0 {
		return fmt.Errorf("redis.lock_ttl must be positive")
	}

	return nil
}
