// Package config loads application configuration from a YAML file and
// environment variables. Environment variables take precedence over the
// file; both override the built-in defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "EXCHANGE_DESK_"

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	CORS          CORSConfig          `koanf:"cors"`
	JWT           JWTConfig           `koanf:"jwt"`
	Telegram      TelegramConfig      `koanf:"telegram"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Rates         RatesConfig         `koanf:"rates"`
	Redis         RedisConfig         `koanf:"redis"`
	Log           LogConfig           `koanf:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	MigrateOnStart  bool          `koanf:"migrate_on_start"`
}

// CORSConfig holds cross-origin settings for the mini-app front-end.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// JWTConfig holds session token settings.
type JWTConfig struct {
	SecretKey     string        `koanf:"secret_key"`
	TokenDuration time.Duration `koanf:"token_duration"`
}

// TelegramConfig holds bot credentials shared by the auth layer and the
// delivery client.
type TelegramConfig struct {
	Enabled      bool          `koanf:"enabled"`
	BotToken     string        `koanf:"bot_token"`
	RateLimit    float64       `koanf:"rate_limit"`
	SendTimeout  time.Duration `koanf:"send_timeout"`
	AdminChatIDs []int64       `koanf:"admin_chat_ids"`
	AdminLang    string        `koanf:"admin_lang"`
	InitDataTTL  time.Duration `koanf:"init_data_ttl"`
}

// NotificationsConfig holds queue processing settings.
type NotificationsConfig struct {
	Enabled bool         `koanf:"enabled"`
	Worker  WorkerConfig `koanf:"worker"`
	Retry   RetryConfig  `koanf:"retry"`
}

// WorkerConfig tunes the queue processor.
type WorkerConfig struct {
	BatchSize    int           `koanf:"batch_size"`
	PollInterval time.Duration `koanf:"poll_interval"`
	StaleAfter   time.Duration `koanf:"stale_after"`
}

// RetryConfig tunes delivery retry behavior.
type RetryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
}

// RatesConfig holds exchange rate source settings.
type RatesConfig struct {
	BaseURL        string        `koanf:"base_url"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	CacheTTL       time.Duration `koanf:"cache_ttl"`
	Markup         float64       `koanf:"markup"`
}

// RedisConfig holds cache connection settings.
type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the configuration defaults. Values not present in the
// file or environment keep these.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			MigrateOnStart:  true,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		JWT: JWTConfig{
			TokenDuration: 24 * time.Hour,
		},
		Telegram: TelegramConfig{
			Enabled:     true,
			RateLimit:   25,
			SendTimeout: 10 * time.Second,
			AdminLang:   "en",
			InitDataTTL: 24 * time.Hour,
		},
		Notifications: NotificationsConfig{
			Enabled: true,
			Worker: WorkerConfig{
				BatchSize:    10,
				PollInterval: 5 * time.Second,
				StaleAfter:   5 * time.Minute,
			},
			Retry: RetryConfig{
				MaxAttempts:       5,
				InitialBackoff:    5 * time.Second,
				MaxBackoff:        30 * time.Minute,
				BackoffMultiplier: 2.0,
			},
		},
		Rates: RatesConfig{
			BaseURL:        "https://api.coingecko.com/api/v3",
			RequestTimeout: 10 * time.Second,
			CacheTTL:       time.Minute,
			Markup:         0,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from the given YAML file (optional; pass an
// empty path to skip) and the EXCHANGE_DESK_* environment, applied on
// top of the defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// A missing file is fine when the path came from the default;
			// everything can be supplied via environment.
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	// EXCHANGE_DESK_NOTIFICATIONS__WORKER__BATCH_SIZE -> notifications.worker.batch_size
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks settings that have no sane fallback.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("jwt.secret_key is required")
	}
	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("jwt.secret_key must be at least 32 characters")
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
	}
	if c.Notifications.Retry.MaxAttempts < 1 {
		return fmt.Errorf("notifications.retry.max_attempts must be at least 1")
	}
	return nil
}
