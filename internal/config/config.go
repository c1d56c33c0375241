package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rewired-gh/marketalert/internal/models"
	"github.com/rewired-gh/marketalert/internal/monitor"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. MARKET_ALERT_TELEGRAM_BOT_TOKEN.
const EnvPrefix = "MARKET_ALERT"

// Config represents the complete application configuration
type Config struct {
	AlphaVantage AlphaVantageConfig `mapstructure:"alphavantage"`
	Tickers      []TickerConfig     `mapstructure:"tickers"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// AlphaVantageConfig holds market data API configuration
type AlphaVantageConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	UseCache   bool          `mapstructure:"use_cache"`
	CacheDir   string        `mapstructure:"cache_dir"`
}

// TickerConfig describes one monitored instrument
type TickerConfig struct {
	Name              string            `mapstructure:"name"`
	Symbol            string            `mapstructure:"symbol"`
	Kind              string            `mapstructure:"kind"` // volatility or trend
	Interval          string            `mapstructure:"interval"`
	Schedule          string            `mapstructure:"schedule"` // cron expression
	Timezone          string            `mapstructure:"timezone"`
	FullSessionPoints int               `mapstructure:"full_session_points"`
	Thresholds        models.Thresholds `mapstructure:"thresholds"`
	WarmupPeriod      int               `mapstructure:"warmup_period"`
	DataPeriod        int               `mapstructure:"data_period"`
	PPO               PPOConfig         `mapstructure:"ppo"`
}

// PPOConfig holds the EMA lengths of the oscillator
type PPOConfig struct {
	Short  int `mapstructure:"short"`
	Long   int `mapstructure:"long"`
	Signal int `mapstructure:"signal"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken   string        `mapstructure:"bot_token"`
	ChatID     string        `mapstructure:"chat_id"`
	Enabled    bool          `mapstructure:"enabled"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	Timezone   string        `mapstructure:"timezone"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	Backend          string      `mapstructure:"backend"` // sqlite, redis or memory
	DBPath           string      `mapstructure:"db_path"`
	MaxNotifications int         `mapstructure:"max_notifications"`
	Redis            RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds the shared state store connection
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// ServerConfig holds the health and trigger HTTP server configuration
type ServerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Addr         string `mapstructure:"addr"`
	TriggerToken string `mapstructure:"trigger_token"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadDotEnv loads variables from a .env file when one exists. Existing variables win.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set config file
	v.SetConfigFile(path)

	// Set defaults
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for i := range cfg.Tickers {
		cfg.Tickers[i].applyDefaults()
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Alpha Vantage defaults
	v.SetDefault("alphavantage.base_url", "https://www.alphavantage.co")
	v.SetDefault("alphavantage.api_key", "")
	v.SetDefault("alphavantage.timeout", "10s")
	v.SetDefault("alphavantage.max_retries", 3)
	v.SetDefault("alphavantage.retry_delay", "1s")
	v.SetDefault("alphavantage.use_cache", false)
	v.SetDefault("alphavantage.cache_dir", "./data/cache")

	// Telegram defaults
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay", "1s")
	v.SetDefault("telegram.timezone", "America/New_York")

	// Storage defaults
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.db_path", "./data/marketalert.db")
	v.SetDefault("storage.max_notifications", 1000)
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", "marketalert")

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", "0.0.0.0:3008")
	v.SetDefault("server.trigger_token", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// applyDefaults fills per-ticker values viper cannot default inside a list.
func (t *TickerConfig) applyDefaults() {
	if t.Interval == "" {
		t.Interval = "5min"
	}
	if t.Timezone == "" {
		t.Timezone = "America/New_York"
	}
	switch monitor.Kind(t.Kind) {
	case monitor.KindVolatility:
		if t.Schedule == "" {
			t.Schedule = "*/30 9-16 * * 1-5"
		}
		if t.FullSessionPoints == 0 {
			t.FullSessionPoints = 78
		}
	case monitor.KindTrend:
		if t.Schedule == "" {
			t.Schedule = "5 16 * * 1-5"
		}
		if t.PPO == (PPOConfig{}) {
			t.PPO = PPOConfig{Short: 12, Long: 26, Signal: 9}
		}
	}
}

var validIntervals = map[string]bool{"1min": true, "5min": true, "15min": true, "30min": true, "60min": true}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Alpha Vantage config
	if c.AlphaVantage.BaseURL == "" {
		return fmt.Errorf("alphavantage.base_url is required")
	}
	if c.AlphaVantage.APIKey == "" && !c.AlphaVantage.UseCache {
		return fmt.Errorf("alphavantage.api_key is required unless use_cache is set")
	}
	if c.AlphaVantage.Timeout < time.Second {
		return fmt.Errorf("alphavantage.timeout must be at least 1 second")
	}
	if c.AlphaVantage.MaxRetries < 1 {
		return fmt.Errorf("alphavantage.max_retries must be at least 1")
	}

	// Validate tickers
	if len(c.Tickers) == 0 {
		return fmt.Errorf("tickers must contain at least one ticker")
	}
	seen := make(map[string]bool, len(c.Tickers))
	for i, t := range c.Tickers {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tickers[%d]: %w", i, err)
		}
		if seen[t.Symbol] {
			return fmt.Errorf("tickers[%d]: duplicate symbol %s", i, t.Symbol)
		}
		seen[t.Symbol] = true
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	if _, err := time.LoadLocation(c.Telegram.Timezone); err != nil {
		return fmt.Errorf("telegram.timezone: %w", err)
	}

	// Validate Storage config
	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage.db_path is required for the sqlite backend")
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis backend")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend must be one of: sqlite, redis, memory")
	}
	if c.Storage.MaxNotifications < 0 {
		return fmt.Errorf("storage.max_notifications must not be negative")
	}

	// Validate Server config
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required when the server is enabled")
	}
	if c.Server.TriggerToken != "" && len(c.Server.TriggerToken) < 16 {
		return fmt.Errorf("server.trigger_token must be at least 16 characters")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Validate checks a single ticker.
func (t TickerConfig) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !validIntervals[t.Interval] {
		return fmt.Errorf("%s: interval must be one of 1min, 5min, 15min, 30min, 60min", t.Symbol)
	}
	if _, err := cron.ParseStandard(t.Schedule); err != nil {
		return fmt.Errorf("%s: invalid schedule %q: %w", t.Symbol, t.Schedule, err)
	}
	if _, err := time.LoadLocation(t.Timezone); err != nil {
		return fmt.Errorf("%s: invalid timezone: %w", t.Symbol, err)
	}

	switch monitor.Kind(t.Kind) {
	case monitor.KindVolatility:
		if t.FullSessionPoints < 1 {
			return fmt.Errorf("%s: full_session_points must be at least 1", t.Symbol)
		}
		if err := t.Thresholds.Validate(); err != nil {
			return fmt.Errorf("%s: thresholds: %w", t.Symbol, err)
		}
	case monitor.KindTrend:
		if err := t.trendConfig().Validate(); err != nil {
			return fmt.Errorf("%s: %w", t.Symbol, err)
		}
	default:
		return fmt.Errorf("%s: kind must be one of: volatility, trend", t.Symbol)
	}
	return nil
}

func (t TickerConfig) trendConfig() monitor.TrendConfig {
	return monitor.TrendConfig{
		Short:        t.PPO.Short,
		Long:         t.PPO.Long,
		Signal:       t.PPO.Signal,
		WarmupPeriod: t.WarmupPeriod,
		DataPeriod:   t.DataPeriod,
	}
}

// MonitorTickers converts the ticker list for monitor.New. Call Validate first.
func (c *Config) MonitorTickers() ([]monitor.Ticker, error) {
	out := make([]monitor.Ticker, 0, len(c.Tickers))
	for _, t := range c.Tickers {
		loc, err := time.LoadLocation(t.Timezone)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid timezone: %w", t.Symbol, err)
		}
		out = append(out, monitor.Ticker{
			Symbol:            t.Symbol,
			Name:              t.Name,
			Kind:              monitor.Kind(t.Kind),
			Thresholds:        t.Thresholds,
			FullSessionPoints: t.FullSessionPoints,
			Location:          loc,
			Trend:             t.trendConfig(),
		})
	}
	return out, nil
}
