package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"signal_bot/internal/helper"
	"signal_bot/internal/models"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDirENV      = "CONFIG_DIR"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
	redisAddrENV      = "REDIS_ADDR"
	storeDriverENV    = "STORE_DRIVER"
)

type Config struct {
	Service struct {
		Name      string `mapstructure:"name"`
		Host      string `mapstructure:"host"`
		AdminPort int    `mapstructure:"admin_port"`
	} `mapstructure:"service"`

	Log struct {
		Level      string `mapstructure:"level"`
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
	} `mapstructure:"log"`

	Tracing struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"tracing"`

	Telegram struct {
		Token             string  `mapstructure:"token"`
		OperatorChatID    int64   `mapstructure:"operator_chat_id"`
		SubscriberChatIDs []int64 `mapstructure:"subscriber_chat_ids"`
	} `mapstructure:"telegram"`

	Store struct {
		Driver           string `mapstructure:"driver"` // postgres | redis | memory
		PostgresDSN      string `mapstructure:"postgres_dsn"`
		PostgresMaxConns int32  `mapstructure:"postgres_max_conns"`
		PostgresLogLevel string `mapstructure:"postgres_log_level"`
		RedisAddr        string `mapstructure:"redis_addr"`
		RedisPassword    string `mapstructure:"redis_password"`
		RedisDB          int    `mapstructure:"redis_db"`
		RedisPrefix      string `mapstructure:"redis_prefix"`
	} `mapstructure:"store"`

	Market struct {
		BaseURL          string          `mapstructure:"base_url"`
		WSURL            string          `mapstructure:"ws_url"`
		StreamEnabled    bool            `mapstructure:"stream_enabled"`
		RequestTimeout   time.Duration   `mapstructure:"request_timeout"`
		PriceMaxAge      time.Duration   `mapstructure:"price_max_age"`
		ConfirmTimeframe string          `mapstructure:"confirm_timeframe"`
		ConfirmLookback  int             `mapstructure:"confirm_lookback"`
		HistoryBars      int             `mapstructure:"history_bars"`
		RetryDelays      []time.Duration `mapstructure:"retry_delays"`
		RetryAttempts    int             `mapstructure:"retry_attempts"`
	} `mapstructure:"market"`

	Monitor struct {
		SlowInterval        time.Duration `mapstructure:"slow_interval"`
		FastInterval        time.Duration `mapstructure:"fast_interval"`
		SlowTickTimeout     time.Duration `mapstructure:"slow_tick_timeout"`
		FastTickTimeout     time.Duration `mapstructure:"fast_tick_timeout"`
		BackstopBars        int           `mapstructure:"backstop_bars"`
		ClosingStaleAfter   time.Duration `mapstructure:"closing_stale_after"`
		CloseTimeout        time.Duration `mapstructure:"close_timeout"`
		MaxSignalsPerRun    int           `mapstructure:"max_signals_per_run"`
		BurstThreshold      int           `mapstructure:"burst_threshold"`
		PostCloseCooldown   time.Duration `mapstructure:"post_close_cooldown"`
		SignalBurstCooldown time.Duration `mapstructure:"signal_burst_cooldown"`
		NotionalUSD         float64       `mapstructure:"notional_usd"`
		Concurrency         int           `mapstructure:"concurrency"`
	} `mapstructure:"monitor"`

	InstrumentsFile string `mapstructure:"instruments_file"`

	Instruments models.Instruments `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "signal_bot")
	v.SetDefault("service.host", "0.0.0.0")
	v.SetDefault("service.admin_port", 8080)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.host", "localhost")
	v.SetDefault("tracing.port", 6831)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.operator_chat_id", 0)
	v.SetDefault("telegram.subscriber_chat_ids", []int64{})

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.postgres_max_conns", 8)
	v.SetDefault("store.postgres_log_level", "warn")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_prefix", "signal_bot:")

	v.SetDefault("market.base_url", "https://fapi.binance.com")
	v.SetDefault("market.ws_url", "wss://fstream.binance.com/stream")
	v.SetDefault("market.stream_enabled", true)
	v.SetDefault("market.request_timeout", 10*time.Second)
	v.SetDefault("market.price_max_age", 10*time.Second)
	v.SetDefault("market.confirm_timeframe", "15m")
	v.SetDefault("market.confirm_lookback", 2)
	v.SetDefault("market.history_bars", 1000)
	v.SetDefault("market.retry_delays", []time.Duration{time.Second, 3 * time.Second, 5 * time.Second})
	v.SetDefault("market.retry_attempts", 3)

	v.SetDefault("monitor.slow_interval", 15*time.Minute)
	v.SetDefault("monitor.fast_interval", 3*time.Second)
	v.SetDefault("monitor.slow_tick_timeout", 5*time.Minute)
	v.SetDefault("monitor.fast_tick_timeout", 20*time.Second)
	v.SetDefault("monitor.backstop_bars", 100)
	v.SetDefault("monitor.closing_stale_after", 2*time.Minute)
	v.SetDefault("monitor.close_timeout", 30*time.Second)
	v.SetDefault("monitor.max_signals_per_run", 5)
	v.SetDefault("monitor.burst_threshold", 5)
	v.SetDefault("monitor.post_close_cooldown", 2*time.Hour)
	v.SetDefault("monitor.signal_burst_cooldown", 30*time.Minute)
	v.SetDefault("monitor.notional_usd", 100.0)
	v.SetDefault("monitor.concurrency", 4)

	v.SetDefault("instruments_file", "instruments.yaml")
}

// NewConfig loads configs/<CONFIG_FILE> (values_local.yaml by default) and the instrument file next to it.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	dir := os.Getenv(configDirENV)
	if dir == "" {
		dir = "configs"
	}
	name := os.Getenv(configFilePathENV)
	if name == "" {
		name = "values_local.yaml"
	}
	return Load(filepath.Join(dir, name))
}

// Load reads the service config from path. A relative instruments_file is resolved against path's directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("telegram.token", tokenTelegramENV)
	_ = v.BindEnv("store.postgres_dsn", databaseDSN)
	_ = v.BindEnv("store.redis_addr", redisAddrENV)
	_ = v.BindEnv("store.driver", storeDriverENV)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	cfg.Market.ConfirmTimeframe = helper.NormTF(cfg.Market.ConfirmTimeframe)
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	instPath := cfg.InstrumentsFile
	if !filepath.IsAbs(instPath) {
		instPath = filepath.Join(filepath.Dir(path), instPath)
	}
	inst, err := LoadInstruments(instPath, cfg.Market.ConfirmTimeframe)
	if err != nil {
		return nil, err
	}
	cfg.Instruments = inst

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn is required for the postgres driver")
		}
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if !helper.KnownTF(c.Market.ConfirmTimeframe) {
		return fmt.Errorf("unknown market.confirm_timeframe %q", c.Market.ConfirmTimeframe)
	}
	if c.Market.ConfirmLookback < 1 {
		return fmt.Errorf("market.confirm_lookback must be >= 1")
	}
	if c.Monitor.SlowInterval <= 0 || c.Monitor.FastInterval <= 0 {
		return fmt.Errorf("monitor intervals must be positive")
	}
	if c.Monitor.MaxSignalsPerRun < 1 {
		return fmt.Errorf("monitor.max_signals_per_run must be >= 1")
	}
	if c.Monitor.BurstThreshold < c.Monitor.MaxSignalsPerRun {
		return fmt.Errorf("monitor.burst_threshold must be >= max_signals_per_run")
	}
	if c.Monitor.CloseTimeout <= 0 {
		return fmt.Errorf("monitor.close_timeout must be positive")
	}
	// a claim younger than close_timeout may still be finishing
	if c.Monitor.ClosingStaleAfter <= c.Monitor.CloseTimeout {
		return fmt.Errorf("monitor.closing_stale_after must be greater than close_timeout")
	}
	if c.Monitor.NotionalUSD <= 0 {
		return fmt.Errorf("monitor.notional_usd must be positive")
	}
	return nil
}

func (c *Config) AdminAddr() string {
	return fmt.Sprintf("%s:%d", c.Service.Host, c.Service.AdminPort)
}
