package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/Andresuito/barrett-bot/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Quotes    QuotesConfig    `mapstructure:"quotes"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs the update loop cadences.
type SchedulerConfig struct {
	EmergencyInterval time.Duration `mapstructure:"emergency_interval"`
	PruneInterval     time.Duration `mapstructure:"prune_interval"`
	AdvisoryLockKey   int64         `mapstructure:"advisory_lock_key"`
	StartupDelay      time.Duration `mapstructure:"startup_delay"`
}

// TelegramConfig covers outbound message delivery.
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	APIBase        string        `mapstructure:"api_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ProvidersConfig wires the upstream quote and balance sources.
type ProvidersConfig struct {
	CoinGecko   CoinGeckoConfig `mapstructure:"coingecko"`
	CoinPaprika UpstreamConfig  `mapstructure:"coinpaprika"`
	Explorer    ExplorerConfig  `mapstructure:"explorer"`
	Ethereum    EthereumConfig  `mapstructure:"ethereum"`
	MaxAttempts int             `mapstructure:"max_attempts"`
	BackoffMin  time.Duration   `mapstructure:"backoff_min"`
	BackoffMax  time.Duration   `mapstructure:"backoff_max"`
}

// UpstreamConfig is the common shape of a rate-gated HTTP source.
type UpstreamConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	MinInterval    time.Duration `mapstructure:"min_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CoinGeckoConfig adds the demo API key on top of the common shape.
type CoinGeckoConfig struct {
	UpstreamConfig `mapstructure:",squash"`
	APIKey         string `mapstructure:"api_key"`
}

// ExplorerConfig covers etherscan-style balance lookups.
type ExplorerConfig struct {
	UpstreamConfig `mapstructure:",squash"`
	APIKey         string `mapstructure:"api_key"`
}

// EthereumConfig covers direct RPC balance access.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig tunes the emergency evaluation rules.
type AlertingConfig struct {
	DefaultThresholdPct float64       `mapstructure:"default_threshold_pct"`
	PumpFactor          float64       `mapstructure:"pump_factor"`
	ExtremePct          float64       `mapstructure:"extreme_pct"`
	DedupWindow         time.Duration `mapstructure:"dedup_window"`
	Retention           time.Duration `mapstructure:"retention"`
}

// QuotesConfig sets quote retention and currencies.
type QuotesConfig struct {
	Fiats   []string `mapstructure:"fiats"`
	History int      `mapstructure:"history"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BARRETTBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "barrettbot")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.emergency_interval", "5m")
	v.SetDefault("scheduler.prune_interval", "30m")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x62627431))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.request_timeout", "10s")

	v.SetDefault("providers.coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("providers.coingecko.min_interval", "2s")
	v.SetDefault("providers.coingecko.request_timeout", "10s")
	v.SetDefault("providers.coinpaprika.base_url", "https://api.coinpaprika.com/v1")
	v.SetDefault("providers.coinpaprika.min_interval", "1s")
	v.SetDefault("providers.coinpaprika.request_timeout", "10s")
	v.SetDefault("providers.explorer.base_url", "https://api.etherscan.io/api")
	v.SetDefault("providers.explorer.min_interval", "250ms")
	v.SetDefault("providers.explorer.request_timeout", "10s")
	v.SetDefault("providers.ethereum.request_timeout", "10s")
	v.SetDefault("providers.max_attempts", 3)
	v.SetDefault("providers.backoff_min", "500ms")
	v.SetDefault("providers.backoff_max", "8s")

	v.SetDefault("alerting.default_threshold_pct", 10.0)
	v.SetDefault("alerting.pump_factor", 1.5)
	v.SetDefault("alerting.extreme_pct", 20.0)
	v.SetDefault("alerting.dedup_window", "1h")
	v.SetDefault("alerting.retention", "4h")

	v.SetDefault("quotes.fiats", []string{"usd", "eur", "rub"})
	v.SetDefault("quotes.history", 50)

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.EmergencyInterval <= 0 {
		return fmt.Errorf("scheduler.emergency_interval must be greater than zero")
	}
	if c.Providers.MaxAttempts <= 0 {
		return fmt.Errorf("providers.max_attempts must be greater than zero")
	}
	if c.Providers.BackoffMin <= 0 || c.Providers.BackoffMax < c.Providers.BackoffMin {
		return fmt.Errorf("providers backoff bounds are inconsistent")
	}
	if c.Alerting.DefaultThresholdPct <= 0 {
		return fmt.Errorf("alerting.default_threshold_pct must be greater than zero")
	}
	if c.Alerting.PumpFactor < 1 {
		return fmt.Errorf("alerting.pump_factor cannot shrink the threshold")
	}
	if c.Alerting.DedupWindow <= 0 || c.Alerting.Retention < c.Alerting.DedupWindow {
		return fmt.Errorf("alerting dedup window and retention are inconsistent")
	}
	if c.Quotes.History <= 0 {
		return fmt.Errorf("quotes.history must be greater than zero")
	}
	if len(c.Quotes.Fiats) == 0 {
		return fmt.Errorf("quotes.fiats cannot be empty")
	}
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token must be configured")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
