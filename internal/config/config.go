package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"spread-scanner/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. SPREADSCAN_SCAN_WORKERS.
const EnvPrefix = "SPREADSCAN"

// Config materialises application configuration.
type Config struct {
	App       AppConfig        `mapstructure:"app"`
	Logging   logging.Config   `mapstructure:"logging"`
	Scan      ScanConfig       `mapstructure:"scan"`
	Universe  UniverseConfig   `mapstructure:"universe"`
	Venues    []VenueConfig    `mapstructure:"venues"`
	Fees      FeesConfig       `mapstructure:"fees"`
	Transfers []TransferConfig `mapstructure:"transfers"`
	Lots      []LotConfig      `mapstructure:"lots"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Kafka     KafkaConfig      `mapstructure:"kafka"`
	Export    ExportConfig     `mapstructure:"export"`
	Alerting  AlertingConfig   `mapstructure:"alerting"`
	Server    ServerConfig     `mapstructure:"server"`
	Onchain   OnchainConfig    `mapstructure:"onchain"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ScanConfig governs the cycle cadence, the worker pool and the ranking.
type ScanConfig struct {
	Interval         time.Duration   `mapstructure:"interval"`
	AlignToInterval  bool            `mapstructure:"align_to_interval"`
	StartupDelay     time.Duration   `mapstructure:"startup_delay"`
	AdvisoryLockKey  int64           `mapstructure:"advisory_lock_key"`
	Workers          int             `mapstructure:"workers"`
	ItemTimeout      time.Duration   `mapstructure:"item_timeout"`
	Depth            int             `mapstructure:"depth"`
	Size             decimal.Decimal `mapstructure:"size"`
	SizeUnit         string          `mapstructure:"size_unit"`
	MinDepthFraction decimal.Decimal `mapstructure:"min_depth_fraction"`
	MinNetSpreadPct  decimal.Decimal `mapstructure:"min_net_spread_pct"`
	MinVolume        decimal.Decimal `mapstructure:"min_volume"`
	TopN             int             `mapstructure:"top_n"`
	PerSymbol        bool            `mapstructure:"per_symbol"`
	EnforceLots      bool            `mapstructure:"enforce_lots"`
	History          int             `mapstructure:"history"`
	BreakerThreshold int             `mapstructure:"breaker_threshold"`
	BreakerCooldown  int             `mapstructure:"breaker_cooldown"`
}

// UniverseConfig describes which symbols are scanned.
type UniverseConfig struct {
	Bases        []string      `mapstructure:"bases"`
	Preset       string        `mapstructure:"preset"`
	Quotes       []string      `mapstructure:"quotes"`
	Exclude      []string      `mapstructure:"exclude"`
	MaxSymbols   int           `mapstructure:"max_symbols"`
	SkipStables  bool          `mapstructure:"skip_stables"`
	MinVenues    int           `mapstructure:"min_venues"`
	Refresh      time.Duration `mapstructure:"refresh"`
	RefreshTries uint          `mapstructure:"refresh_tries"`
	CMC          CMCConfig     `mapstructure:"cmc"`
}

// CMCConfig enables the CoinMarketCap preset source.
type CMCConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// VenueConfig is one configured venue instance.
type VenueConfig struct {
	Name      string          `mapstructure:"name"`
	Family    string          `mapstructure:"family"`
	BaseURL   string          `mapstructure:"base_url"`
	Timeout   time.Duration   `mapstructure:"timeout"`
	RateLimit float64         `mapstructure:"rate_limit"`
	Burst     int             `mapstructure:"burst"`
	MakerFee  decimal.Decimal `mapstructure:"maker_fee"`
	TakerFee  decimal.Decimal `mapstructure:"taker_fee"`
	Assets    []string        `mapstructure:"assets"`
	Fiats     []string        `mapstructure:"fiats"`
	PayTypes  []string        `mapstructure:"pay_types"`
	Symbols   []string        `mapstructure:"symbols"`
	Mid       decimal.Decimal `mapstructure:"mid"`
	Shift     decimal.Decimal `mapstructure:"shift"`
	Latency   time.Duration   `mapstructure:"latency"`

	// QuoteVolume is the 24h volume a mock venue reports.
	QuoteVolume decimal.Decimal `mapstructure:"quote_volume"`
}

// FeesConfig holds the default trading fees.
type FeesConfig struct {
	Maker            decimal.Decimal `mapstructure:"maker"`
	Taker            decimal.Decimal `mapstructure:"taker"`
	PreferredNetwork string          `mapstructure:"preferred_network"`
}

// TransferConfig is one row of the transfer fee table. Venue and Asset accept *.
type TransferConfig struct {
	Venue     string          `mapstructure:"venue"`
	Asset     string          `mapstructure:"asset"`
	Network   string          `mapstructure:"network"`
	Flat      decimal.Decimal `mapstructure:"flat"`
	FlatQuote decimal.Decimal `mapstructure:"flat_quote"`
	Pct       decimal.Decimal `mapstructure:"pct"`
	Min       decimal.Decimal `mapstructure:"min"`
	Max       decimal.Decimal `mapstructure:"max"`
}

// LotConfig overrides a venue's lot constraints for a symbol.
type LotConfig struct {
	Venue       string          `mapstructure:"venue"`
	Symbol      string          `mapstructure:"symbol"`
	Step        decimal.Decimal `mapstructure:"step"`
	MinQty      decimal.Decimal `mapstructure:"min_qty"`
	MinNotional decimal.Decimal `mapstructure:"min_notional"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	Retention       time.Duration `mapstructure:"retention"`
}

// RedisConfig configures the shared listing cache.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// KafkaConfig configures opportunity publishing.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// ExportConfig sets snapshot export behaviour.
type ExportConfig struct {
	Path      string   `mapstructure:"path"`
	Format    string   `mapstructure:"format"`
	MaxPoints int      `mapstructure:"max_points"`
	S3        S3Config `mapstructure:"s3"`
}

// S3Config uploads exported snapshots to an S3 compatible bucket.
type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	PathStyle bool   `mapstructure:"path_style"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled      bool            `mapstructure:"enabled"`
	ThresholdPct decimal.Decimal `mapstructure:"threshold_pct"`
	Cooldown     time.Duration   `mapstructure:"cooldown"`
	MaxPerCycle  int             `mapstructure:"max_per_cycle"`
	Telegram     TelegramConfig  `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ServerConfig exposes the HTTP boundary.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// OnchainConfig prices an EVM withdrawal network from live gas.
type OnchainConfig struct {
	RPCURL         string          `mapstructure:"rpc_url"`
	Network        string          `mapstructure:"network"`
	Asset          string          `mapstructure:"asset"`
	GasLimit       uint64          `mapstructure:"gas_limit"`
	NativePrice    decimal.Decimal `mapstructure:"native_price"`
	PriceFeed      string          `mapstructure:"price_feed"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
}

// Load builds configuration from an optional .env file, the config file,
// environment and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	if len(cfg.Transfers) == 0 {
		cfg.Transfers = DefaultTransfers()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "spreadscan")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("scan.interval", "4s")
	v.SetDefault("scan.align_to_interval", false)
	v.SetDefault("scan.startup_delay", "0s")
	v.SetDefault("scan.advisory_lock_key", int64(0x53505244))
	v.SetDefault("scan.workers", 32)
	v.SetDefault("scan.item_timeout", "5s")
	v.SetDefault("scan.depth", 20)
	v.SetDefault("scan.size", "1000")
	v.SetDefault("scan.size_unit", "quote")
	v.SetDefault("scan.min_depth_fraction", "0.5")
	v.SetDefault("scan.min_volume", "0")
	v.SetDefault("scan.min_net_spread_pct", "0.5")
	v.SetDefault("scan.top_n", 50)
	v.SetDefault("scan.per_symbol", true)
	v.SetDefault("scan.enforce_lots", false)
	v.SetDefault("scan.history", 20)
	v.SetDefault("scan.breaker_threshold", 5)
	v.SetDefault("scan.breaker_cooldown", 3)

	v.SetDefault("universe.bases", []string{})
	v.SetDefault("universe.preset", "TOP100")
	v.SetDefault("universe.quotes", []string{"USDT"})
	v.SetDefault("universe.exclude", []string{})
	v.SetDefault("universe.max_symbols", 500)
	v.SetDefault("universe.skip_stables", true)
	v.SetDefault("universe.min_venues", 2)
	v.SetDefault("universe.refresh", "15m")
	v.SetDefault("universe.refresh_tries", 3)
	v.SetDefault("universe.cmc.api_key", "")
	v.SetDefault("universe.cmc.base_url", "https://pro-api.coinmarketcap.com")
	v.SetDefault("universe.cmc.timeout", "10s")

	v.SetDefault("venues", []map[string]any{
		{"name": "binance"},
		{"name": "okx"},
		{"name": "gate"},
		{"name": "bybit"},
	})

	v.SetDefault("fees.maker", "0.001")
	v.SetDefault("fees.taker", "0.001")
	v.SetDefault("fees.preferred_network", "TRC20")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.retention", "168h")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "spreadscan")
	v.SetDefault("redis.ttl", "1h")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "spreadscan.opportunities")
	v.SetDefault("kafka.batch_timeout", "50ms")

	v.SetDefault("export.path", "")
	v.SetDefault("export.format", "csv")
	v.SetDefault("export.max_points", 5000)
	v.SetDefault("export.s3.bucket", "")
	v.SetDefault("export.s3.prefix", "spreadscan")
	v.SetDefault("export.s3.region", "us-east-1")
	v.SetDefault("export.s3.endpoint", "")
	v.SetDefault("export.s3.access_key", "")
	v.SetDefault("export.s3.secret_key", "")
	v.SetDefault("export.s3.path_style", false)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_pct", "1.0")
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.max_per_cycle", 5)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("server.addr", "")

	v.SetDefault("onchain.rpc_url", "")
	v.SetDefault("onchain.network", "ERC20")
	v.SetDefault("onchain.asset", "USDT")
	v.SetDefault("onchain.gas_limit", 65000)
	v.SetDefault("onchain.native_price", "0")
	v.SetDefault("onchain.price_feed", "")
	v.SetDefault("onchain.request_timeout", "5s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			decimalHook(),
		)
	}
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decimalHook decodes strings and numbers into decimal.Decimal. Strings keep
// the exact precision, so prefer quoting fee values in YAML.
func decimalHook() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				return decimal.Zero, nil
			}
			return decimal.NewFromString(strings.TrimSpace(v))
		case float64:
			return decimal.NewFromFloat(v), nil
		case float32:
			return decimal.NewFromFloat32(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case uint64:
			return decimal.NewFromUint64(v), nil
		case nil:
			return decimal.Zero, nil
		}
		return data, nil
	}
}

// DefaultTransfers is the transfer fee table used when none is configured:
// USDT on its three common networks, plus a NATIVE network for every other
// asset priced at a flat 1 USD. The NATIVE row only routes USD and
// stablecoin quoted pairs.
func DefaultTransfers() []TransferConfig {
	row := func(network, flat string) TransferConfig {
		return TransferConfig{Venue: "*", Asset: "USDT", Network: network, Flat: decimal.RequireFromString(flat)}
	}
	return []TransferConfig{
		row("TRC20", "1"),
		row("ERC20", "10"),
		row("BEP20", "0.8"),
		{Venue: "*", Asset: "*", Network: "NATIVE", FlatQuote: decimal.NewFromInt(1)},
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scan.Interval <= 0 {
		return fmt.Errorf("scan.interval must be greater than zero")
	}
	if c.Scan.Workers <= 0 {
		return fmt.Errorf("scan.workers must be greater than zero")
	}
	if c.Scan.ItemTimeout <= 0 {
		return fmt.Errorf("scan.item_timeout must be greater than zero")
	}
	if !c.Scan.Size.IsPositive() {
		return fmt.Errorf("scan.size must be greater than zero")
	}
	switch strings.ToLower(c.Scan.SizeUnit) {
	case "quote", "base":
	default:
		return fmt.Errorf("scan.size_unit must be quote or base, got %q", c.Scan.SizeUnit)
	}
	if c.Scan.History <= 0 {
		return fmt.Errorf("scan.history must be greater than zero")
	}
	if len(c.Venues) == 0 {
		return fmt.Errorf("venues must list at least one venue")
	}
	seen := make(map[string]struct{}, len(c.Venues))
	for i, vc := range c.Venues {
		if strings.TrimSpace(vc.Name) == "" {
			return fmt.Errorf("venues[%d].name is required", i)
		}
		key := strings.ToLower(vc.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("venues[%d]: duplicate venue %q", i, vc.Name)
		}
		seen[key] = struct{}{}
	}
	for i, t := range c.Transfers {
		if t.Network == "" || t.Asset == "" {
			return fmt.Errorf("transfers[%d]: asset and network are required", i)
		}
	}
	for i, l := range c.Lots {
		if l.Venue == "" || l.Symbol == "" {
			return fmt.Errorf("lots[%d]: venue and symbol are required", i)
		}
	}
	if c.Alerting.ThresholdPct.IsNegative() {
		return fmt.Errorf("alerting.threshold_pct cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Export.MaxPoints <= 0 {
		return fmt.Errorf("export.max_points must be greater than zero")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxPoints
}
