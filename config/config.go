// Package config loads engine configuration from an optional config.json,
// a .env file, and environment variable overrides. Environment wins.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"signal-engine/internal/market"
	"signal-engine/internal/scoring"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Providers ProvidersConfig `json:"providers"`
	Scan      ScanConfig      `json:"scan"`
	Signals   SignalsConfig   `json:"signals"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Vault     VaultConfig     `json:"vault"`
	Auth      AuthConfig      `json:"auth"`
}

type ServerConfig struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	Debug bool   `json:"debug"`
}

type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Output     string `json:"output"` // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"`
}

// ProviderConfig holds one provider's connection settings.
type ProviderConfig struct {
	Enabled            bool     `json:"enabled"`
	BaseURL            string   `json:"base_url"`
	APIKey             string   `json:"api_key"`
	QuoteAsset         string   `json:"quote_asset"`
	Symbols            []string `json:"symbols"`
	MaxWeightPerMinute int      `json:"max_weight_per_minute"`
}

type ProvidersConfig struct {
	BinanceSpot    ProviderConfig `json:"binance_spot"`
	BinanceFutures ProviderConfig `json:"binance_futures"`
	Forex          ProviderConfig `json:"forex"`
	Commodity      ProviderConfig `json:"commodity"`
}

type ScanConfig struct {
	BatchSize     int `json:"batch_size"`
	TopNSpot      int `json:"top_n_spot"`
	TopNFutures   int `json:"top_n_futures"`
	TopNForex     int `json:"top_n_forex"`
	TopNCommodity int `json:"top_n_commodity"`
}

// SignalsConfig carries the global scoring toggles; per-(market, timeframe)
// thresholds come from environment overrides on top of the defaults.
type SignalsConfig struct {
	UseVolatilityAware bool `json:"use_volatility_aware"`
}

type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	PathPrefix string `json:"path_prefix"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

type AuthConfig struct {
	JWTSecret     string `json:"jwt_secret"`
	TokenLifetime string `json:"token_lifetime"`
}

// Load reads config.json when present, then .env, then environment
// overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Providers.BinanceSpot.MaxWeightPerMinute == 0 {
		cfg.Providers.BinanceSpot.MaxWeightPerMinute = 1200
	}
	if cfg.Providers.BinanceFutures.MaxWeightPerMinute == 0 {
		cfg.Providers.BinanceFutures.MaxWeightPerMinute = 2400
	}
	if cfg.Providers.Forex.MaxWeightPerMinute == 0 {
		cfg.Providers.Forex.MaxWeightPerMinute = 60
	}
	if cfg.Providers.Commodity.MaxWeightPerMinute == 0 {
		cfg.Providers.Commodity.MaxWeightPerMinute = 60
	}
	if cfg.Providers.BinanceSpot.QuoteAsset == "" {
		cfg.Providers.BinanceSpot.QuoteAsset = "USDT"
	}
	if cfg.Providers.BinanceFutures.QuoteAsset == "" {
		cfg.Providers.BinanceFutures.QuoteAsset = "USDT"
	}
	if len(cfg.Providers.Forex.Symbols) == 0 {
		cfg.Providers.Forex.Symbols = []string{
			"EURUSD", "GBPUSD", "USDJPY", "USDCHF", "AUDUSD", "USDCAD", "NZDUSD",
			"EURGBP", "EURJPY", "GBPJPY", "AUDJPY", "EURCHF", "AUDNZD", "USDSGD",
		}
	}
	if len(cfg.Providers.Commodity.Symbols) == 0 {
		cfg.Providers.Commodity.Symbols = []string{
			"XAUUSD", "XAGUSD", "XPTUSD", "XPDUSD", "WTIUSD",
			"BNOUSD", "NGAUSD", "HGCUSD", "WHTUSD", "CRNUSD",
		}
	}

	if cfg.Scan.BatchSize == 0 {
		cfg.Scan.BatchSize = 20
	}
	if cfg.Scan.TopNSpot == 0 {
		cfg.Scan.TopNSpot = 100
	}
	if cfg.Scan.TopNFutures == 0 {
		cfg.Scan.TopNFutures = 100
	}
	if cfg.Scan.TopNForex == 0 {
		cfg.Scan.TopNForex = len(cfg.Providers.Forex.Symbols)
	}
	if cfg.Scan.TopNCommodity == 0 {
		cfg.Scan.TopNCommodity = len(cfg.Providers.Commodity.Symbols)
	}

	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Vault.MountPath == "" {
		cfg.Vault.MountPath = "secret"
	}
	if cfg.Vault.PathPrefix == "" {
		cfg.Vault.PathPrefix = "signal-engine/providers"
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvIntOrDefault("SERVER_PORT", cfg.Server.Port)
	cfg.Server.Debug = getEnvBoolOrDefault("SERVER_DEBUG", cfg.Server.Debug)

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)
	cfg.Logging.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.Logging.JSONFormat)

	overrideProvider := func(p *ProviderConfig, name string) {
		p.Enabled = getEnvBoolOrDefault("PROVIDER_"+name+"_ENABLED", p.Enabled)
		p.BaseURL = getEnvOrDefault("PROVIDER_"+name+"_BASE_URL", p.BaseURL)
		p.APIKey = getEnvOrDefault("PROVIDER_"+name+"_API_KEY", p.APIKey)
		p.MaxWeightPerMinute = getEnvIntOrDefault("MAX_WEIGHT_PER_MINUTE_"+name, p.MaxWeightPerMinute)
	}
	overrideProvider(&cfg.Providers.BinanceSpot, "BINANCE_SPOT")
	overrideProvider(&cfg.Providers.BinanceFutures, "BINANCE_FUTURES")
	overrideProvider(&cfg.Providers.Forex, "FOREX")
	overrideProvider(&cfg.Providers.Commodity, "COMMODITY")

	cfg.Scan.BatchSize = getEnvIntOrDefault("BATCH_SIZE", cfg.Scan.BatchSize)
	cfg.Scan.TopNSpot = getEnvIntOrDefault("SCAN_TOP_N_SPOT", cfg.Scan.TopNSpot)
	cfg.Scan.TopNFutures = getEnvIntOrDefault("SCAN_TOP_N_FUTURES", cfg.Scan.TopNFutures)
	cfg.Scan.TopNForex = getEnvIntOrDefault("SCAN_TOP_N_FOREX", cfg.Scan.TopNForex)
	cfg.Scan.TopNCommodity = getEnvIntOrDefault("SCAN_TOP_N_COMMODITY", cfg.Scan.TopNCommodity)

	cfg.Signals.UseVolatilityAware = getEnvBoolOrDefault("USE_VOLATILITY_AWARE", cfg.Signals.UseVolatilityAware)

	cfg.Database.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.Database.Enabled)
	cfg.Database.Host = getEnvOrDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.Database.SSLMode)

	cfg.Redis.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)

	cfg.Vault.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.Vault.Enabled)
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)

	cfg.Auth.JWTSecret = getEnvOrDefault("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.TokenLifetime = getEnvOrDefault("JWT_TOKEN_LIFETIME", cfg.Auth.TokenLifetime)
}

// EnabledMarkets lists the markets whose provider is enabled.
func (c *Config) EnabledMarkets() []market.Market {
	var out []market.Market
	if c.Providers.BinanceSpot.Enabled {
		out = append(out, market.Spot)
	}
	if c.Providers.BinanceFutures.Enabled {
		out = append(out, market.Futures)
	}
	if c.Providers.Forex.Enabled {
		out = append(out, market.Forex)
	}
	if c.Providers.Commodity.Enabled {
		out = append(out, market.Commodity)
	}
	return out
}

// TopN returns the universe size for a market.
func (c *Config) TopN(m market.Market) int {
	switch m {
	case market.Spot:
		return c.Scan.TopNSpot
	case market.Futures:
		return c.Scan.TopNFutures
	case market.Forex:
		return c.Scan.TopNForex
	case market.Commodity:
		return c.Scan.TopNCommodity
	}
	return 0
}

// envTF maps a timeframe to its environment key suffix.
func envTF(tf market.Timeframe) string {
	return strings.ToUpper(string(tf))
}

func envMarket(m market.Market) string {
	return string(m)
}

// BuildSignalConfigs assembles the scoring config set for every enabled
// market and timeframe, with environment overrides applied. Each config is
// validated by the registry on installation.
func (c *Config) BuildSignalConfigs() []scoring.Config {
	timeframes := []market.Timeframe{market.TF15m, market.TF1h, market.TF4h, market.TF1d}

	var out []scoring.Config
	for _, m := range c.EnabledMarkets() {
		for _, tf := range timeframes {
			sc := scoring.Default(m, tf)
			sc.UseVolatilityAware = c.Signals.UseVolatilityAware

			mt := envMarket(m) + "_" + envTF(tf)
			sc.MinConfidence = getEnvFloatOrDefault("MIN_CONFIDENCE_"+mt, sc.MinConfidence)
			sc.SLATRMultiplier = getEnvFloatOrDefault("SL_ATR_MULT_"+mt, sc.SLATRMultiplier)
			sc.TPATRMultiplier = getEnvFloatOrDefault("TP_ATR_MULT_"+mt, sc.TPATRMultiplier)
			sc.ConfidenceDelta = getEnvFloatOrDefault("CONFIDENCE_DELTA_"+mt, sc.ConfidenceDelta)
			sc.MaxCandlesCache = getEnvIntOrDefault("MAX_CANDLES_CACHE", sc.MaxCandlesCache)

			if minutes := getEnvIntOrDefault("SIGNAL_EXPIRY_MINUTES_"+envTF(tf), 0); minutes > 0 {
				sc.SignalExpiry = time.Duration(minutes) * time.Minute
			} else {
				// Default TTL scales with the timeframe.
				sc.SignalExpiry = 2 * tf.Duration()
			}
			out = append(out, sc)
		}
	}
	return out
}

// TokenLifetime parses the auth token lifetime, defaulting to 12h.
func (a AuthConfig) Lifetime() time.Duration {
	if a.TokenLifetime == "" {
		return 12 * time.Hour
	}
	d, err := time.ParseDuration(a.TokenLifetime)
	if err != nil || d <= 0 {
		return 12 * time.Hour
	}
	return d
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
