package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrUnknownAsset is returned when a symbol is not in the asset table.
var ErrUnknownAsset = errors.New("unknown asset")

// Config defines the application configuration structure
type Config struct {
	DataDir      string                 `mapstructure:"data_dir"`
	DefaultAsset string                 `mapstructure:"default_asset"`
	Symbols      []string               `mapstructure:"symbols"`
	Assets       map[string]AssetConfig `mapstructure:"assets"`
	Sampling     SamplingConfig         `mapstructure:"sampling"`
	Aggregation  AggregationConfig      `mapstructure:"aggregation"`
	Mirror       MirrorConfig           `mapstructure:"mirror"`
	Server       ServerConfig           `mapstructure:"server"`
	Redis        RedisConfig            `mapstructure:"redis"`
	Log          LogConfig              `mapstructure:"log"`
}

// AssetConfig is one row of the static asset table
type AssetConfig struct {
	Symbol     string `mapstructure:"symbol"`
	Pair       string `mapstructure:"pair"`
	Exchange   string `mapstructure:"exchange"`
	APIURL     string `mapstructure:"api_url"`
	DataFolder string `mapstructure:"data_folder"`
}

// SamplingConfig controls the per-tick fetch and the raw partitions
type SamplingConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	BlockHours   int           `mapstructure:"block_hours"`
	DepthLevels  int           `mapstructure:"depth_levels"`
}

// AggregationConfig controls the derived chart series
type AggregationConfig struct {
	RecentInterval     time.Duration `mapstructure:"recent_interval"`
	HistoricalInterval time.Duration `mapstructure:"historical_interval"`
	RecentWindow       time.Duration `mapstructure:"recent_window"`
	RecentCap          int           `mapstructure:"recent_cap"`
	HistoricalCap      int           `mapstructure:"historical_cap"`
	RetentionDays      int           `mapstructure:"retention_days"`
	ParquetEnabled     bool          `mapstructure:"parquet_enabled"`
}

// MirrorConfig defines the remote object store mirror
type MirrorConfig struct {
	Backend                 string        `mapstructure:"backend"`
	Bucket                  string        `mapstructure:"bucket"`
	Project                 string        `mapstructure:"project"`
	CredentialsFile         string        `mapstructure:"credentials_file"`
	Prefix                  string        `mapstructure:"prefix"`
	Dir                     string        `mapstructure:"dir"`
	CacheControl            string        `mapstructure:"cache_control"`
	SyncOnStart             bool          `mapstructure:"sync_on_start"`
	PartitionUploadInterval time.Duration `mapstructure:"partition_upload_interval"`
	Timeout                 time.Duration `mapstructure:"timeout"`
}

// ServerConfig defines the HTTP query surface
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	Port int    `mapstructure:"port"`
}

// RedisConfig defines the optional last-sample cache backend
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// LogConfig defines the slog handler
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Mirror backends
const (
	MirrorNone = "none"
	MirrorGCS  = "gcs"
	MirrorDir  = "dir"
)

// LoadConfig loads configuration from file and overrides with environment variables
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("LOGGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Env names used by the existing deployment scripts
	v.BindEnv("data_dir", "LOGGER_DATA_DIR")
	v.BindEnv("default_asset", "DEFAULT_CRYPTO")
	v.BindEnv("symbols", "CRYPTO_SYMBOLS")

	v.BindEnv("sampling.tick_interval", "LOGGER_TICK_INTERVAL")
	v.BindEnv("sampling.block_hours", "FILE_ROTATION_HOURS")
	v.BindEnv("sampling.depth_levels", "LOGGER_DEPTH_LEVELS")

	v.BindEnv("aggregation.recent_interval", "LOGGER_RECENT_INTERVAL")
	v.BindEnv("aggregation.historical_interval", "LOGGER_HISTORICAL_INTERVAL")
	v.BindEnv("aggregation.retention_days", "LOGGER_RETENTION_DAYS")
	v.BindEnv("aggregation.parquet_enabled", "LOGGER_PARQUET_ENABLED")

	v.BindEnv("mirror.backend", "MIRROR_BACKEND")
	v.BindEnv("mirror.bucket", "GCS_BUCKET")
	v.BindEnv("mirror.project", "GCP_PROJECT")
	v.BindEnv("mirror.credentials_file", "GOOGLE_APPLICATION_CREDENTIALS")
	v.BindEnv("mirror.prefix", "GCS_PREFIX")
	v.BindEnv("mirror.dir", "MIRROR_DIR")
	v.BindEnv("mirror.sync_on_start", "GCS_SYNC_ON_START")

	v.BindEnv("server.addr", "LOGGER_HTTP_ADDR")
	v.BindEnv("server.port", "PORT")

	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")

	v.SetDefault("mirror.sync_on_start", true)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// Env vars take precedence over file values
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}

	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// DefaultAssets is the built-in asset table used when the config file has none
func DefaultAssets() map[string]AssetConfig {
	assets := map[string]AssetConfig{}
	for _, sym := range []string{"ADA", "BTC", "ETH", "SOL", "DOT"} {
		pair := sym + "-USD"
		assets[sym] = AssetConfig{
			Symbol:     sym,
			Pair:       pair,
			Exchange:   "Coinbase",
			APIURL:     "https://api.exchange.coinbase.com/products/" + pair + "/book?level=2",
			DataFolder: strings.ToLower(sym),
		}
	}
	return assets
}

// applyDefaults sets default values for any config values not set from file or environment
func applyDefaults(config *Config) {
	if config.DataDir == "" {
		config.DataDir = "./data"
	}

	if len(config.Assets) == 0 {
		config.Assets = DefaultAssets()
	}
	// viper lower-cases map keys
	normalized := make(map[string]AssetConfig, len(config.Assets))
	for key, asset := range config.Assets {
		sym := strings.ToUpper(key)
		asset.Symbol = sym
		if asset.Pair == "" {
			asset.Pair = sym + "-USD"
		}
		if asset.Exchange == "" {
			asset.Exchange = "Coinbase"
		}
		if asset.APIURL == "" {
			asset.APIURL = "https://api.exchange.coinbase.com/products/" + asset.Pair + "/book?level=2"
		}
		if asset.DataFolder == "" {
			asset.DataFolder = strings.ToLower(sym)
		}
		normalized[sym] = asset
	}
	config.Assets = normalized

	symbols := make([]string, 0, len(config.Symbols))
	for _, s := range config.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		for sym := range config.Assets {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)
	}
	config.Symbols = symbols

	config.DefaultAsset = strings.ToUpper(config.DefaultAsset)
	if config.DefaultAsset == "" {
		if _, ok := config.Assets["ADA"]; ok {
			config.DefaultAsset = "ADA"
		} else {
			config.DefaultAsset = config.Symbols[0]
		}
	}

	// Sampling defaults
	if config.Sampling.TickInterval == 0 {
		config.Sampling.TickInterval = time.Second
	}
	if config.Sampling.FetchTimeout == 0 {
		config.Sampling.FetchTimeout = 10 * time.Second
	}
	if config.Sampling.BlockHours == 0 {
		config.Sampling.BlockHours = 8
	}
	if config.Sampling.DepthLevels == 0 {
		config.Sampling.DepthLevels = 20
	}

	// Aggregation defaults
	if config.Aggregation.RecentInterval == 0 {
		config.Aggregation.RecentInterval = 5 * time.Minute
	}
	if config.Aggregation.HistoricalInterval == 0 {
		config.Aggregation.HistoricalInterval = time.Hour
	}
	if config.Aggregation.RecentWindow == 0 {
		config.Aggregation.RecentWindow = 24 * time.Hour
	}
	if config.Aggregation.RecentCap == 0 {
		config.Aggregation.RecentCap = 1440
	}
	if config.Aggregation.HistoricalCap == 0 {
		config.Aggregation.HistoricalCap = 500000
	}
	if config.Aggregation.RetentionDays == 0 {
		config.Aggregation.RetentionDays = 30
	}

	// Mirror defaults
	config.Mirror.Backend = strings.ToLower(config.Mirror.Backend)
	if config.Mirror.Backend == "" {
		switch {
		case config.Mirror.Bucket != "":
			config.Mirror.Backend = MirrorGCS
		case config.Mirror.Dir != "":
			config.Mirror.Backend = MirrorDir
		default:
			config.Mirror.Backend = MirrorNone
		}
	}
	if config.Mirror.CacheControl == "" {
		config.Mirror.CacheControl = "no-cache"
	}
	if config.Mirror.PartitionUploadInterval == 0 {
		config.Mirror.PartitionUploadInterval = time.Minute
	}
	if config.Mirror.Timeout == 0 {
		config.Mirror.Timeout = 30 * time.Second
	}

	// Server defaults
	if config.Server.Addr == "" {
		port := config.Server.Port
		if port == 0 {
			port = 10000
		}
		config.Server.Addr = fmt.Sprintf(":%d", port)
	}

	if config.Redis.TTL == 0 {
		config.Redis.TTL = time.Hour
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

// Validate reports configuration errors that must stop the process at startup
func (c Config) Validate() error {
	for _, sym := range c.Symbols {
		if _, ok := c.Assets[sym]; !ok {
			return fmt.Errorf("symbol %s: %w", sym, ErrUnknownAsset)
		}
	}
	if _, ok := c.Assets[c.DefaultAsset]; !ok {
		return fmt.Errorf("default asset %s: %w", c.DefaultAsset, ErrUnknownAsset)
	}
	if c.Sampling.BlockHours < 1 || c.Sampling.BlockHours > 24 {
		return fmt.Errorf("sampling.block_hours must be within 1..24, got %d", c.Sampling.BlockHours)
	}
	if c.Sampling.DepthLevels < 1 {
		return fmt.Errorf("sampling.depth_levels must be positive, got %d", c.Sampling.DepthLevels)
	}
	if c.Sampling.TickInterval < 0 || c.Sampling.FetchTimeout < 0 {
		return fmt.Errorf("sampling durations must not be negative")
	}
	if c.Aggregation.RecentCap < 0 || c.Aggregation.HistoricalCap < 0 {
		return fmt.Errorf("aggregation caps must not be negative")
	}
	switch c.Mirror.Backend {
	case MirrorNone:
	case MirrorGCS:
		if c.Mirror.Bucket == "" {
			return fmt.Errorf("mirror backend gcs requires mirror.bucket")
		}
	case MirrorDir:
		if c.Mirror.Dir == "" {
			return fmt.Errorf("mirror backend dir requires mirror.dir")
		}
	default:
		return fmt.Errorf("unknown mirror backend %q", c.Mirror.Backend)
	}
	return nil
}

// Asset looks up a configured asset by symbol, case-insensitively
func (c Config) Asset(symbol string) (AssetConfig, error) {
	asset, ok := c.Assets[strings.ToUpper(symbol)]
	if !ok {
		return AssetConfig{}, fmt.Errorf("%s: %w", symbol, ErrUnknownAsset)
	}
	return asset, nil
}

// AssetDir returns the data directory of an asset
func (c Config) AssetDir(asset AssetConfig) string {
	if filepath.IsAbs(asset.DataFolder) {
		return asset.DataFolder
	}
	return filepath.Join(c.DataDir, asset.DataFolder)
}

// RetentionAge converts retention_days to a duration; zero disables the sweep
func (c Config) RetentionAge() time.Duration {
	if c.Aggregation.RetentionDays < 0 {
		return 0
	}
	return time.Duration(c.Aggregation.RetentionDays) * 24 * time.Hour
}
