package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Crawler   CrawlerConfig   `yaml:"crawler" mapstructure:"crawler"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Normalize NormalizeConfig `yaml:"normalize" mapstructure:"normalize"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	// Driver selects the backend: "sqlite" (default) or "postgres".
	Driver string `yaml:"driver" mapstructure:"driver"`
	// Path is the sqlite database file.
	Path string `yaml:"path" mapstructure:"path"`
	// DatabaseURL is the postgres connection string.
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// CrawlerConfig configures publisher index crawling.
type CrawlerConfig struct {
	IndexURL    string `yaml:"index_url" mapstructure:"index_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// FetchConfig configures PDF download and the on-disk cache.
type FetchConfig struct {
	CacheDir    string  `yaml:"cache_dir" mapstructure:"cache_dir"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst       int     `yaml:"burst" mapstructure:"burst"`
}

// NormalizeConfig configures the schema normalizer. Aliases maps historical
// commodity name variants to canonical names; it is reference data injected
// here so it can be updated without touching parsing logic.
type NormalizeConfig struct {
	Aliases         map[string]string `yaml:"aliases" mapstructure:"aliases"`
	ExtraCategories []string          `yaml:"extra_categories" mapstructure:"extra_categories"`
}

// IngestConfig configures the batch driver.
type IngestConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	// RejectThreshold is the per-report rejected-row fraction at or above
	// which a report is recorded as failed instead of partial. The default
	// 1.0 fails only reports whose rows were all rejected.
	RejectThreshold float64 `yaml:"reject_threshold" mapstructure:"reject_threshold"`
	// FailureThreshold is the failed-report fraction at or above which the
	// scrape run exits with an error. The default 1.0 errors only when every
	// report in the batch failed.
	FailureThreshold float64 `yaml:"failure_threshold" mapstructure:"failure_threshold"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml, PRICEWATCH_* environment
// variables, and built-in defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PRICEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "data/prices.db")
	v.SetDefault("crawler.index_url", "https://www.da.gov.ph/price-monitoring/")
	v.SetDefault("crawler.timeout_secs", 30)
	v.SetDefault("fetch.cache_dir", "data/pdfs")
	v.SetDefault("fetch.user_agent", "pricewatch/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.rate_per_sec", 2)
	v.SetDefault("fetch.burst", 2)
	v.SetDefault("ingest.concurrency", 1)
	v.SetDefault("ingest.reject_threshold", 1.0)
	v.SetDefault("ingest.failure_threshold", 1.0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; env and defaults cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
