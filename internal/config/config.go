// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	BaseURL    string           `yaml:"base_url" mapstructure:"base_url"`
	Hosts      map[string]int64 `yaml:"hosts" mapstructure:"hosts"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Crawl      CrawlConfig      `yaml:"crawl" mapstructure:"crawl"`
	Geocode    GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" mapstructure:"checkpoint"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// FetchConfig configures the scheduler's network behavior.
type FetchConfig struct {
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// Timeout returns the per-request timeout as a duration.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// CrawlConfig configures the expander.
type CrawlConfig struct {
	PageBatchSize int      `yaml:"page_batch_size" mapstructure:"page_batch_size"`
	Denylist      []string `yaml:"denylist" mapstructure:"denylist"`
}

// GeocodeConfig configures the geocoding client and enrichment fallback.
type GeocodeConfig struct {
	APIKey   string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL  string  `yaml:"base_url" mapstructure:"base_url"`
	Language string  `yaml:"language" mapstructure:"language"`
	RPS      float64 `yaml:"rps" mapstructure:"rps"`
	Country  string  `yaml:"country" mapstructure:"country"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// CheckpointConfig configures the periodic best-effort state save.
type CheckpointConfig struct {
	IntervalSecs int `yaml:"interval_secs" mapstructure:"interval_secs"`
}

// Interval returns the checkpoint cadence as a duration.
func (c CheckpointConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// ServerConfig configures the diagnostics server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DIZIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("base_url", "http://turkeytr.net")
	v.SetDefault("hosts", map[string]int64{
		"turkeytr.net":        4,
		"maps.googleapis.com": 2,
	})
	v.SetDefault("fetch.timeout_secs", 600)
	v.SetDefault("fetch.max_attempts", 5)
	v.SetDefault("crawl.page_batch_size", 2)
	v.SetDefault("crawl.denylist", []string{
		"turkish-manufacturers-companies-list",
		"manufacturers-companies-turkey",
		"turkishcompanies",
		"producer-companies-list-turkey",
		"suppliers-companies-turkey",
		"made-in-turkey",
		"istanbul-companies-turkey",
	})
	v.SetDefault("geocode.base_url", "https://maps.googleapis.com/maps/api/geocode/json")
	v.SetDefault("geocode.language", "en")
	v.SetDefault("geocode.rps", 10)
	v.SetDefault("geocode.country", "Turkey")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "db.sqlite3")
	v.SetDefault("checkpoint.interval_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
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
