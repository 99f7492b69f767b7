package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds the full application configuration.
type Config struct {
	Places  PlacesConfig  `yaml:"places" mapstructure:"places"`
	Enrich  EnrichConfig  `yaml:"enrich" mapstructure:"enrich"`
	Collect CollectConfig `yaml:"collect" mapstructure:"collect"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Export  ExportConfig  `yaml:"export" mapstructure:"export"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// PlacesConfig holds Google Places API (New) settings.
type PlacesConfig struct {
	APIKey         string   `yaml:"api_key" mapstructure:"api_key"`
	BaseURL        string   `yaml:"base_url" mapstructure:"base_url"`
	LanguageCode   string   `yaml:"language_code" mapstructure:"language_code"`
	RegionCode     string   `yaml:"region_code" mapstructure:"region_code"`
	PageSize       int      `yaml:"page_size" mapstructure:"page_size"`
	MaxPages       int      `yaml:"max_pages" mapstructure:"max_pages"`
	TimeoutSecs    int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts    int      `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffBaseMs  int      `yaml:"backoff_base_ms" mapstructure:"backoff_base_ms"`
	PageDelayMs    int      `yaml:"page_delay_ms" mapstructure:"page_delay_ms"`
	KeywordDelayMs int      `yaml:"keyword_delay_ms" mapstructure:"keyword_delay_ms"`
	BiasLat        *float64 `yaml:"bias_lat" mapstructure:"bias_lat"`
	BiasLng        *float64 `yaml:"bias_lng" mapstructure:"bias_lng"`
	BiasRadiusM    float64  `yaml:"bias_radius_m" mapstructure:"bias_radius_m"`
}

// HasBias reports whether a complete location bias is configured.
func (p PlacesConfig) HasBias() bool {
	return p.BiasLat != nil && p.BiasLng != nil && p.BiasRadiusM > 0
}

// Enrichment source names accepted in enrich.sources.
const (
	SourcePlaces   = "places"
	SourceRegistry = "registry"
)

// EnrichConfig configures contact enrichment. Sources are consulted in
// order: "places" reads Google Place Details, "registry" scrapes the
// company registry.
type EnrichConfig struct {
	Enabled       bool     `yaml:"enabled" mapstructure:"enabled"`
	Sources       []string `yaml:"sources" mapstructure:"sources"`
	BaseURL       string   `yaml:"base_url" mapstructure:"base_url"`
	CandidateURLs []string `yaml:"candidate_urls" mapstructure:"candidate_urls"`
	TimeoutSecs   int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts   int      `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffBaseMs int      `yaml:"backoff_base_ms" mapstructure:"backoff_base_ms"`
	DelayMs       int      `yaml:"delay_ms" mapstructure:"delay_ms"`
	UserAgent     string   `yaml:"user_agent" mapstructure:"user_agent"`
	CacheSize     int      `yaml:"cache_size" mapstructure:"cache_size"`
	CacheTTLMins  int      `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
}

// CollectConfig holds run defaults used when the caller gives none.
type CollectConfig struct {
	City     string   `yaml:"city" mapstructure:"city"`
	Category string   `yaml:"category" mapstructure:"category"`
	Keywords []string `yaml:"keywords" mapstructure:"keywords"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ExportConfig configures output files.
type ExportConfig struct {
	Dir           string   `yaml:"dir" mapstructure:"dir"`
	Formats       []string `yaml:"formats" mapstructure:"formats"`
	PopulationCSV string   `yaml:"population_csv" mapstructure:"population_csv"`
	MinPopulation int      `yaml:"min_population" mapstructure:"min_population"`
}

// ServerConfig configures the HTTP trigger API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MetricsConfig configures metric output for batch runs.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// DefaultKeywords are searched when neither flags nor config name any.
var DefaultKeywords = []string{
	"condomínio residencial",
	"condomínio clube",
	"residencial clube",
	"condomínio vertical",
	"condomínio fechado",
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("places.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("places.language_code", "pt-BR")
	v.SetDefault("places.region_code", "BR")
	v.SetDefault("places.page_size", 20)
	v.SetDefault("places.max_pages", 3)
	v.SetDefault("places.timeout_secs", 20)
	v.SetDefault("places.max_attempts", 5)
	v.SetDefault("places.backoff_base_ms", 1200)
	v.SetDefault("places.page_delay_ms", 200)
	v.SetDefault("places.keyword_delay_ms", 200)
	v.SetDefault("enrich.enabled", false)
	v.SetDefault("enrich.sources", []string{SourcePlaces, SourceRegistry})
	v.SetDefault("enrich.base_url", "https://cnpj.biz")
	v.SetDefault("enrich.candidate_urls", []string{
		"/empresas?q={query}",
		"/busca?q={query}",
		"/search?q={query}",
		"/?q={query}",
	})
	v.SetDefault("enrich.timeout_secs", 20)
	v.SetDefault("enrich.max_attempts", 3)
	v.SetDefault("enrich.backoff_base_ms", 1000)
	v.SetDefault("enrich.delay_ms", 400)
	v.SetDefault("enrich.cache_size", 256)
	v.SetDefault("enrich.cache_ttl_mins", 30)
	v.SetDefault("collect.city", "Jundiaí - SP, Brasil")
	v.SetDefault("collect.category", "condominios")
	v.SetDefault("collect.keywords", DefaultKeywords)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("export.dir", ".")
	v.SetDefault("export.formats", []string{"csv"})
	v.SetDefault("export.min_population", 750)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	// Keys without defaults still need to be visible to Unmarshal.
	for _, key := range []string{
		"places.api_key", "places.bias_lat", "places.bias_lng", "places.bias_radius_m",
		"store.database_url", "export.population_csv", "metrics.textfile", "log.file",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

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

	// Key names used by the existing .env files.
	if cfg.Places.APIKey == "" {
		cfg.Places.APIKey = firstEnv("GOOGLE_PLACES_API_KEY", "GOOGLE_MAPS_API_KEY", "GOOGLE_API_KEY")
	}
	if cfg.Store.DatabaseURL == "" {
		cfg.Store.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	return &cfg, nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func (c *Config) validateSources() []string {
	var errs []string
	for _, s := range c.Enrich.Sources {
		if s != SourcePlaces && s != SourceRegistry {
			errs = append(errs, fmt.Sprintf("enrich.sources: unknown source %q", s))
		}
	}
	return errs
}

// Validate checks the settings required by mode: "collect", "enrich",
// "store" or "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "collect":
		if c.Places.APIKey == "" {
			errs = append(errs, "places.api_key is required (or GOOGLE_PLACES_API_KEY)")
		}
		if c.Places.PageSize < 1 || c.Places.PageSize > 20 {
			errs = append(errs, fmt.Sprintf("places.page_size must be between 1 and 20, got %d", c.Places.PageSize))
		}
		if c.Places.MaxPages < 1 {
			errs = append(errs, "places.max_pages must be > 0")
		}
		if (c.Places.BiasLat == nil) != (c.Places.BiasLng == nil) {
			errs = append(errs, "places.bias_lat and places.bias_lng must be set together")
		} else if c.Places.BiasLat != nil && c.Places.BiasRadiusM <= 0 {
			errs = append(errs, "places.bias_radius_m must be > 0 when bias_lat/bias_lng are set")
		}
		errs = append(errs, c.validateSources()...)
	case "enrich":
		if !c.Enrich.Enabled {
			errs = append(errs, "enrich.enabled must be true")
		}
		errs = append(errs, c.validateSources()...)
		errs = append(errs, c.validateStore()...)
	case "store":
		errs = append(errs, c.validateStore()...)
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	switch strings.ToLower(c.Store.Driver) {
	case "postgres", "postgresql", "pg":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required for postgres"}
		}
	case "sqlite", "sqlite3":
	default:
		return []string{fmt.Sprintf("store.driver %q is not supported", c.Store.Driver)}
	}
	return nil
}

// InitLogger initializes the global zap logger. When cfg.File is set, log
// lines also go to a size-rotated file.
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

	var opts []zap.Option
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return eris.Wrap(err, "config: create log dir")
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
			LocalTime:  true,
		}
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(rotator),
			zapCfg.Level,
		)
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore)
		}))
	}

	logger, err := zapCfg.Build(opts...)
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
