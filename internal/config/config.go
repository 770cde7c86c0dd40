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
	Rules    RulesConfig    `yaml:"rules" mapstructure:"rules"`
	Evidence EvidenceConfig `yaml:"evidence" mapstructure:"evidence"`
	Runner   RunnerConfig   `yaml:"runner" mapstructure:"runner"`
	HTTP     HTTPConfig     `yaml:"http" mapstructure:"http"`
	Geocode  GeocodeConfig  `yaml:"geocode" mapstructure:"geocode"`
	Stats    StatsConfig    `yaml:"stats" mapstructure:"stats"`
	Weather  WeatherConfig  `yaml:"weather" mapstructure:"weather"`
	WMS      WMSConfig      `yaml:"wms" mapstructure:"wms"`
	PDF      PDFConfig      `yaml:"pdf" mapstructure:"pdf"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// RulesConfig locates the rule table.
type RulesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// EvidenceConfig configures the evidence store and its index backend.
type EvidenceConfig struct {
	Dir         string `yaml:"dir" mapstructure:"dir"`
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite | postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RunnerConfig configures the acquisition executor.
type RunnerConfig struct {
	Workers     int `yaml:"workers" mapstructure:"workers"`
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffMS   int `yaml:"backoff_ms" mapstructure:"backoff_ms"`
}

// HTTPConfig configures the shared HTTP fetcher.
type HTTPConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// GeocodeConfig configures the geocoding connector. A fallback provider is
// optional; when set it is tried after the primary misses.
type GeocodeConfig struct {
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	APIKey          string `yaml:"api_key" mapstructure:"api_key"`
	FallbackBaseURL string `yaml:"fallback_base_url" mapstructure:"fallback_base_url"`
}

// StatsConfig configures the tabular statistics connector.
type StatsConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
}

// WeatherConfig configures the weather/observation connector.
type WeatherConfig struct {
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	APIKey       string `yaml:"api_key" mapstructure:"api_key"`
	StationsPath string `yaml:"stations_path" mapstructure:"stations_path"`
}

// WMSLayer declares one map overlay layer.
type WMSLayer struct {
	URL        string `yaml:"url" mapstructure:"url"`
	Name       string `yaml:"name" mapstructure:"name"`
	Credential string `yaml:"credential" mapstructure:"credential"` // env var with the key
}

// WMSConfig configures map/imagery overlay layers.
type WMSConfig struct {
	Layers map[string]WMSLayer `yaml:"layers" mapstructure:"layers"`
}

// PDFConfig configures scanned-document page extraction.
type PDFConfig struct {
	PdftoppmPath string `yaml:"pdftoppm_path" mapstructure:"pdftoppm_path"`
	DPI          int    `yaml:"dpi" mapstructure:"dpi"`
}

// ServerConfig configures the provenance view server.
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
	v.SetEnvPrefix("CASEFILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("rules.path", "rules.yaml")
	v.SetDefault("evidence.dir", "evidence")
	v.SetDefault("evidence.driver", "sqlite")
	v.SetDefault("evidence.database_url", "evidence/index.db")
	v.SetDefault("runner.workers", 4)
	v.SetDefault("runner.max_attempts", 3)
	v.SetDefault("runner.backoff_ms", 500)
	v.SetDefault("http.user_agent", "casefill/1.0")
	v.SetDefault("http.timeout_secs", 30)
	v.SetDefault("pdf.pdftoppm_path", "pdftoppm")
	v.SetDefault("pdf.dpi", 250)
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
