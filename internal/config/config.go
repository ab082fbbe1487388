// Package config provides configuration management for the harvester service.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/jonesrussell/harvester/internal/logger"
)

// Default configuration values.
const (
	defaultServerAddress   = ":8060"
	defaultReadTimeout     = "15s"
	defaultWriteTimeout    = "0s" // zero keeps SSE connections open
	defaultIdleTimeout     = "60s"
	defaultDBHost          = "localhost"
	defaultDBPort          = "5432"
	defaultDBUser          = "postgres"
	defaultDBName          = "harvester"
	defaultDBSSLMode       = "disable"
	defaultDiscoveryURL    = "http://localhost:8090/api/v1"
	defaultEnrichURL       = "http://localhost:8091/api/v1"
	defaultRunInterval     = "30s"
	defaultEnrichWorkers   = 4
	defaultSettingsFile    = "discovery.yml"
	defaultLogLevel        = "info"
	defaultLogEncoding     = "json"
	defaultEnrichTimeout   = "90s"
	defaultDiscoverTimeout = "120s"
)

// Config is the top-level service configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// AppConfig holds application identity configuration.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string `mapstructure:"address"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	IdleTimeout  string `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DiscoveryConfig holds discovery backend and loop configuration.
type DiscoveryConfig struct {
	BackendURL   string `mapstructure:"backend_url"`
	Timeout      string `mapstructure:"timeout"`
	RunInterval  string `mapstructure:"run_interval"`
	Schedule     string `mapstructure:"schedule"`
	SettingsFile string `mapstructure:"settings_file"`
}

// EnrichmentConfig holds enrichment backend configuration.
type EnrichmentConfig struct {
	BackendURL string `mapstructure:"backend_url"`
	Timeout    string `mapstructure:"timeout"`
	Workers    int    `mapstructure:"workers"`
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

// Initialize sets up Viper from environment variables and an optional config
// file. Must be called before Load.
func Initialize() error {
	// .env is optional.
	_ = godotenv.Load()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	// Config file is optional.
	_ = viper.ReadInConfig()

	if err := bindEnvironmentVariables(); err != nil {
		return fmt.Errorf("failed to bind environment variables: %w", err)
	}
	return nil
}

// Load unmarshals the current Viper state into a typed Config.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("app", map[string]any{
		"name":        "harvester",
		"environment": "production",
		"debug":       false,
	})

	viper.SetDefault("server", map[string]any{
		"address":       defaultServerAddress,
		"read_timeout":  defaultReadTimeout,
		"write_timeout": defaultWriteTimeout,
		"idle_timeout":  defaultIdleTimeout,
	})

	viper.SetDefault("database", map[string]any{
		"host":    defaultDBHost,
		"port":    defaultDBPort,
		"user":    defaultDBUser,
		"name":    defaultDBName,
		"sslmode": defaultDBSSLMode,
	})

	viper.SetDefault("discovery", map[string]any{
		"backend_url":   defaultDiscoveryURL,
		"timeout":       defaultDiscoverTimeout,
		"run_interval":  defaultRunInterval,
		"schedule":      "",
		"settings_file": defaultSettingsFile,
	})

	viper.SetDefault("enrichment", map[string]any{
		"backend_url": defaultEnrichURL,
		"timeout":     defaultEnrichTimeout,
		"workers":     defaultEnrichWorkers,
	})

	viper.SetDefault("logger", map[string]any{
		"level":    defaultLogLevel,
		"encoding": defaultLogEncoding,
	})
}

func bindEnvironmentVariables() error {
	bindings := map[string][]string{
		"app.environment":         {"APP_ENV"},
		"app.debug":               {"APP_DEBUG"},
		"logger.level":            {"LOG_LEVEL"},
		"logger.encoding":         {"LOG_FORMAT"},
		"server.address":          {"SERVER_ADDRESS"},
		"database.host":           {"POSTGRES_HOST"},
		"database.port":           {"POSTGRES_PORT"},
		"database.user":           {"POSTGRES_USER"},
		"database.password":       {"POSTGRES_PASSWORD"},
		"database.name":           {"POSTGRES_DB"},
		"discovery.backend_url":   {"DISCOVERY_BACKEND_URL"},
		"discovery.schedule":      {"DISCOVERY_SCHEDULE"},
		"enrichment.backend_url":  {"ENRICHMENT_BACKEND_URL"},
	}
	for key, envs := range bindings {
		if err := viper.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// LoggerConfig converts the logging section into the logger package's config.
func (c *Config) LoggerConfig() *logger.Config {
	return &logger.Config{
		Level:       logger.Level(c.Logger.Level),
		Development: c.App.Environment != "production",
		Encoding:    c.Logger.Encoding,
		OutputPaths: []string{"stdout"},
	}
}
