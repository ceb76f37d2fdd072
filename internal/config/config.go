package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. REDACTOR_SERVER_PORT
const EnvPrefix = "REDACTOR"

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	return load(viper.GetViper(), configPath)
}

func load(v *viper.Viper, configPath string) (*Config, error) {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	config := GetDefaults()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/pii-redactor/")
	v.AddConfigPath("$HOME/.pii-redactor/")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// bindEnv registers keys that have no default in a config file so that
// AutomaticEnv can resolve them during Unmarshal
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"server.port",
		"detector.backend",
		"detector.endpoint",
		"detector.api_key",
		"detector.language_code",
		"detector.cache.backend",
		"detector.cache.redis_url",
		"storage.driver",
		"storage.postgres.database_url",
		"storage.redis.url",
		"logging.level",
		"logging.format",
	} {
		_ = v.BindEnv(key)
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Detector.Backend {
	case "http":
		if config.Detector.Endpoint == "" {
			return fmt.Errorf("detector endpoint is required for the http backend")
		}
	case "pattern":
	default:
		return fmt.Errorf("invalid detector backend: %s (must be http or pattern)", config.Detector.Backend)
	}

	if config.Detector.LanguageCode == "" {
		return fmt.Errorf("detector language code is required")
	}

	if config.Detector.RateLimit < 0 {
		return fmt.Errorf("invalid detector rate limit: %g", config.Detector.RateLimit)
	}

	if config.Detector.MinScore < 0 || config.Detector.MinScore > 1 {
		return fmt.Errorf("invalid detector min score: %g (must be within [0,1])", config.Detector.MinScore)
	}

	switch config.Detector.Cache.Backend {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("invalid detector cache backend: %s (must be none, memory, or redis)", config.Detector.Cache.Backend)
	}

	switch config.Storage.Driver {
	case "memory", "postgres", "redis":
	default:
		return fmt.Errorf("invalid storage driver: %s (must be memory, postgres, or redis)", config.Storage.Driver)
	}

	if config.Storage.Driver == "postgres" && !isIdentifier(config.Storage.Postgres.Table) {
		return fmt.Errorf("invalid postgres table name: %q", config.Storage.Postgres.Table)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// isIdentifier accepts plain SQL identifiers, the table name is interpolated into queries
func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// Watch starts watching the configuration file for changes. Invalid
// updates are reported through onError and otherwise ignored.
func Watch(callback func(*Config), onError func(error)) {
	watch(viper.GetViper(), callback, onError)
}

func watch(v *viper.Viper, callback func(*Config), onError func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := v.Unmarshal(newConfig); err != nil {
			onError(fmt.Errorf("failed to unmarshal config from %s: %w", e.Name, err))
			return
		}

		if err := validateConfig(newConfig); err != nil {
			onError(fmt.Errorf("invalid configuration in %s: %w", e.Name, err))
			return
		}

		callback(newConfig)
	})
	v.WatchConfig()
}
