package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional
// config file. Environment variables take precedence over values from the
// config file; built-in defaults apply last.
//
// Environment variables use the IMGBATCH_ prefix with underscores for
// nesting, e.g. IMGBATCH_SERVER_PORT or IMGBATCH_STORAGE_DRIVER.
// Returns a populated Config struct or an error if loading or validation
// fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/imgbatch")

	v.SetEnvPrefix("IMGBATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// The config file is optional; only a malformed file is an error.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers the built-in defaults on the given viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.max_tasks_to_keep", 100)

	// Empty defaults so AutomaticEnv can bind keys that have no built-in
	// value; viper only maps env vars for keys it already knows about.
	v.SetDefault("storage.postgres_url", "")
	v.SetDefault("storage.redis_addr", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("generation.gemini_api_key", "")
	v.SetDefault("generation.openai_api_key", "")
	v.SetDefault("generation.openai_base_url", "")

	v.SetDefault("download.dir", "downloads")
	v.SetDefault("download.concurrency", 3)
	v.SetDefault("download.retries", 2)
	v.SetDefault("download.filename_template", "{taskName}_{index}_{timestamp}.png")

	v.SetDefault("tasks.default_concurrent_limit", 2)
	v.SetDefault("tasks.default_retry_attempts", 2)
	v.SetDefault("tasks.default_retry_delay", "1s")

	v.SetDefault("auth.token_lifetime", "24h")
}
