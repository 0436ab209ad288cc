package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     validate:"required"`
	Storage    StorageConfig    `mapstructure:"storage"    validate:"required"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Generation GenerationConfig `mapstructure:"generation"`
	Download   DownloadConfig   `mapstructure:"download"   validate:"required"`
	Tasks      TasksConfig      `mapstructure:"tasks"`
}

// ServerConfig contains all HTTP server related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// StorageConfig selects and configures the task store backend.
type StorageConfig struct {
	// Driver selects the TaskStore implementation.
	Driver string `mapstructure:"driver" validate:"required,oneof=memory postgres redis"`

	// PostgresURL is the connection string for the postgres driver.
	PostgresURL string `mapstructure:"postgres_url" validate:"required_if=Driver postgres,omitempty,url"`

	// RedisAddr is the host:port for the redis driver.
	RedisAddr string `mapstructure:"redis_addr" validate:"required_if=Driver redis"`

	// MaxTasksToKeep bounds the number of persisted tasks; older terminal
	// tasks beyond this count are removed by the cleanup operation.
	// Zero disables cleanup.
	MaxTasksToKeep int `mapstructure:"max_tasks_to_keep" validate:"gte=0"`
}

// AuthConfig contains authentication settings for the admin API.
// An empty secret disables authentication entirely.
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"     validate:"omitempty,min=32"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime"`
}

// GenerationConfig contains settings for the generation backends.
type GenerationConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`

	OpenAIAPIKey  string `mapstructure:"openai_api_key"`
	OpenAIBaseURL string `mapstructure:"openai_base_url" validate:"omitempty,url"`
}

// DownloadConfig contains settings for the download queue.
type DownloadConfig struct {
	// Dir is the directory artifacts are saved into.
	Dir string `mapstructure:"dir" validate:"required"`

	// Concurrency bounds the number of in-flight downloads.
	Concurrency int `mapstructure:"concurrency" validate:"required,gte=1"`

	// Retries is the number of automatic retries per job after the first
	// attempt fails.
	Retries int `mapstructure:"retries" validate:"gte=0"`

	// FilenameTemplate names saved artifacts. Supported variables:
	// {taskName}, {taskId}, {index}, {timestamp}, {date}.
	FilenameTemplate string `mapstructure:"filename_template" validate:"required"`
}

// TasksConfig contains scheduler-wide defaults applied to new tasks when
// the caller leaves the corresponding config field unset.
type TasksConfig struct {
	DefaultConcurrentLimit int           `mapstructure:"default_concurrent_limit" validate:"gte=0"`
	DefaultRetryAttempts   int           `mapstructure:"default_retry_attempts"   validate:"gte=0"`
	DefaultRetryDelay      time.Duration `mapstructure:"default_retry_delay"      validate:"gte=0"`
}
