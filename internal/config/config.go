package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	LiveKit   LiveKitConfig   `mapstructure:"livekit"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Client    ClientConfig    `mapstructure:"client"`
}

type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	MiddlewareTimeout time.Duration `mapstructure:"middleware_timeout"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	SSLMode       string `mapstructure:"ssl_mode"`
	MaxConns      int32  `mapstructure:"max_conns"`
	MinConns      int32  `mapstructure:"min_conns"`
	MigrationsURL string `mapstructure:"migrations_url"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// LiveKitConfig configures room access tokens. The development room hub
// validates the same tokens, so URL may point at either.
type LiveKitConfig struct {
	URL       string        `mapstructure:"url"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	DevHub    bool          `mapstructure:"dev_hub"`
}

type StorageConfig struct {
	UploadDir     string `mapstructure:"upload_dir"`
	MaxUploadSize int64  `mapstructure:"max_upload_size"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type LifecycleConfig struct {
	StartInterval   time.Duration `mapstructure:"start_interval"`
	EndInterval     time.Duration `mapstructure:"end_interval"`
	MaxLiveDuration time.Duration `mapstructure:"max_live_duration"`
}

type SecurityConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level        string        `mapstructure:"level"`
	Format       string        `mapstructure:"format"`
	File         string        `mapstructure:"file"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time"`
}

// ClientConfig configures the headless live classroom client
type ClientConfig struct {
	APIBaseURL       string        `mapstructure:"api_base_url"`
	AccessToken      string        `mapstructure:"access_token"`
	Classroom        string        `mapstructure:"classroom"`
	ParticipantName  string        `mapstructure:"participant_name"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	AutoRefreshToken bool          `mapstructure:"auto_refresh_token"`
	RefreshFraction  float64       `mapstructure:"refresh_fraction"`
	RefreshRetry     time.Duration `mapstructure:"refresh_retry"`
	ReactionTTL      time.Duration `mapstructure:"reaction_ttl"`
	HistoryLimit     int           `mapstructure:"history_limit"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	return LoadWith(viper.New())
}

// LoadWith reads configuration into an existing viper instance, so callers
// can bind command line flags before loading.
func LoadWith(v *viper.Viper) (*Config, error) {
	// Set config file path
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.middleware_timeout", "60s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "classroom")
	v.SetDefault("database.database", "classroom")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.migrations_url", "file://migrations")

	// Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Auth
	v.SetDefault("auth.access_token_ttl", "15m")
	v.SetDefault("auth.refresh_token_ttl", "168h") // 7 days

	// LiveKit
	v.SetDefault("livekit.url", "ws://localhost:8080/rtc")
	v.SetDefault("livekit.token_ttl", "1h")
	v.SetDefault("livekit.cache_ttl", "50m")
	v.SetDefault("livekit.dev_hub", true)

	// Storage
	v.SetDefault("storage.upload_dir", "./uploads")
	v.SetDefault("storage.max_upload_size", 25<<20)
	v.SetDefault("storage.public_base_url", "http://localhost:8080/api/v1")

	// Lifecycle
	v.SetDefault("lifecycle.start_interval", "60s")
	v.SetDefault("lifecycle.end_interval", "5m")
	v.SetDefault("lifecycle.max_live_duration", "24h")

	// Security
	v.SetDefault("security.rate_limit.requests_per_minute", 120)
	v.SetDefault("security.rate_limit.burst", 20)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_age", "168h")
	v.SetDefault("logging.rotation_time", "24h")

	// Client
	v.SetDefault("client.api_base_url", "http://localhost:8080/api/v1")
	v.SetDefault("client.poll_interval", "30s")
	v.SetDefault("client.auto_refresh_token", true)
	v.SetDefault("client.refresh_fraction", 0.8)
	v.SetDefault("client.refresh_retry", "30s")
	v.SetDefault("client.reaction_ttl", "3s")
	v.SetDefault("client.history_limit", 50)
}

func bindEnvVars(v *viper.Viper) {
	// Database
	v.BindEnv("database.host", "POSTGRES_HOST")
	v.BindEnv("database.password", "POSTGRES_PASSWORD")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Auth
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")

	// LiveKit
	v.BindEnv("livekit.url", "LIVEKIT_URL")
	v.BindEnv("livekit.api_key", "LIVEKIT_API_KEY")
	v.BindEnv("livekit.api_secret", "LIVEKIT_API_SECRET")

	// Client
	v.BindEnv("client.api_base_url", "CLASSROOM_API_URL")
	v.BindEnv("client.access_token", "CLASSROOM_ACCESS_TOKEN")
}
