package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	IVS           IVSConfig
	Channels      ChannelsConfig
	Chat          ChatConfig
	Collector     CollectorConfig
	Recsys        RecsysConfig
	Notifications NotificationsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// IVSConfig holds the AWS IVS broadcast provider settings. When Enabled is
// false the in-memory mock provider is used instead (local dev).
type IVSConfig struct {
	Enabled         bool
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// ChannelsConfig tunes the channel reuse fallback tiers.
type ChannelsConfig struct {
	HostStaleAfter   time.Duration // host-scoped scheduled stream that never went live
	GlobalStaleAfter time.Duration // system-wide scheduled stream, quota fallback
}

// ChatConfig holds chat history and rate-limit settings.
type ChatConfig struct {
	HistoryLimit      int // messages sent in the join snapshot
	RateLimitMessages int
	RateLimitWindow   time.Duration
}

// CollectorConfig holds metrics sampling settings.
type CollectorConfig struct {
	Interval  time.Duration
	Retention time.Duration
}

// NotificationsConfig selects the notification delivery path. With the queue
// disabled, deliveries are logged in-process instead of enqueued for the
// worker (local dev without a worker binary).
type NotificationsConfig struct {
	QueueEnabled bool
}

// RecsysConfig holds the recommendation tuning weights. These are tuning
// values, kept configurable rather than hard-coded.
type RecsysConfig struct {
	CollaborativeWeight float64
	ContentWeight       float64
	TrendingLikesWeight float64
	TrendingSalesWeight float64
	WatchHistoryLimit   int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "gshop_live"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		IVS: IVSConfig{
			Enabled:         getEnv("AWS_IVS_ENABLED", "false") == "true",
			Region:          getEnv("AWS_IVS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_IVS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_IVS_SECRET_ACCESS_KEY", ""),
		},
		Channels: ChannelsConfig{
			HostStaleAfter:   getEnvDuration("CHANNEL_HOST_STALE_AFTER", 24*time.Hour),
			GlobalStaleAfter: getEnvDuration("CHANNEL_GLOBAL_STALE_AFTER", time.Hour),
		},
		Chat: ChatConfig{
			HistoryLimit:      getEnvInt("CHAT_HISTORY_LIMIT", 20),
			RateLimitMessages: getEnvInt("CHAT_RATE_LIMIT_MESSAGES", 5),
			RateLimitWindow:   getEnvDuration("CHAT_RATE_LIMIT_WINDOW", 10*time.Second),
		},
		Collector: CollectorConfig{
			Interval:  getEnvDuration("METRICS_INTERVAL", time.Minute),
			Retention: getEnvDuration("METRICS_RETENTION", 7*24*time.Hour),
		},
		Notifications: NotificationsConfig{
			QueueEnabled: getEnv("NOTIFICATIONS_QUEUE_ENABLED", "true") == "true",
		},
		Recsys: RecsysConfig{
			CollaborativeWeight: getEnvFloat("RECSYS_COLLABORATIVE_WEIGHT", 0.6),
			ContentWeight:       getEnvFloat("RECSYS_CONTENT_WEIGHT", 0.4),
			TrendingLikesWeight: getEnvFloat("RECSYS_TRENDING_LIKES_WEIGHT", 0.5),
			TrendingSalesWeight: getEnvFloat("RECSYS_TRENDING_SALES_WEIGHT", 2.0),
			WatchHistoryLimit:   getEnvInt("RECSYS_WATCH_HISTORY_LIMIT", 20),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
