package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends selectable with STORE_BACKEND.
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Booking  BookingConfig
	Profiles ProfilesConfig
	Worker   WorkerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*"
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // used as-is when set
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis.
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

// BookingConfig tunes the booking core.
type BookingConfig struct {
	StoreBackend     string
	TxMaxAttempts    int
	MaxCapacity      int
	JoinRewardPoints int
	PlaceholderName  string
	DispatchTimeout  time.Duration
}

// ProfilesConfig controls the display-name cache.
type ProfilesConfig struct {
	CacheTTL time.Duration
}

// WorkerConfig controls the side-effect worker.
type WorkerConfig struct {
	PollTimeout time.Duration
}

// DSN returns the PostgreSQL connection string: URL when set, otherwise built
// from the components.
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
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

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
			DBName:   getEnv("DB_NAME", "fairway"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 0),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Booking: BookingConfig{
			StoreBackend:     strings.ToLower(getEnv("STORE_BACKEND", StoreBackendPostgres)),
			TxMaxAttempts:    getEnvInt("BOOKING_TX_MAX_ATTEMPTS", 5),
			MaxCapacity:      getEnvInt("BOOKING_MAX_CAPACITY", 8),
			JoinRewardPoints: getEnvInt("JOIN_REWARD_POINTS", 10),
			PlaceholderName:  getEnv("PLACEHOLDER_DISPLAY_NAME", "Golfer"),
			DispatchTimeout:  time.Duration(getEnvInt("DISPATCH_TIMEOUT_SEC", 5)) * time.Second,
		},
		Profiles: ProfilesConfig{
			CacheTTL: time.Duration(getEnvInt("PROFILE_CACHE_TTL_SEC", 600)) * time.Second,
		},
		Worker: WorkerConfig{
			PollTimeout: time.Duration(getEnvInt("WORKER_POLL_TIMEOUT_SEC", 5)) * time.Second,
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Booking.StoreBackend {
	case StoreBackendPostgres, StoreBackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreBackendPostgres, StoreBackendMemory, c.Booking.StoreBackend)
	}
	if c.Booking.TxMaxAttempts < 1 {
		return fmt.Errorf("BOOKING_TX_MAX_ATTEMPTS must be at least 1, got %d", c.Booking.TxMaxAttempts)
	}
	if c.Booking.MaxCapacity < 1 {
		return fmt.Errorf("BOOKING_MAX_CAPACITY must be at least 1, got %d", c.Booking.MaxCapacity)
	}
	if c.Booking.JoinRewardPoints < 0 {
		return fmt.Errorf("JOIN_REWARD_POINTS must not be negative, got %d", c.Booking.JoinRewardPoints)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
