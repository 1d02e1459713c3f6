package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string
	DBSSLMode  string

	ListenAddr     string
	JaegerEndpoint string

	MaxParticipants   int
	DefaultPermission string
	AutoSave          bool
	AutoSaveInterval  time.Duration
	AwayTimeout       time.Duration
	LeaveGrace        time.Duration
	IdleTimeout       time.Duration
}

// Load reads configuration from a .env file if present, falling back to
// the process environment, with workable local defaults.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBName:     getEnv("DB_NAME", "coedit"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", ""),

		MaxParticipants:   getEnvInt("SESSION_MAX_PARTICIPANTS", 16),
		DefaultPermission: getEnv("SESSION_DEFAULT_PERMISSION", "edit"),
		AutoSave:          getEnv("SESSION_AUTOSAVE", "true") == "true",
		AutoSaveInterval:  getEnvDuration("SESSION_AUTOSAVE_INTERVAL", 10*time.Second),
		AwayTimeout:       getEnvDuration("SESSION_AWAY_TIMEOUT", 45*time.Second),
		LeaveGrace:        getEnvDuration("SESSION_LEAVE_GRACE", 30*time.Second),
		IdleTimeout:       getEnvDuration("SESSION_IDLE_TIMEOUT", 10*time.Minute),
	}
}

// DatabaseURL builds the lib/pq connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
