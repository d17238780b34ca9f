// Package config loads server settings from .env and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	Port   string
	Env    string
	DBPath string

	// Logging
	LogLevel  string
	LogFormat string // "text" or "json"

	// Timeouts
	HTTPReadTimeoutSec    int
	HTTPWriteTimeoutSec   int
	HTTPIdleTimeoutSec    int
	HTTPRequestTimeoutSec int
	ShutdownTimeoutSec    int

	AllowedOrigins []string // CORS allowed origins

	// SeedDemo loads the embedded demo catalogs into an empty database.
	SeedDemo bool
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	cfg := &Config{}

	cfg.Port = getEnv("PORT", "8080")
	cfg.Env = getEnv("ENV", "dev")
	cfg.DBPath = getEnv("DB_PATH", "./data/pricing.db")

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "text")

	cfg.HTTPReadTimeoutSec = getEnvAsInt("HTTP_READ_TIMEOUT_SEC", 15)
	cfg.HTTPWriteTimeoutSec = getEnvAsInt("HTTP_WRITE_TIMEOUT_SEC", 15)
	cfg.HTTPIdleTimeoutSec = getEnvAsInt("HTTP_IDLE_TIMEOUT_SEC", 60)
	cfg.HTTPRequestTimeoutSec = getEnvAsInt("HTTP_REQUEST_TIMEOUT_SEC", 30)
	cfg.ShutdownTimeoutSec = getEnvAsInt("SHUTDOWN_TIMEOUT_SEC", 30)

	cfg.AllowedOrigins = getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"})
	cfg.SeedDemo = getEnvAsBool("SEED_DEMO", cfg.Env == "dev")

	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("invalid LOG_FORMAT %q: must be text or json", cfg.LogFormat)
	}
	if cfg.Env == "prod" && cfg.SeedDemo {
		return nil, fmt.Errorf("SEED_DEMO must not be enabled in production environment")
	}

	return cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// ConfigureLogging applies the level and formatter to the standard logrus
// logger.
func (c *Config) ConfigureLogging() {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if c.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339})
		return
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.HTTPReadTimeoutSec) * time.Second
}

func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.HTTPWriteTimeoutSec) * time.Second
}

func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.HTTPIdleTimeoutSec) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTPRequestTimeoutSec) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}

func getEnv(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsInt(key string, defaultVal int) int {
	valStr := os.Getenv(key)
	if val, err := strconv.Atoi(valStr); err == nil {
		return val
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	valStr := os.Getenv(key)
	if val, err := strconv.ParseBool(valStr); err == nil {
		return val
	}
	return defaultVal
}

func getEnvAsSlice(key string, defaultVal []string) []string {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	var result []string
	for _, s := range strings.Split(valStr, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	if len(result) == 0 {
		return defaultVal
	}
	return result
}
