package config_test

import (
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasri82/cardinsa-pricing/config"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "ENV", "DB_PATH", "LOG_LEVEL", "LOG_FORMAT", "ALLOWED_ORIGINS", "SEED_DEMO", "HTTP_READ_TIMEOUT_SEC"} {
		t.Setenv(k, "")
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.SeedDemo, "dev seeds demo data by default")
	assert.Equal(t, 15*time.Second, cfg.ReadTimeout())
	assert.NotEmpty(t, cfg.AllowedOrigins)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "staging")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("SEED_DEMO", "false")
	t.Setenv("HTTP_READ_TIMEOUT_SEC", "not-a-number")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.False(t, cfg.SeedDemo)
	assert.Equal(t, 15, cfg.HTTPReadTimeoutSec, "malformed numbers fall back to the default")

	cfg.ConfigureLogging()
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	_, isJSON := log.StandardLogger().Formatter.(*log.JSONFormatter)
	assert.True(t, isJSON)

	log.SetLevel(log.InfoLevel)
	log.SetFormatter(&log.TextFormatter{})
}

func TestLoad_RejectsInvalidSettings(t *testing.T) {
	t.Setenv("LOG_LEVEL", "loud")
	_, err := config.Load()
	assert.Error(t, err)

	t.Setenv("LOG_LEVEL", "info")
	t.Setenv("LOG_FORMAT", "xml")
	_, err = config.Load()
	assert.Error(t, err)

	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("ENV", "prod")
	t.Setenv("SEED_DEMO", "true")
	_, err = config.Load()
	assert.Error(t, err)
}
