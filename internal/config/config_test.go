package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "downloads", cfg.DownloadDir)
	assert.Equal(t, 4, cfg.MaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.ShutdownGrace)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ReadTimeout)
	assert.Zero(t, cfg.RateLimit)
	assert.Equal(t, "downloads.db", cfg.DBPath)
	assert.Zero(t, cfg.KeepDownloadedFor)
	assert.Equal(t, 10*time.Minute, cfg.CleanupInterval)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "verifetch", cfg.Telemetry.ServiceName)
	assert.Equal(t, "0.0.0.0:9091", cfg.Web.BindAddress)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DOWNLOAD_DIR", "/data")
	t.Setenv("MAX_CONCURRENT", "8")
	t.Setenv("READ_TIMEOUT", "90s")
	t.Setenv("RATE_LIMIT", "1048576")
	t.Setenv("KEEP_DOWNLOADED_FOR", "72h")
	t.Setenv("TELEMETRY_ENABLED", "false")
	t.Setenv("TELEMETRY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("WEB_BIND_ADDRESS", "127.0.0.1:8080")
	t.Setenv("WEB_USERNAME", "admin")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/data", cfg.DownloadDir)
	assert.Equal(t, 8, cfg.MaxConcurrent)
	assert.Equal(t, 90*time.Second, cfg.ReadTimeout)
	assert.Equal(t, int64(1048576), cfg.RateLimit)
	assert.Equal(t, 72*time.Hour, cfg.KeepDownloadedFor)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, "127.0.0.1:8080", cfg.Web.BindAddress)
	assert.Equal(t, "admin", cfg.Web.Username)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{name: "zero concurrency", key: "MAX_CONCURRENT", value: "0"},
		{name: "negative rate", key: "RATE_LIMIT", value: "-1"},
		{name: "bad duration", key: "SHUTDOWN_GRACE", value: "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := Config{LogLevel: tt.level}
			assert.Equal(t, tt.want, cfg.SlogLevel())
		})
	}
}
