package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "fern", cfg.AppName)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, 5432, cfg.DatabasePort)
	assert.Equal(t, 2*time.Second, cfg.StoreProbeTimeout)
	assert.Equal(t, 5*time.Minute, cfg.StepCacheTTL)
	assert.False(t, cfg.SchemaHealOnDrift)
	assert.True(t, cfg.FallbackEnabled)
	assert.True(t, cfg.DatabaseMigrationAutoRollback)
	assert.Equal(t, "pipeline-events", cfg.KafkaEventsTopic)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("SCHEMA_HEAL_ON_DRIFT", "true")
	t.Setenv("STORE_PROBE_TIMEOUT", "500ms")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.True(t, cfg.SchemaHealOnDrift)
	assert.Equal(t, 500*time.Millisecond, cfg.StoreProbeTimeout)
	assert.Equal(t, "a:9092,b:9092", cfg.KafkaBrokers)
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DB_NAME=fern_dotenv\nREDIS_PORT=6380\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("DB_NAME")
		os.Unsetenv("REDIS_PORT")
	})

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fern_dotenv", cfg.DatabaseName)
	assert.Equal(t, 6380, cfg.RedisPort)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("OTLP_PROTOCOL", "carrier-pigeon")

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "OTLP_PROTOCOL")
}

func TestLoad_UnparsableValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "int", key: "PORT", value: "abc"},
		{name: "bool", key: "FALLBACK_ENABLED", value: "maybe"},
		{name: "duration", key: "STEP_CACHE_TTL", value: "five minutes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
			assert.ErrorContains(t, err, "failed to parse config")
		})
	}
}
