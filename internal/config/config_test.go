package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenEnvEmpty(t *testing.T) {
	clearKnownEnv(t)

	cfg := Load()

	assert.Equal(t, Defaults().Port, cfg.Port)
	assert.Equal(t, "postgres", cfg.Store.VectorBackend)
	assert.Equal(t, 8, cfg.Ingestion.MaxParallelWrites)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	clearKnownEnv(t)
	t.Setenv("PORT", "9999")
	t.Setenv("STORE_VECTOR_BACKEND", "qdrant")
	t.Setenv("MAX_PARALLEL_WRITES", "16")
	t.Setenv("TIMEOUT_CONNECTOR_PULL", "90s")

	cfg := Load()

	require.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "qdrant", cfg.Store.VectorBackend)
	assert.Equal(t, 16, cfg.Ingestion.MaxParallelWrites)
	assert.Equal(t, "1m30s", cfg.Timeouts.ConnectorPull.String())
}

func clearKnownEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HOST", "PORT", "LOG_LEVEL", "LOG_PATH", "STORE_DSN", "STORE_VECTOR_BACKEND",
		"QDRANT_URL", "QDRANT_COLLECTION_PREFIX", "EMBEDDING_DEFAULT_PROVIDER",
		"EMBEDDING_LOCAL_BASE_URL", "EMBEDDING_REMOTE_API_KEY", "EMBEDDING_REMOTE_BASE_URL",
		"EMBEDDING_TIMEOUT", "TIMEOUT_CONNECTOR_PULL", "TIMEOUT_STORE_OP",
		"MAX_CONNECTOR_PAYLOAD_BYTES", "MAX_PARALLEL_WRITES", "RUN_ERROR_RETENTION_CEILING",
		"EVENTS_ENABLED", "EVENTS_KAFKA_BROKERS", "EVENTS_KAFKA_TOPIC", "CACHE_ENABLED",
		"CACHE_REDIS_ADDR", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SERVICE_NAME", "OTEL_INSECURE",
	} {
		require.NoError(t, os.Unsetenv(k))
	}
}
