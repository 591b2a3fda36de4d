package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load resolves Config from environment variables, optionally seeded by a
// .env file in the working directory, layered over Defaults():
// read-env-then-apply-defaults, never fatal on a missing .env.
func Load() Config {
	_ = godotenv.Overload()

	cfg := Defaults()

	if v := getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v, ok := getenvInt("PORT"); ok {
		cfg.Port = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("LOG_PATH"); v != "" {
		cfg.LogPath = v
	}
	if v := getenv("SCHEMA_DIR"); v != "" {
		cfg.SchemaDir = v
	}

	if v := getenv("STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := getenv("STORE_VECTOR_BACKEND"); v != "" {
		cfg.Store.VectorBackend = strings.ToLower(v)
	}
	if v := getenv("QDRANT_URL"); v != "" {
		cfg.Store.QdrantURL = v
	}
	if v := getenv("QDRANT_COLLECTION_PREFIX"); v != "" {
		cfg.Store.QdrantCollectionPrefix = v
	}

	if v := getenv("EMBEDDING_DEFAULT_PROVIDER"); v != "" {
		cfg.Embedding.DefaultProviderID = v
	}
	if v := getenv("EMBEDDING_LOCAL_BASE_URL"); v != "" {
		cfg.Embedding.LocalBaseURL = v
	}
	if v := getenv("EMBEDDING_REMOTE_API_KEY"); v != "" {
		cfg.Embedding.RemoteAPIKey = v
	}
	if v := getenv("EMBEDDING_REMOTE_BASE_URL"); v != "" {
		cfg.Embedding.RemoteBaseURL = v
	}
	if v, ok := getenvDuration("EMBEDDING_TIMEOUT"); ok {
		cfg.Embedding.Timeout = v
	}

	if v, ok := getenvDuration("TIMEOUT_CONNECTOR_PULL"); ok {
		cfg.Timeouts.ConnectorPull = v
	}
	if v, ok := getenvDuration("TIMEOUT_STORE_OP"); ok {
		cfg.Timeouts.StoreOp = v
	}

	if v, ok := getenvInt64("MAX_CONNECTOR_PAYLOAD_BYTES"); ok {
		cfg.Ingestion.MaxConnectorPayloadBytes = v
	}
	if v, ok := getenvInt("MAX_PARALLEL_WRITES"); ok {
		cfg.Ingestion.MaxParallelWrites = v
	}
	if v, ok := getenvInt("RUN_ERROR_RETENTION_CEILING"); ok {
		cfg.Ingestion.RunErrorRetentionCeiling = v
	}

	if v, ok := getenvBool("EVENTS_ENABLED"); ok {
		cfg.Events.Enabled = v
	}
	if v := getenv("EVENTS_KAFKA_BROKERS"); v != "" {
		cfg.Events.Brokers = strings.Split(v, ",")
	}
	if v := getenv("EVENTS_KAFKA_TOPIC"); v != "" {
		cfg.Events.Topic = v
	}

	if v, ok := getenvBool("CACHE_ENABLED"); ok {
		cfg.Cache.Enabled = v
	}
	if v := getenv("CACHE_REDIS_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}

	if v := getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTelEndpoint = v
	}
	if v := getenv("OTEL_SERVICE_NAME"); v != "" {
		cfg.OTelServiceName = v
	}
	if v, ok := getenvBool("OTEL_INSECURE"); ok {
		cfg.OTelInsecure = v
	}

	return cfg
}

func getenv(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func getenvInt(key string) (int, bool) {
	v := getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func getenvInt64(key string) (int64, bool) {
	v := getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func getenvBool(key string) (bool, bool) {
	v := getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func getenvDuration(key string) (time.Duration, bool) {
	v := getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
