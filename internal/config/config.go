// Package config loads process configuration from environment variables
// (optionally seeded by a .env file), scoped to the ingestion/query
// orchestrator's knobs.
package config

import "time"

// StoreConfig describes how to reach the graph store.
type StoreConfig struct {
	// DSN is the Postgres connection string backing nodes/edges/runs and,
	// when VectorBackend=="postgres", chunk vectors too.
	DSN string
	// VectorBackend selects where chunk vectors live: "postgres" (pgvector
	// column on the same DSN) or "qdrant" (dedicated vector DB).
	VectorBackend string
	// QdrantURL is read when VectorBackend=="qdrant", e.g. "http://host:6334".
	QdrantURL string
	// QdrantCollectionPrefix namespaces Qdrant collections per KB.
	QdrantCollectionPrefix string
}

// EmbeddingConfig holds embedding provider settings and the HTTP behavior of
// provider clients.
type EmbeddingConfig struct {
	// DefaultProviderID is loaded from the environment but no component reads
	// it: a schema with an empty embedding.provider_id gets no chunks or vectors.
	DefaultProviderID string
	// LocalBaseURL is the local subprocess-style embedding endpoint base URL.
	LocalBaseURL string
	// RemoteAPIKey is the bearer token for the remote cloud embedding provider.
	RemoteAPIKey string
	// RemoteBaseURL overrides the remote provider's API base (useful for proxies).
	RemoteBaseURL string
	// Timeout bounds a single embedding batch call (default 30s).
	Timeout time.Duration
}

// TimeoutConfig holds the per-operation timeouts the orchestrator enforces.
// Embedding call timeouts are configured separately via
// EmbeddingConfig.Timeout, since that value must also be available to the
// embedding providers themselves (local.go, remote.go) independent of this
// struct.
type TimeoutConfig struct {
	ConnectorPull time.Duration // default 60s
	StoreOp       time.Duration // default 15s
}

// IngestionConfig holds the throughput/memory knobs for a run.
type IngestionConfig struct {
	// MaxConnectorPayloadBytes guards memory against a runaway connector.
	MaxConnectorPayloadBytes int64
	// MaxParallelWrites bounds the worker pool size for the write step.
	MaxParallelWrites int
	// RunErrorRetentionCeiling bounds how many per-document errors a run retains verbatim.
	RunErrorRetentionCeiling int
}

// EventsConfig configures the optional Kafka run-event publisher.
type EventsConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// CacheConfig configures the optional Redis-backed query-embedding cache and
// distributed per-(kb,source) ingestion lock.
type CacheConfig struct {
	Enabled bool
	Addr    string
}

// Config is the fully resolved process configuration.
type Config struct {
	Host     string
	Port     int
	LogLevel string
	LogPath  string
	// SchemaDir, when non-empty, is scanned at startup for *.yaml/*.yml
	// knowledge-base schema files to register before the server starts
	// accepting requests.
	SchemaDir string

	Store     StoreConfig
	Embedding EmbeddingConfig
	Timeouts  TimeoutConfig
	Ingestion IngestionConfig
	Events    EventsConfig
	Cache     CacheConfig

	OTelEndpoint    string
	OTelServiceName string
	OTelInsecure    bool
}

// Defaults returns the orchestrator's baseline configuration values.
func Defaults() Config {
	return Config{
		Host:     "0.0.0.0",
		Port:     8088,
		LogLevel: "info",
		Store: StoreConfig{
			VectorBackend: "postgres",
		},
		Embedding: EmbeddingConfig{
			DefaultProviderID: "local:nomic-embed-text-v1.5",
			Timeout:           30 * time.Second,
		},
		Timeouts: TimeoutConfig{
			ConnectorPull: 60 * time.Second,
			StoreOp:       15 * time.Second,
		},
		Ingestion: IngestionConfig{
			MaxConnectorPayloadBytes: 64 << 20, // 64MiB
			MaxParallelWrites:        8,
			RunErrorRetentionCeiling: 100,
		},
		OTelServiceName: "kgraphd",
	}
}
