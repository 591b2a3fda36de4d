// Package cache provides the optional Redis-backed query-embedding cache
// and the distributed per-(kb_id, source_id) ingestion lock.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"knowgraph/internal/config"
)

// QueryEmbeddingCache memoizes semantic_search query-text embeddings so
// repeated searches for the same (kb_id, provider_id, text) skip a round
// trip to the Embedding Provider. Returns nil from New when disabled; every
// method is a safe no-op on a nil receiver.
type QueryEmbeddingCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// New builds a QueryEmbeddingCache from cfg. Returns nil, nil when disabled.
func New(cfg config.CacheConfig, ttl time.Duration) (*QueryEmbeddingCache, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &QueryEmbeddingCache{client: client, ttl: ttl}, nil
}

func (c *QueryEmbeddingCache) key(kbID, providerID, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("kgraph:emb:%s:%s:%x", kbID, providerID, sum)
}

// Get returns a cached query vector, if present.
func (c *QueryEmbeddingCache) Get(ctx context.Context, kbID, providerID, text string) ([]float32, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	key := c.key(kbID, providerID, text)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("cache_query_embedding_get_error")
		}
		return nil, false
	}
	vec, err := decodeVector(raw)
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("cache_query_embedding_decode_error")
		return nil, false
	}
	return vec, true
}

// Set caches a query vector.
func (c *QueryEmbeddingCache) Set(ctx context.Context, kbID, providerID, text string, vec []float32) {
	if c == nil || c.client == nil {
		return
	}
	key := c.key(kbID, providerID, text)
	if err := c.client.Set(ctx, key, encodeVector(vec), c.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("cache_query_embedding_set_error")
	}
}

// Close closes the underlying Redis client, if any.
func (c *QueryEmbeddingCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.BigEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("cache: malformed vector encoding (%d bytes)", len(raw))
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.BigEndian.Uint32(raw[i*4:]))
	}
	return vec, nil
}

// IngestLock is the distributed per-(kb_id, source_id) mutex that gates
// ingest re-entry across process instances, layered above the coordinator's
// in-process singleflight so a second instance can't start a duplicate run.
type IngestLock struct {
	client redis.UniversalClient
}

// NewIngestLock builds an IngestLock from cfg. Returns nil, nil when disabled.
func NewIngestLock(cfg config.CacheConfig) (*IngestLock, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}
	return &IngestLock{client: client}, nil
}

func (l *IngestLock) key(kbID, sourceID string) string {
	return "kgraph:lock:" + kbID + ":" + sourceID
}

// Acquire attempts to take the lock for (kbID, sourceID), holding it at
// most ttl. A nil receiver always acquires (lock disabled).
func (l *IngestLock) Acquire(ctx context.Context, kbID, sourceID, runID string, ttl time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return true, nil
	}
	return l.client.SetNX(ctx, l.key(kbID, sourceID), runID, ttl).Result()
}

// Release drops the lock if it is currently held by runID.
func (l *IngestLock) Release(ctx context.Context, kbID, sourceID, runID string) error {
	if l == nil || l.client == nil {
		return nil
	}
	key := l.key(kbID, sourceID)
	held, err := l.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return err
	}
	if held != runID {
		return nil
	}
	return l.client.Del(ctx, key).Err()
}
