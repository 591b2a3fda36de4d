package graphstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"knowgraph/internal/kgerrors"
)

// originalIDField names a payload key for the (kb_id, label, key_value,
// chunk_index) tuple a Qdrant point was derived from. ReplaceChunks does not
// write it: points carry node_label, node_key and chunk_index as separate
// payload fields, and their UUID point IDs come from chunkPointID.
const originalIDField = "_kg_chunk_ref"

// QdrantVectors is the pluggable dedicated vector backend: chunk vectors and
// their owning-node identity live in Qdrant collections (one per KB),
// while nodes/edges/graph queries still live in Postgres. Pair with
// Hybrid to get a full GraphDB.
type QdrantVectors struct {
	client           *qdrant.Client
	collectionPrefix string
}

// NewQdrantVectors dials qdrantURL (its gRPC port, 6334 by default). An
// "api_key" query parameter on the URL is forwarded as the client API key.
func NewQdrantVectors(qdrantURL, collectionPrefix string) (*QdrantVectors, error) {
	parsed, err := url.Parse(qdrantURL)
	if err != nil {
		return nil, fmt.Errorf("graphstore: parse qdrant url: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("graphstore: invalid qdrant port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("graphstore: create qdrant client: %w", err)
	}
	return &QdrantVectors{client: client, collectionPrefix: collectionPrefix}, nil
}

func (q *QdrantVectors) collectionName(kbID string) string {
	return q.collectionPrefix + kbID
}

// EnsureCollection creates kbID's collection sized to dim with the given
// distance metric if it does not already exist.
func (q *QdrantVectors) EnsureCollection(ctx context.Context, kbID string, dim int, metric string) error {
	name := q.collectionName(kbID)
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return kgerrors.Op("graphstore.EnsureCollection", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	if exists {
		return nil
	}
	var distance qdrant.Distance
	switch strings.ToLower(metric) {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	default:
		distance = qdrant.Distance_Cosine
	}
	if dim <= 0 {
		return kgerrors.Op("graphstore.EnsureCollection", fmt.Errorf("%w: dimension must be > 0", kgerrors.ErrSchemaInvalid))
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig:  qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: uint64(dim), Distance: distance}),
	})
	if err != nil {
		return kgerrors.Op("graphstore.EnsureCollection", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	return nil
}

func chunkPointID(node Identity, chunkIndex int) string {
	raw := fmt.Sprintf("%s/%s/%s/%d", node.KBID, node.Label, node.KeyValue, chunkIndex)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(raw)).String()
}

// ReplaceChunks deletes every point belonging to node and re-inserts chunks.
func (q *QdrantVectors) ReplaceChunks(ctx context.Context, node Identity, chunks []Chunk, prov Provenance) error {
	name := q.collectionName(node.KBID)
	filter := &qdrant.Filter{Must: []*qdrant.Condition{
		qdrant.NewMatch("node_label", node.Label),
		qdrant.NewMatch("node_key", node.KeyValue),
	}}
	if _, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points:         qdrant.NewPointsSelectorFilter(filter),
	}); err != nil {
		return kgerrors.Op("graphstore.ReplaceChunks", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	if len(chunks) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		vec := make([]float32, len(c.Vector))
		copy(vec, c.Vector)
		payload := qdrant.NewValueMap(map[string]any{
			"node_label":  node.Label,
			"node_key":    node.KeyValue,
			"text":        c.Text,
			"chunk_index": c.ChunkIndex,
			"source_id":   prov.SourceID,
			"run_id":      prov.RunID,
		})
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(chunkPointID(node, c.ChunkIndex)),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: payload,
		})
	}
	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: name, Points: points}); err != nil {
		return kgerrors.Op("graphstore.ReplaceChunks", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	return nil
}

func (q *QdrantVectors) VectorSearch(ctx context.Context, kbID string, query []float32, topK int, labelFilter string) ([]VectorHit, error) {
	if topK <= 0 {
		topK = 10
	}
	vec := make([]float32, len(query))
	copy(vec, query)
	var filter *qdrant.Filter
	if labelFilter != "" {
		filter = &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("node_label", labelFilter)}}
	}
	limit := uint64(topK)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collectionName(kbID),
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, kgerrors.Op("graphstore.VectorSearch", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	hits := make([]VectorHit, 0, len(results))
	for _, hit := range results {
		var label, key, snippet string
		if hit.Payload != nil {
			if v, ok := hit.Payload["node_label"]; ok {
				label = v.GetStringValue()
			}
			if v, ok := hit.Payload["node_key"]; ok {
				key = v.GetStringValue()
			}
			if v, ok := hit.Payload["text"]; ok {
				snippet = v.GetStringValue()
			}
		}
		hits = append(hits, VectorHit{
			NodeIdentity: Identity{KBID: kbID, Label: label, KeyValue: key},
			Score:        float64(hit.Score),
			Snippet:      snippet,
		})
	}
	return hits, nil
}

func (q *QdrantVectors) Close() error { return q.client.Close() }
