// Package events publishes run lifecycle events to Kafka for external
// status consumers, best-effort: a publish failure never fails a run.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"knowgraph/internal/config"
	"knowgraph/internal/runtracker"
)

// RunEvent mirrors one Run Tracker state transition.
type RunEvent struct {
	KBID       string            `json:"kb_id"`
	SourceID   string            `json:"source_id"`
	RunID      string            `json:"run_id"`
	Status     runtracker.Status `json:"status"`
	DocsTotal  int64             `json:"docs_processed"`
	NodesTotal int64             `json:"nodes_upserted"`
	EdgesTotal int64             `json:"edges_upserted"`
	LastError  string            `json:"last_error,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Publisher writes RunEvents to a Kafka topic. Every method is a safe no-op
// on a nil Publisher (events disabled).
type Publisher struct {
	writer *kafka.Writer
}

// New builds a Publisher when cfg.Enabled. Returns nil, nil when disabled.
func New(cfg config.EventsConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	return &Publisher{writer: writer}, nil
}

// Publish writes ev to the configured topic, keyed by run_id.
func (p *Publisher) Publish(ctx context.Context, ev RunEvent) error {
	if p == nil || p.writer == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{Key: []byte(ev.RunID), Value: payload, Time: time.Now()}
	return p.writer.WriteMessages(ctx, msg)
}

// Close shuts down the underlying writer.
func (p *Publisher) Close() {
	if p == nil || p.writer == nil {
		return
	}
	if err := p.writer.Close(); err != nil {
		log.Warn().Err(err).Msg("events_writer_close_failed")
	}
}
