package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics is a thin, lazily-instrumented adapter over the global OTel meter.
// Call sites reach it through the package-level IncCounter/ObserveHistogram
// helpers, which are safe to call even before Init (they resolve whatever
// meter provider is currently installed, no-op or real).
type Metrics struct {
	mu         sync.RWMutex
	meter      metric.Meter
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

var defaultMetrics = &Metrics{
	meter:      otel.Meter("knowgraph"),
	counters:   make(map[string]metric.Int64Counter),
	histograms: make(map[string]metric.Float64Histogram),
}

// Metric names emitted around a run and around retrieval calls.
const (
	MetricIngestionDocsTotal = "ingestion_docs_total"
	MetricIngestionStageMS   = "ingestion_stage_ms"
	MetricRetrievalStageMS   = "retrieval_stage_ms"
)

// IncCounter increments the named counter by delta, tagged with labels.
func IncCounter(name string, delta int64, labels map[string]string) {
	defaultMetrics.incCounter(name, delta, labels)
}

// ObserveHistogram records value under the named histogram, tagged with labels.
func ObserveHistogram(name string, value float64, labels map[string]string) {
	defaultMetrics.observeHistogram(name, value, labels)
}

func (m *Metrics) incCounter(name string, delta int64, labels map[string]string) {
	c, ok := m.getCounter(name)
	if !ok {
		return
	}
	c.Add(context.Background(), delta, metric.WithAttributes(toAttrs(labels)...))
}

func (m *Metrics) observeHistogram(name string, value float64, labels map[string]string) {
	h, ok := m.getHistogram(name)
	if !ok {
		return
	}
	h.Record(context.Background(), value, metric.WithAttributes(toAttrs(labels)...))
}

func (m *Metrics) getCounter(name string) (metric.Int64Counter, bool) {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if ok {
		return c, true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.counters[name]; ok {
		return c, true
	}
	ctr, err := m.meter.Int64Counter(name)
	if err != nil {
		return ctr, false
	}
	m.counters[name] = ctr
	return ctr, true
}

func (m *Metrics) getHistogram(name string) (metric.Float64Histogram, bool) {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()
	if ok {
		return h, true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok = m.histograms[name]; ok {
		return h, true
	}
	hist, err := m.meter.Float64Histogram(name)
	if err != nil {
		return hist, false
	}
	m.histograms[name] = hist
	return hist, true
}

func toAttrs(labels map[string]string) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		out = append(out, attribute.String(k, v))
	}
	return out
}
