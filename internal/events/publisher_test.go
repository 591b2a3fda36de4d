package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"knowgraph/internal/config"
	"knowgraph/internal/runtracker"
)

func TestNilPublisher_MethodsAreNoOps(t *testing.T) {
	var p *Publisher
	assert.NoError(t, p.Publish(nil, RunEvent{RunID: "run-1", Status: runtracker.StatusCompleted, Timestamp: time.Now()}))
	assert.NotPanics(t, func() { p.Close() })
}

func TestNew_DisabledReturnsNilPublisher(t *testing.T) {
	p, err := New(config.EventsConfig{Enabled: false})
	assert.NoError(t, err)
	assert.Nil(t, p)
}
