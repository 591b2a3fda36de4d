package ingest

import (
	"context"
	"strconv"
	"sync"
	"time"

	"knowgraph/internal/runtracker"
)

// fakeTracker is an in-memory RunTracker double, mirroring
// graphstore.Memory's style, so the coordinator can be tested without a
// live Postgres instance.
type fakeTracker struct {
	mu      sync.Mutex
	nextID  int
	runs    map[string]*runtracker.Run
	started []string
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{runs: make(map[string]*runtracker.Run)}
}

func (f *fakeTracker) Start(_ context.Context, kbID, sourceID string, startedAt time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	runID := "run-" + strconv.Itoa(f.nextID)
	f.runs[runID] = &runtracker.Run{KBID: kbID, SourceID: sourceID, RunID: runID, Status: runtracker.StatusStarting, StartedAt: startedAt}
	f.started = append(f.started, runID)
	return runID, nil
}

func (f *fakeTracker) MarkRunning(_ context.Context, kbID, sourceID, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[runID].Status = runtracker.StatusRunning
	return nil
}

func (f *fakeTracker) RecordDocument(_ context.Context, kbID, sourceID, runID string, nodes, edges int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.runs[runID]
	r.DocsProcessed++
	r.NodesUpserted += nodes
	r.EdgesUpserted += edges
	return nil
}

func (f *fakeTracker) RecordError(_ context.Context, kbID, sourceID, runID string, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.runs[runID]
	r.ErrorCount++
	r.Errors = append(r.Errors, msg)
	r.LastError = msg
	return nil
}

func (f *fakeTracker) Complete(_ context.Context, kbID, sourceID, runID string, status runtracker.Status, lastErr error, finishedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.runs[runID]
	r.Status = status
	r.FinishedAt = finishedAt
	if lastErr != nil {
		r.LastError = lastErr.Error()
	}
	return nil
}

func (f *fakeTracker) get(runID string) runtracker.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.runs[runID]
}

