package health

import (
	"maps"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Map holds one [Record] per source key ("kind/name").
//
// A single mutex guards every mutation. Reads return copies, so callers can
// hold on to a Record without racing the prober.
type Map struct {
	mu      sync.RWMutex
	policy  Policy
	clock   clock.Clock
	records map[string]Record
}

// NewMap creates an empty Map. A nil clk uses the wall clock.
func NewMap(policy Policy, clk clock.Clock) *Map {
	if clk == nil {
		clk = clock.New()
	}
	return &Map{
		policy:  policy.normalized(),
		clock:   clk,
		records: make(map[string]Record),
	}
}

// Policy returns the thresholds used to classify records.
func (m *Map) Policy() Policy { return m.policy }

// Get returns the record for key.
func (m *Map) Get(key string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[key]
	return r, ok
}

// Status returns the status for key, or [StatusUnknown] if never probed.
func (m *Map) Status(key string) Status {
	r, _ := m.Get(key)
	return r.Status
}

// Snapshot returns a copy of every record.
func (m *Map) Snapshot() map[string]Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.records)
}

// Records returns every record as a slice.
func (m *Map) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out
}

// Seed installs records loaded from a [Store] or built by tests. Status is
// recomputed under the Map's policy.
func (m *Map) Seed(records ...Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if r.Source == "" {
			continue
		}
		r.Status = m.policy.Status(r)
		m.records[r.Source] = r
	}
}

// Reset forgets the record for key. Used when a source is removed.
func (m *Map) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
}

// RecordSuccess stores a successful probe of key that took latency.
func (m *Map) RecordSuccess(key string, latency time.Duration) Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.records[key]
	r.Source = key
	r.LastProbe = m.clock.Now()
	ms := latency.Milliseconds()
	r.LatencyMS = &ms
	r.ConsecutiveFailures = 0
	r.LastError = ""
	r.Successes++
	r.Status = m.policy.Status(r)
	m.records[key] = r
	return r
}

// RecordFailure stores a failed or timed out probe of key.
func (m *Map) RecordFailure(key string, err error) Record {
	return m.fail(key, err, true)
}

// MarkFailure counts a failure observed outside the probe cycle, typically
// by the installer. LastProbe is left alone so freshness still reflects the
// last real probe.
func (m *Map) MarkFailure(key string, err error) Record {
	return m.fail(key, err, false)
}

func (m *Map) fail(key string, err error, probed bool) Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.records[key]
	r.Source = key
	if probed {
		r.LastProbe = m.clock.Now()
	}
	r.ConsecutiveFailures++
	r.Failures++
	if err != nil {
		r.LastError = err.Error()
	}
	r.Status = m.policy.Status(r)
	m.records[key] = r
	return r
}
