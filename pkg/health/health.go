// Package health tracks the availability of package mirrors.
//
// The [Prober] owns a [Map] of [Record]s, one per source. Probes run in
// parallel up to [Policy.Concurrency], each bounded by [Policy.ProbeTimeout].
// The Map is handed explicitly to consumers such as the source selector;
// nothing in this package keeps package-level state.
//
// Status is derived, never stored independently:
//
//	DOWN      consecutive failures >= FailureThreshold
//	DEGRADED  last successful probe slower than DegradedLatency
//	HEALTHY   otherwise
package health

import (
	"time"
)

// Status is the health classification of a source.
type Status string

const (
	StatusUnknown  Status = ""
	StatusHealthy  Status = "HEALTHY"
	StatusDegraded Status = "DEGRADED"
	StatusDown     Status = "DOWN"
)

func (s Status) String() string {
	if s == StatusUnknown {
		return "UNKNOWN"
	}
	return string(s)
}

// Policy holds the tunables of health classification and probing.
type Policy struct {
	// FailureThreshold is the number of consecutive failures that marks a source DOWN.
	FailureThreshold int
	// DegradedLatency is the latency above which a reachable source is DEGRADED.
	DegradedLatency time.Duration
	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration
	// Concurrency caps parallel probes.
	Concurrency int
	// Freshness is how long probe results are trusted before re-probing.
	Freshness time.Duration
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		FailureThreshold: 3,
		DegradedLatency:  2 * time.Second,
		ProbeTimeout:     3 * time.Second,
		Concurrency:      8,
		Freshness:        5 * time.Minute,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = d.FailureThreshold
	}
	if p.DegradedLatency <= 0 {
		p.DegradedLatency = d.DegradedLatency
	}
	if p.ProbeTimeout <= 0 {
		p.ProbeTimeout = d.ProbeTimeout
	}
	if p.Concurrency <= 0 {
		p.Concurrency = d.Concurrency
	}
	if p.Freshness <= 0 {
		p.Freshness = d.Freshness
	}
	return p
}

// Status classifies r under p.
func (p Policy) Status(r Record) Status {
	switch {
	case r.ConsecutiveFailures >= p.FailureThreshold:
		return StatusDown
	case r.LatencyMS != nil && time.Duration(*r.LatencyMS)*time.Millisecond > p.DegradedLatency:
		return StatusDegraded
	}
	return StatusHealthy
}

// Record is the health state of one source.
type Record struct {
	Source              string    `json:"source"`
	LastProbe           time.Time `json:"last_probe_time"`
	LatencyMS           *int64    `json:"latency_ms"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Status              Status    `json:"status"`
	LastError           string    `json:"last_error,omitempty"`
	Successes           int       `json:"successes"`
	Failures            int       `json:"failures"`
}

// Latency returns the last successful probe latency, if any.
func (r Record) Latency() (time.Duration, bool) {
	if r.LatencyMS == nil {
		return 0, false
	}
	return time.Duration(*r.LatencyMS) * time.Millisecond, true
}

// Down reports whether the record is DOWN.
func (r Record) Down() bool { return r.Status == StatusDown }
