package engine

import (
	"time"

	"github.com/davan/docplan/internal/observability"
)

// CapabilityEvent records the outcome of a single capability branch: one
// concrete call shape tried against the host while executing an operation.
// Refusals are as interesting as successes; the aggregate of these events is
// what tells us which hosts actually support which surfaces in the field.
type CapabilityEvent struct {
	Host      string        `json:"host"`
	Op        string        `json:"op"`
	Branch    string        `json:"branch"`
	Fallback  bool          `json:"fallback"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ms"`
	Timestamp time.Time     `json:"timestamp"`
}

// CapabilitySink receives capability events as they happen. Implementations
// must be cheap and non-blocking; the engine calls them inline.
type CapabilitySink interface {
	RecordCapability(ev CapabilityEvent)
}

// CapabilitySinkFunc adapts a function to the CapabilitySink interface.
type CapabilitySinkFunc func(ev CapabilityEvent)

func (f CapabilitySinkFunc) RecordCapability(ev CapabilityEvent) {
	f(ev)
}

type nopCapabilitySink struct{}

func (nopCapabilitySink) RecordCapability(CapabilityEvent) {}

// capabilityReporter fans events out to the configured sink and the metric
// series. Telemetry must never break execution, so every emit is guarded.
type capabilityReporter struct {
	host string
	sink CapabilitySink
}

func newCapabilityReporter(hostName string, sink CapabilitySink) *capabilityReporter {
	if sink == nil {
		sink = nopCapabilitySink{}
	}
	return &capabilityReporter{host: hostName, sink: sink}
}

func (r *capabilityReporter) record(op, branch string, fallback, success bool, errMsg string, took time.Duration) {
	defer func() {
		_ = recover()
	}()

	observability.RecordCapabilityAttempt(r.host, op, branch, success, fallback)
	r.sink.RecordCapability(CapabilityEvent{
		Host:      r.host,
		Op:        op,
		Branch:    branch,
		Fallback:  fallback,
		Success:   success,
		Error:     errMsg,
		Duration:  took,
		Timestamp: time.Now(),
	})
}
