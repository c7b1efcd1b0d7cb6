package middleware

import (
	"context"
	"time"

	"github.com/mcpanvil/core/internal/protocol"
)

// Recorder is the narrow interface the monitoring stage needs from
// internal/monitoring (kept here, rather than importing that package
// directly, so middleware has no dependency on the metrics/alerting
// stack — only on the shape it records against).
type Recorder interface {
	ObserveRequest(method string, outcome string, duration time.Duration)
}

// NoopRecorder discards everything; used when monitoring isn't wired.
type NoopRecorder struct{}

func (NoopRecorder) ObserveRequest(string, string, time.Duration) {}

// MonitoringStage records counters and latency histograms indexed by
// method and outcome (spec §4.6). It is a post-stage only: the start time
// it measures from is set by Pipeline.Run, and it records the observation
// once dispatch has finished or a pre-stage short-circuited.
type MonitoringStage struct {
	recorder Recorder
}

// NewMonitoringStage builds a MonitoringStage over recorder. A nil
// recorder is replaced with NoopRecorder.
func NewMonitoringStage(recorder Recorder) *MonitoringStage {
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	return &MonitoringStage{recorder: recorder}
}

// Observe implements PostStage.
func (m *MonitoringStage) Observe(_ context.Context, rc *RequestContext, outcomeErr *protocol.Error) {
	outcome := "success"
	if outcomeErr != nil {
		outcome = "error"
	}
	duration := time.Duration(0)
	if !rc.StartTime.IsZero() {
		duration = time.Since(rc.StartTime)
	}
	m.recorder.ObserveRequest(rc.Request.Method, outcome, duration)
}

var _ PostStage = (*MonitoringStage)(nil)
