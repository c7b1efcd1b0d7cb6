// Package monitoring implements C10: counters and latency histograms
// recorded off the middleware pipeline's monitoring stage, an
// OpenTelemetry tracer wrapping each request, and a CEL-based alert-rule
// evaluator that reads periodic metrics snapshots (spec §4.10: "not part
// of the hot-path correctness surface... pluggable rule evaluator that
// reads snapshots on an interval").
package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds the Prometheus instrumentation for one server instance,
// mirroring the teacher's adapter-level Metrics struct but indexed by
// outcome rather than HTTP status (spec §4.6's monitoring stage records
// "counters and latency histograms indexed by method and outcome").
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveSessions  prometheus.Gauge
	TransportQuirks prometheus.Counter

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewMetrics creates and registers the core metric set with reg. A nil
// reg registers against prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpanvil",
				Name:      "requests_total",
				Help:      "Total number of JSON-RPC requests processed, by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mcpanvil",
				Name:      "request_duration_seconds",
				Help:      "Request handling latency in seconds, by method.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ActiveSessions: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mcpanvil",
				Name:      "active_sessions",
				Help:      "Number of live sessions known to the session manager.",
			},
		),
		TransportQuirks: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "mcpanvil",
				Name:      "httpsse_fallback_publishes_total",
				Help:      "Count of responses published via the any-active-session SSE fallback quirk.",
			},
		),
		lastSeen: make(map[string]time.Time),
	}
}

// ObserveRequest implements middleware.Recorder.
func (m *Metrics) ObserveRequest(method string, outcome string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, outcome).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(duration.Seconds())

	m.mu.Lock()
	m.lastSeen[method] = time.Now()
	m.mu.Unlock()
}

// LastSeen reports when method was last observed, for a liveness check
// that wants to know whether traffic for a given method has gone quiet.
func (m *Metrics) LastSeen(method string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.lastSeen[method]
	return t, ok
}

// SetActiveSessions reports the current live session count.
func (m *Metrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}

// RecordTransportQuirk increments the SSE fallback-publish counter
// (spec §4.8's "documented quirk for certain inspectors... count its
// occurrences").
func (m *Metrics) RecordTransportQuirk() {
	m.TransportQuirks.Inc()
}

// Snapshot reads every registered counter/gauge value into a flat
// string-keyed map for the alert-rule evaluator (spec §4.10
// "snapshotting"). Histograms contribute their sample count and sum,
// matching how an operator would phrase a latency-budget rule
// (request_duration_seconds_sum / request_duration_seconds_count).
func (m *Metrics) Snapshot() map[string]float64 {
	out := make(map[string]float64)
	collectVec(out, "requests_total", m.RequestsTotal)
	collectHistogramVec(out, "request_duration_seconds", m.RequestDuration)
	collectGauge(out, "active_sessions", m.ActiveSessions)
	collectCounter(out, "httpsse_fallback_publishes_total", m.TransportQuirks)
	return out
}

func collectVec(out map[string]float64, name string, vec *prometheus.CounterVec) {
	ch := make(chan prometheus.Metric, 64)
	go func() { vec.Collect(ch); close(ch) }()
	for metric := range ch {
		var pb dto.Metric
		if err := metric.Write(&pb); err != nil {
			continue
		}
		out[flatKey(name, pb.GetLabel())] = pb.GetCounter().GetValue()
	}
}

func collectHistogramVec(out map[string]float64, name string, vec *prometheus.HistogramVec) {
	ch := make(chan prometheus.Metric, 64)
	go func() { vec.Collect(ch); close(ch) }()
	for metric := range ch {
		var pb dto.Metric
		if err := metric.Write(&pb); err != nil {
			continue
		}
		h := pb.GetHistogram()
		labels := pb.GetLabel()
		out[flatKey(name+"_sum", labels)] = h.GetSampleSum()
		out[flatKey(name+"_count", labels)] = float64(h.GetSampleCount())
	}
}

func collectGauge(out map[string]float64, name string, g prometheus.Gauge) {
	var pb dto.Metric
	if err := g.Write(&pb); err == nil {
		out[name] = pb.GetGauge().GetValue()
	}
}

func collectCounter(out map[string]float64, name string, c prometheus.Counter) {
	var pb dto.Metric
	if err := c.Write(&pb); err == nil {
		out[name] = pb.GetCounter().GetValue()
	}
}

// flatKey turns a metric name plus its label pairs into a single snapshot
// key, e.g. requests_total{method="ping",outcome="success"} becomes
// "requests_total_method_ping_outcome_success". CEL rule expressions
// address it by that flattened key.
func flatKey(name string, labels []*dto.LabelPair) string {
	key := name
	for _, l := range labels {
		key += "_" + l.GetName() + "_" + sanitize(l.GetValue())
	}
	return key
}

func sanitize(v string) string {
	out := make([]byte, 0, len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "empty"
	}
	return string(out)
}
