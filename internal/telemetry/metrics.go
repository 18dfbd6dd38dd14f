// Package telemetry exposes the daemon's gateway and session counters for
// scrape (Prometheus) and traces (OTel), behind a tiny chi-routed healthz/
// metrics HTTP mux — the daemon's only HTTP surface; the control plane
// itself stays on the Unix socket (internal/ipc).
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"cyberredd/internal/llm"
)

// Metrics holds every Prometheus collector the daemon registers, plus an
// OTel meter handle on which no instruments are registered.
type Metrics struct {
	registry *prometheus.Registry

	engagementsActive   prometheus.Gauge
	engagementsTotal     *prometheus.CounterVec
	scopeDecisions       *prometheus.CounterVec
	killSwitchTriggers   prometheus.Counter
	checkpointSaves      *prometheus.CounterVec
	llmRequestsTotal     *prometheus.CounterVec
	llmRetries           prometheus.Counter
	llmQueueDepth        prometheus.Gauge
	llmLatencySeconds    prometheus.Histogram

	tracer trace.Tracer
	meter  metric.Meter

	lastGateway llm.Metrics // snapshot at the previous SampleGateway call
}

func New(tracerProvider *sdktrace.TracerProvider) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		engagementsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cyberredd", Name: "engagements_active",
			Help: "Number of engagements currently in an active state.",
		}),
		engagementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyberredd", Name: "engagements_total",
			Help: "Engagement lifecycle transitions by resulting state.",
		}, []string{"state"}),
		scopeDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyberredd", Name: "scope_decisions_total",
			Help: "Scope validator decisions by outcome.",
		}, []string{"decision"}),
		killSwitchTriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cyberredd", Name: "killswitch_triggers_total",
			Help: "Number of times the kill switch has been triggered.",
		}),
		checkpointSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyberredd", Name: "checkpoint_saves_total",
			Help: "Checkpoint store saves by outcome.",
		}, []string{"outcome"}),
		llmRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyberredd", Name: "llm_requests_total",
			Help: "LLM gateway requests by outcome.",
		}, []string{"outcome"}),
		llmRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cyberredd", Name: "llm_retries_total",
			Help: "LLM gateway retry attempts.",
		}),
		llmQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cyberredd", Name: "llm_queue_depth",
			Help: "Current depth of the LLM gateway priority queue.",
		}),
		llmLatencySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cyberredd", Name: "llm_request_duration_seconds",
			Help:    "LLM gateway request latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		m.engagementsActive, m.engagementsTotal, m.scopeDecisions,
		m.killSwitchTriggers, m.checkpointSaves, m.llmRequestsTotal,
		m.llmRetries, m.llmQueueDepth, m.llmLatencySeconds,
	)

	if tracerProvider != nil {
		m.tracer = tracerProvider.Tracer("cyberredd")
	} else {
		m.tracer = otel.Tracer("cyberredd")
	}
	m.meter = otel.Meter("cyberredd")

	return m
}

func (m *Metrics) Tracer() trace.Tracer { return m.tracer }

func (m *Metrics) SetEngagementsActive(n int) { m.engagementsActive.Set(float64(n)) }

func (m *Metrics) RecordEngagementTransition(state string) {
	m.engagementsTotal.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordScopeDecision(decision string) {
	m.scopeDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) RecordKillSwitchTrigger() { m.killSwitchTriggers.Inc() }

func (m *Metrics) RecordCheckpointSave(outcome string) {
	m.checkpointSaves.WithLabelValues(outcome).Inc()
}

// SampleGateway snapshots the gateway's counters into Prometheus, adding
// the change since the previous call. Called on a schedule rather than
// wired per-request, since llm.Gateway already owns its own atomic counters.
func (m *Metrics) SampleGateway(ctx context.Context, g *llm.Gateway) {
	snapshot := g.Metrics()
	prev := m.lastGateway
	m.lastGateway = snapshot
	m.llmRequestsTotal.WithLabelValues("success").Add(float64(snapshot.Successes - prev.Successes))
	m.llmRequestsTotal.WithLabelValues("failure").Add(float64(snapshot.Failures - prev.Failures))
	m.llmRetries.Add(float64(snapshot.Retries - prev.Retries))
	m.llmQueueDepth.Set(float64(g.QueueDepth()))
	if snapshot.TotalRequests > 0 {
		m.llmLatencySeconds.Observe(snapshot.AverageLatency().Seconds())
	}
}

// Handler returns the chi-routed healthz/metrics mux.
func (m *Metrics) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return r
}

// StartSampler runs SampleGateway on interval until ctx is cancelled.
func StartSampler(ctx context.Context, m *Metrics, g *llm.Gateway, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.SampleGateway(ctx, g)
			}
		}
	}()
}
