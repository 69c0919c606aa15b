package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/llm"
)

// PrometheusRecorder exposes telemetry as Prometheus metrics.
type PrometheusRecorder struct {
	modelUp         *prometheus.GaugeVec
	modelLatency    *prometheus.GaugeVec
	tokensTotal     *prometheus.CounterVec
	selectionsTotal *prometheus.CounterVec
	turnDuration    *prometheus.HistogramVec
	selectionScore  *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the assistant's metrics with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default handler.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	f := promauto.With(reg)
	return &PrometheusRecorder{
		// Labels:
		//   - role: "local" or "api"
		//   - model: configured model name
		modelUp: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "erp_assistant",
			Subsystem: "model",
			Name:      "up",
			Help:      "Whether the last availability probe of a model succeeded.",
		}, []string{"role", "model"}),
		modelLatency: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "erp_assistant",
			Subsystem: "model",
			Name:      "probe_seconds",
			Help:      "Response time of the last availability probe.",
		}, []string{"role", "model"}),
		// Labels:
		//   - direction: "prompt" or "completion"
		tokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "erp_assistant",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed by SQL generation.",
		}, []string{"role", "model", "direction"}),
		// Labels:
		//   - source: "local", "api" or "none"
		//   - mode: processing mode of the turn
		selectionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "erp_assistant",
			Subsystem: "selector",
			Name:      "selections_total",
			Help:      "Questions answered, by selected source.",
		}, []string{"source", "mode"}),
		turnDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "erp_assistant",
			Subsystem: "hybrid",
			Name:      "turn_duration_seconds",
			Help:      "End-to-end processing time of one question.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60, 65},
		}, []string{"mode"}),
		selectionScore: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "erp_assistant",
			Subsystem: "selector",
			Name:      "composite_score",
			Help:      "Composite score of each scored candidate.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}, []string{"side"}),
	}
}

func (p *PrometheusRecorder) RecordModelStatus(_ context.Context, status *llm.ModelStatus) {
	if status == nil {
		return
	}
	up := 0.0
	if status.Available {
		up = 1
	}
	p.modelUp.WithLabelValues(status.Role, status.Model).Set(up)
	p.modelLatency.WithLabelValues(status.Role, status.Model).Set(float64(status.ResponseTimeMs) / 1000)
}

func (p *PrometheusRecorder) RecordTokenUsage(_ context.Context, usage TokenUsage) {
	p.tokensTotal.WithLabelValues(usage.Role, usage.Model, "prompt").Add(float64(max(usage.PromptTokens, 0)))
	p.tokensTotal.WithLabelValues(usage.Role, usage.Model, "completion").Add(float64(max(usage.CompletionTokens, 0)))
}

func (p *PrometheusRecorder) RecordSelection(_ context.Context, d SelectionDecision) {
	p.selectionsTotal.WithLabelValues(d.Source, d.ProcessingMode).Inc()
	p.turnDuration.WithLabelValues(d.ProcessingMode).Observe(d.Duration.Seconds())
	if d.LocalScore > 0 {
		p.selectionScore.WithLabelValues("local").Observe(d.LocalScore)
	}
	if d.APIScore > 0 {
		p.selectionScore.WithLabelValues("api").Observe(d.APIScore)
	}
}

var _ Recorder = (*PrometheusRecorder)(nil)
