package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Ticks               prometheus.Counter
	TickDuration        prometheus.Histogram
	PromptsSent         prometheus.Counter
	PromptsSkipped      *prometheus.CounterVec
	PromptsFailed       prometheus.Counter
	GenerationFallbacks *prometheus.CounterVec
	SessionsStarted     prometheus.Counter
	SessionsStopped     prometheus.Counter
	ProgressReports     prometheus.Counter
}

// NewMetrics registers the collectors on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Name: "progressmate_scheduler_ticks_total",
			Help: "Scheduler ticks processed.",
		}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "progressmate_scheduler_tick_duration_seconds",
			Help:    "Time spent processing one scheduler tick.",
			Buckets: prometheus.DefBuckets,
		}),
		PromptsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "progressmate_prompts_sent_total",
			Help: "Check-in prompts delivered.",
		}),
		PromptsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "progressmate_prompts_skipped_total",
			Help: "Due sessions skipped without a prompt, by reason.",
		}, []string{"reason"}),
		PromptsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "progressmate_prompts_failed_total",
			Help: "Due sessions whose prompt could not be processed.",
		}),
		GenerationFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "progressmate_generation_fallbacks_total",
			Help: "Generated texts replaced by the fixed fallback.",
		}, []string{"kind"}),
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "progressmate_sessions_started_total",
			Help: "Sessions started.",
		}),
		SessionsStopped: f.NewCounter(prometheus.CounterOpts{
			Name: "progressmate_sessions_stopped_total",
			Help: "Sessions transitioned to stopped by a stop command.",
		}),
		ProgressReports: f.NewCounter(prometheus.CounterOpts{
			Name: "progressmate_progress_reports_total",
			Help: "Progress updates recorded.",
		}),
	}
}
