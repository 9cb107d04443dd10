package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Assigner metrics
	PromptsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetctl_prompts_total",
			Help: "Total number of prompts by status",
		},
		[]string{"status"},
	)

	PromptsAssignedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetctl_prompts_assigned_total",
			Help: "Total number of prompts matched and assigned to a session",
		},
	)

	PromptsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetctl_prompts_completed_total",
			Help: "Total number of prompts completed",
		},
	)

	PromptsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetctl_prompts_failed_total",
			Help: "Total number of prompts that ended failed",
		},
	)

	PromptsRetriedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetctl_prompts_retried_total",
			Help: "Total number of prompt retries",
		},
	)

	MatchingTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetctl_assigner_matching_tick_duration_seconds",
			Help:    "Duration of one assigner matching tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	CompletionTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetctl_assigner_completion_tick_duration_seconds",
			Help:    "Duration of one assigner completion-detection tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	SessionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetctl_sessions_total",
			Help: "Total number of known sessions by status",
		},
		[]string{"status"},
	)

	// Supervisor metrics
	ServicesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetctl_services_total",
			Help: "Total number of managed services by lifecycle state",
		},
		[]string{"lifecycle"},
	)

	ServiceRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetctl_service_restarts_total",
			Help: "Total number of restart attempts by service",
		},
		[]string{"service_id"},
	)

	ServiceCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetctl_service_cpu_percent",
			Help: "Most recently observed CPU percent for a service",
		},
		[]string{"service_id"},
	)

	ServiceRSSBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetctl_service_rss_bytes",
			Help: "Most recently observed resident set size for a service",
		},
		[]string{"service_id"},
	)

	SupervisionCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetctl_supervision_cycle_duration_seconds",
			Help:    "Duration of one supervisor supervision cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetctl_nodes_total",
			Help: "Total number of cluster nodes by role and health",
		},
		[]string{"role", "healthy"},
	)

	HeartbeatsSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetctl_heartbeats_sent_total",
			Help: "Total number of heartbeats sent by this node",
		},
	)

	HeartbeatsReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetctl_heartbeats_received_total",
			Help: "Total number of heartbeats accepted by this node",
		},
	)

	FailoversTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetctl_failovers_total",
			Help: "Total number of failover promotions observed by this node",
		},
	)

	AllocationsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetctl_allocations_active",
			Help: "Number of currently active resource allocations",
		},
	)

	// Health prober metrics
	HealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetctl_health_checks_total",
			Help: "Total number of health checks run by kind and result",
		},
		[]string{"kind", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		PromptsTotal,
		PromptsAssignedTotal,
		PromptsCompletedTotal,
		PromptsFailedTotal,
		PromptsRetriedTotal,
		MatchingTickDuration,
		CompletionTickDuration,
		SessionsTotal,
		ServicesTotal,
		ServiceRestartsTotal,
		ServiceCPUPercent,
		ServiceRSSBytes,
		SupervisionCycleDuration,
		NodesTotal,
		HeartbeatsSentTotal,
		HeartbeatsReceivedTotal,
		FailoversTotal,
		AllocationsActive,
		HealthChecksTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation's duration for histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time on the given histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time on a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
