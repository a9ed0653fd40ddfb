package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	planTotal    *prometheus.CounterVec
	planDuration *prometheus.HistogramVec
	planErrors   *prometheus.CounterVec

	actionTotal    *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec

	fallbackTotal   *prometheus.CounterVec
	capabilityTotal *prometheus.CounterVec
	degradedBlocks  *prometheus.CounterVec

	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	gatewayRequests  *prometheus.CounterVec
	gatewayStreams   prometheus.Gauge
	watcherPlanTotal *prometheus.CounterVec

	telemetryBuffered prometheus.Gauge
	telemetryFlushes  *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			planTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "plan_executions_total",
					Help: "Total plan executions by host and status.",
				},
				[]string{"host", "status"},
			),
			planDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "plan_execution_duration_seconds",
					Help:    "Plan execution duration in seconds by host.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"host"},
			),
			planErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "plan_errors_total",
					Help: "Total plan failures by host and error kind.",
				},
				[]string{"host", "kind"},
			),
			actionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "action_executions_total",
					Help: "Total action executions by host, op and status.",
				},
				[]string{"host", "op", "status"},
			),
			actionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "action_execution_duration_seconds",
					Help:    "Action execution duration in seconds by host and op.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"host", "op"},
			),
			fallbackTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fallback_branches_total",
					Help: "Operations that succeeded off their primary strategy, by host, op and branch.",
				},
				[]string{"host", "op", "branch"},
			),
			capabilityTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "capability_attempts_total",
					Help: "Capability branch attempts by host, op, branch and outcome.",
				},
				[]string{"host", "op", "branch", "outcome"},
			),
			degradedBlocks: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "degraded_blocks_total",
					Help: "Block writes whose anchors could not be relocated afterwards, by host.",
				},
				[]string{"host"},
			),
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dequeue_total",
					Help: "Total dequeue/completion operations by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "task_duration_seconds",
					Help:    "Task execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			gatewayRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gateway_requests_total",
					Help: "Total gateway requests by route and status.",
				},
				[]string{"route", "status"},
			),
			gatewayStreams: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "gateway_streams_active",
					Help: "Currently connected step-stream clients.",
				},
			),
			watcherPlanTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "watcher_plans_total",
					Help: "Plans picked up from the drop-box by status.",
				},
				[]string{"status"},
			),
			telemetryBuffered: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "telemetry_events_buffered",
					Help: "Capability events waiting for the next flush.",
				},
			),
			telemetryFlushes: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "telemetry_flushes_total",
					Help: "Telemetry flush attempts by status.",
				},
				[]string{"status"},
			),
		}

		prometheus.MustRegister(
			m.planTotal,
			m.planDuration,
			m.planErrors,
			m.actionTotal,
			m.actionDuration,
			m.fallbackTotal,
			m.capabilityTotal,
			m.degradedBlocks,
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.gatewayRequests,
			m.gatewayStreams,
			m.watcherPlanTotal,
			m.telemetryBuffered,
			m.telemetryFlushes,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordPlanExecution(host string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.planTotal.WithLabelValues(host, status).Inc()
	m.planDuration.WithLabelValues(host).Observe(duration.Seconds())
}

func RecordPlanError(host, kind string) {
	m := getMetrics()
	m.planErrors.WithLabelValues(host, kind).Inc()
}

func RecordActionExecution(host, op string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.actionTotal.WithLabelValues(host, op, status).Inc()
	m.actionDuration.WithLabelValues(host, op).Observe(duration.Seconds())
}

func RecordCapabilityAttempt(host, op, branch string, success, fallback bool) {
	m := getMetrics()
	outcome := "refused"
	if success {
		outcome = "ok"
	}
	m.capabilityTotal.WithLabelValues(host, op, branch, outcome).Inc()
	if success && fallback {
		m.fallbackTotal.WithLabelValues(host, op, branch).Inc()
	}
}

func RecordDegradedBlock(host string) {
	m := getMetrics()
	m.degradedBlocks.WithLabelValues(host).Inc()
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	m := getMetrics()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.dequeueTotal.WithLabelValues(lane, status).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordGatewayRequest(route string, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.gatewayRequests.WithLabelValues(route, status).Inc()
}

func SetActiveStreams(count int) {
	m := getMetrics()
	m.gatewayStreams.Set(float64(count))
}

func RecordWatcherPlan(success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.watcherPlanTotal.WithLabelValues(status).Inc()
}

func SetTelemetryBuffered(count int) {
	m := getMetrics()
	m.telemetryBuffered.Set(float64(count))
}

func RecordTelemetryFlush(success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.telemetryFlushes.WithLabelValues(status).Inc()
}
