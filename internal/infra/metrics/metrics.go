// Package metrics provides Prometheus metrics for the build server:
// deploy outcomes, queue depth, build timing, and email delivery.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Deploys ────────────────────────────────────────────────────────────────

// DeploysCompleted counts successfully completed deploy tasks by brand.
var DeploysCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "buildserver",
	Name:      "deploys_completed_total",
	Help:      "Total deploy tasks completed successfully.",
}, []string{"brand"})

// DeploysFailed counts aborted deploy tasks by pipeline stage.
var DeploysFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "buildserver",
	Name:      "deploys_failed_total",
	Help:      "Total deploy tasks aborted, by failing stage.",
}, []string{"stage"})

// BuildDuration tracks the external build command duration in seconds.
var BuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "buildserver",
	Name:      "build_duration_seconds",
	Help:      "External build command duration in seconds.",
	Buckets:   []float64{30, 60, 120, 300, 600, 1200, 3600},
})

// ─── Queue ──────────────────────────────────────────────────────────────────

// QueueDepth tracks the number of tasks waiting in the worker queue.
var QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "buildserver",
	Name:      "queue_depth",
	Help:      "Number of deploy tasks waiting for the worker.",
})

// TaskActive is 1 while a deploy task is executing.
var TaskActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "buildserver",
	Name:      "task_active",
	Help:      "Whether a deploy task is currently executing (0 or 1).",
})

// ─── Notifications ──────────────────────────────────────────────────────────

// EmailsSent counts outcome emails by kind (success, failure).
var EmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "buildserver",
	Name:      "emails_sent_total",
	Help:      "Total outcome emails sent, by kind.",
}, []string{"kind"})
