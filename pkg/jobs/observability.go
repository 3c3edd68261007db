package jobs

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "owlmq_jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"tenant", "queue"},
	)

	jobsClaimedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "owlmq_jobs_claimed_total",
			Help: "Total number of job claims",
		},
		[]string{"tenant", "queue"},
	)

	jobsAcknowledgedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "owlmq_jobs_acknowledged_total",
			Help: "Total number of jobs finalized by acknowledge",
		},
		[]string{"tenant"},
	)

	jobsRescheduledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "owlmq_jobs_rescheduled_total",
			Help: "Total number of repeating jobs rescheduled on acknowledge",
		},
		[]string{"tenant"},
	)

	jobsRetriedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "owlmq_jobs_retried_total",
			Help: "Total number of stale claims rescheduled by retry policy",
		},
		[]string{"tenant", "queue"},
	)

	jobsTimedOutTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "owlmq_jobs_timed_out_total",
			Help: "Total number of jobs removed after their claim deadline passed",
		},
		[]string{"tenant", "queue"},
	)

	jobsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "owlmq_jobs_inflight",
			Help: "Current number of in-flight jobs being processed",
		},
		[]string{"tenant"},
	)
)

func recordJobEnqueued(tenant, queue string) {
	jobsEnqueuedTotal.WithLabelValues(tenantLabel(tenant), queueLabel(queue)).Inc()
}

func recordJobClaimed(tenant, queue string) {
	jobsClaimedTotal.WithLabelValues(tenantLabel(tenant), queueLabel(queue)).Inc()
}

func recordJobAcknowledged(tenant string) {
	jobsAcknowledgedTotal.WithLabelValues(tenantLabel(tenant)).Inc()
}

func recordJobRescheduled(tenant string) {
	jobsRescheduledTotal.WithLabelValues(tenantLabel(tenant)).Inc()
}

func recordJobRetried(tenant, queue string) {
	jobsRetriedTotal.WithLabelValues(tenantLabel(tenant), queueLabel(queue)).Inc()
}

func recordJobTimedOut(tenant, queue string) {
	jobsTimedOutTotal.WithLabelValues(tenantLabel(tenant), queueLabel(queue)).Inc()
}

func incrementJobInFlight(tenant string) {
	jobsInFlight.WithLabelValues(tenantLabel(tenant)).Inc()
}

func decrementJobInFlight(tenant string) {
	jobsInFlight.WithLabelValues(tenantLabel(tenant)).Dec()
}

func tenantLabel(tenant string) string {
	if strings.TrimSpace(tenant) == "" {
		return "default"
	}
	return tenant
}

func queueLabel(queue string) string {
	if strings.TrimSpace(queue) == "" {
		return "unknown"
	}
	return queue
}
