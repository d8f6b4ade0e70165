package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	global *Metrics
	once   sync.Once
)

// Metrics holds the process-wide collectors.
type Metrics struct {
	SubscriptionsActive *prometheus.GaugeVec
	SubscriptionPushes  *prometheus.CounterVec
	Uploads             *prometheus.CounterVec
	ReconcileJobs       *prometheus.CounterVec
}

// Default returns the registered collectors, registering them on first use.
//
// Metrics:
//   - appraise_subscriptions_active{kind} - open live subscriptions ("owner" or "report")
//   - appraise_subscription_pushes_total{kind} - snapshots delivered to subscribers
//   - appraise_uploads_total{result} - upload attempts by outcome
//   - appraise_reconcile_jobs_total{result} - outbox jobs processed by outcome
func Default() *Metrics {
	once.Do(func() {
		global = &Metrics{
			SubscriptionsActive: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "appraise_subscriptions_active",
					Help: "Number of open live report subscriptions",
				},
				[]string{"kind"},
			),
			SubscriptionPushes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "appraise_subscription_pushes_total",
					Help: "Total number of snapshots pushed to subscribers",
				},
				[]string{"kind"},
			),
			Uploads: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "appraise_uploads_total",
					Help: "Total number of report uploads by result",
				},
				[]string{"result"}, // "ok", "invalid", "failed", "compensated"
			),
			ReconcileJobs: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "appraise_reconcile_jobs_total",
					Help: "Total number of reconcile jobs processed by result",
				},
				[]string{"result"}, // "completed", "failed"
			),
		}
	})
	return global
}

func (m *Metrics) SubscriptionOpened(kind string) {
	m.SubscriptionsActive.WithLabelValues(kind).Inc()
}

func (m *Metrics) SubscriptionClosed(kind string) {
	m.SubscriptionsActive.WithLabelValues(kind).Dec()
}

func (m *Metrics) RecordPush(kind string) {
	m.SubscriptionPushes.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordUpload(result string) {
	m.Uploads.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordReconcile(result string) {
	m.ReconcileJobs.WithLabelValues(result).Inc()
}
