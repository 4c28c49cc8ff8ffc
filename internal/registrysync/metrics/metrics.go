package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks sync engine activity. A nil *Metrics is safe to call.
type Metrics struct {
	SyncAttempts    *prometheus.CounterVec
	SyncDuration    *prometheus.HistogramVec
	ConfirmAttempts *prometheus.CounterVec
	IdentityRows    *prometheus.GaugeVec
}

func New() *Metrics {
	return &Metrics{
		SyncAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "charlog_registry_sync_attempts_total",
			Help: "Sync attempts per entity kind and outcome",
		}, []string{"kind", "outcome"}),
		SyncDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "charlog_registry_sync_duration_seconds",
			Help:    "Duration of individual entity sync calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		ConfirmAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "charlog_registry_confirm_attempts_total",
			Help: "Confirmation pull-backs per outcome",
		}, []string{"outcome"}),
		IdentityRows: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "charlog_registry_identity_rows",
			Help: "Identity rows per entity kind and sync status, as of the last summary",
		}, []string{"kind", "status"}),
	}
}

func (m *Metrics) RecordSync(kind, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.SyncAttempts.WithLabelValues(kind, outcome).Inc()
	m.SyncDuration.WithLabelValues(kind).Observe(seconds)
}

func (m *Metrics) RecordConfirm(outcome string) {
	if m == nil {
		return
	}
	m.ConfirmAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetIdentityRows(kind, status string, count int) {
	if m == nil {
		return
	}
	m.IdentityRows.WithLabelValues(kind, status).Set(float64(count))
}
