package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinator_registrations_total",
			Help: "Total server registration requests by outcome",
		},
		[]string{"outcome"}, // new|idempotent|replaced|restored|failed
	)

	HeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinator_heartbeats_total",
			Help: "Total heartbeats applied",
		},
	)

	ServersOnline = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coordinator_servers_online",
			Help: "Known backend servers by status",
		},
		[]string{"status"},
	)

	StoreOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coordinator_store_op_duration_seconds",
			Help:    "Duration of routing store operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	ProvisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinator_provisions_total",
			Help: "Total provisioning attempts by result",
		},
		[]string{"result"}, // success|failure|contended
	)
)

func init() {
	prometheus.MustRegister(RegistrationsTotal)
	prometheus.MustRegister(HeartbeatsTotal)
	prometheus.MustRegister(ServersOnline)
	prometheus.MustRegister(StoreOpDuration)
	prometheus.MustRegister(ProvisionsTotal)
}

func Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
