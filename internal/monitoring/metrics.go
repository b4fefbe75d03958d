package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	OrgsProvisioned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgs_provisioned_total",
			Help: "Total number of organization provisioning runs by final status",
		},
		[]string{"status"},
	)
	ProvisioningDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "org_provisioning_duration_seconds",
			Help:    "Duration of organization provisioning in seconds",
			Buckets: prometheus.LinearBuckets(0, 15, 12), // 0 to 180 seconds
		},
	)
	LifecycleTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "org_lifecycle_transitions_total",
			Help: "Total number of organization lifecycle transitions by action",
		},
		[]string{"action"},
	)
)

func InitMetrics() {
	for _, c := range []prometheus.Collector{OrgsProvisioned, ProvisioningDuration, LifecycleTransitions} {
		if err := prometheus.Register(c); err != nil {
			log.Error().Err(err).Msg("Failed to register metric")
		}
	}
}
