// Package metrics defines hahaha's Prometheus counters and the endpoint that
// exposes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hahaha"

var sidecarLabels = []string{"container", "job_name", "namespace"}

// Metrics holds the counters updated by the outcome reporter. All of them are
// safe for concurrent use.
type Metrics struct {
	SidecarShutdowns       *prometheus.CounterVec
	FailedSidecarShutdowns *prometheus.CounterVec
	UnsupportedSidecars    *prometheus.CounterVec
	UnsuccessfulEventPosts prometheus.Counter
}

// New registers the counters on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SidecarShutdowns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sidecar_shutdowns",
			Help:      "Number of sidecar shutdowns",
		}, sidecarLabels),
		FailedSidecarShutdowns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_sidecar_shutdowns",
			Help:      "Number of failed sidecar shutdowns",
		}, sidecarLabels),
		UnsupportedSidecars: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unsupported_sidecars",
			Help:      "Number of unsupported sidecars, by sidecar",
		}, sidecarLabels),
		UnsuccessfulEventPosts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "total_unsuccessful_event_posts",
			Help:      "Total number of unsuccessful Kubernetes Event posts",
		}),
	}
}
