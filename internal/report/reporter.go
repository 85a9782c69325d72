// Package report turns dispatch outcomes into Kubernetes events and counters.
package report

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nais/hahaha/internal/dispatch"
	"github.com/nais/hahaha/internal/metrics"
	corev1 "k8s.io/api/core/v1"
)

// ReasonKilling is the event reason for every shutdown attempt.
const ReasonKilling = "Killing"

// EventPublisher posts an event about a pod.
type EventPublisher interface {
	Publish(ctx context.Context, pod *corev1.Pod, eventType, reason, message string) error
}

// Reporter records outcomes. Publishing is best effort: a failed post is
// counted and logged, never returned.
type Reporter struct {
	events  EventPublisher
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewReporter creates a reporter.
func NewReporter(events EventPublisher, m *metrics.Metrics) *Reporter {
	return &Reporter{
		events:  events,
		metrics: m,
		log:     slog.Default().With("component", "reporter"),
	}
}

// Report records the outcome of one sidecar.
func (r *Reporter) Report(ctx context.Context, out dispatch.Outcome, pod *corev1.Pod, container, jobName, namespace string) {
	switch out.Result {
	case dispatch.Success:
		r.publish(ctx, pod, namespace, corev1.EventTypeNormal, fmt.Sprintf("Successfully shut down container %s", container))
		r.metrics.SidecarShutdowns.WithLabelValues(container, jobName, namespace).Inc()
	case dispatch.TransportFailure:
		r.publish(ctx, pod, namespace, corev1.EventTypeWarning, fmt.Sprintf("Unsuccessfully shut down container %s: %s", container, out.Detail))
		r.metrics.FailedSidecarShutdowns.WithLabelValues(container, jobName, namespace).Inc()
	case dispatch.UnrecognizedSidecar:
		r.log.Warn("don't know how to shut down sidecar",
			"container", container, "pod", pod.Name, "namespace", namespace)
		r.metrics.UnsupportedSidecars.WithLabelValues(container, jobName, namespace).Inc()
	}
}

func (r *Reporter) publish(ctx context.Context, pod *corev1.Pod, namespace, eventType, message string) {
	if err := r.events.Publish(ctx, pod, eventType, ReasonKilling, message); err != nil {
		r.log.Error("couldn't publish event",
			"pod", pod.Name, "namespace", namespace, "type", eventType, "error", err)
		r.metrics.UnsuccessfulEventPosts.Inc()
	}
}
