// Package reconcile drives sidecar shutdowns for each observed pod.
package reconcile

import (
	"context"
	"log/slog"

	"github.com/nais/hahaha/internal/actions"
	"github.com/nais/hahaha/internal/dispatch"
	"github.com/nais/hahaha/internal/sidecar"
	corev1 "k8s.io/api/core/v1"
)

// Dispatcher sends one shutdown action.
type Dispatcher interface {
	Dispatch(ctx context.Context, action actions.Action, t dispatch.Target) dispatch.Outcome
}

// Reporter records one outcome.
type Reporter interface {
	Report(ctx context.Context, out dispatch.Outcome, pod *corev1.Pod, container, jobName, namespace string)
}

// Source delivers pod snapshots to a handler until it fails or ctx ends.
type Source interface {
	Run(ctx context.Context, handle func(context.Context, *corev1.Pod)) error
}

// Reconciler processes pods one at a time and their sidecars in order.
type Reconciler struct {
	registry   *actions.Registry
	dispatcher Dispatcher
	reporter   Reporter
	log        *slog.Logger
}

// New creates a reconciler.
func New(registry *actions.Registry, d Dispatcher, r Reporter) *Reconciler {
	return &Reconciler{
		registry:   registry,
		dispatcher: d,
		reporter:   r,
		log:        slog.Default().With("component", "reconciler"),
	}
}

// Run reconciles every pod from src. It returns src's error.
func (r *Reconciler) Run(ctx context.Context, src Source) error {
	return src.Run(ctx, r.Reconcile)
}

// Reconcile shuts down the running sidecars of one pod.
func (r *Reconciler) Reconcile(ctx context.Context, pod *corev1.Pod) {
	namespace := sidecar.Namespace(pod)

	running := sidecar.Running(pod)
	if len(running) == 0 {
		return
	}

	log := r.log.With("pod", pod.Name, "namespace", namespace)

	jobName, err := sidecar.JobName(pod)
	if err != nil {
		log.Warn("skipping pod", "error", err)
		return
	}

	if !sidecar.Finished(pod, jobName) {
		log.Debug("main container still running", "job_name", jobName)
		return
	}

	log.Info("pod needs help shutting down residual containers", "job_name", jobName, "running", len(running))

	for _, cs := range running {
		action, ok := r.registry.Lookup(cs.Name)
		if !ok {
			r.reporter.Report(ctx, dispatch.Unrecognized(), pod, cs.Name, jobName, namespace)
			continue
		}

		out := r.dispatcher.Dispatch(ctx, action, dispatch.Target{
			Namespace: namespace,
			Pod:       pod.Name,
			Container: cs.Name,
		})
		log.Debug("dispatched", "container", cs.Name, "action", action.String(), "result", out.Result.String())
		r.reporter.Report(ctx, out, pod, cs.Name, jobName, namespace)
	}
}
