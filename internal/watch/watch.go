// Package watch delivers the applied state of labelled pods: an initial list
// followed by every add and update from a watch.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
)

// watchTimeoutSeconds makes the API server end each watch periodically. The
// watch is then resumed from the last seen resource version.
const watchTimeoutSeconds int64 = 300

// errResync means the resource version is too old and the pods must be listed again.
var errResync = errors.New("resource version expired")

// Watcher streams pods matching a label selector.
type Watcher struct {
	clientset kubernetes.Interface
	namespace string
	selector  string
	log       *slog.Logger
}

// New creates a watcher. An empty namespace watches all namespaces.
func New(clientset kubernetes.Interface, namespace, selector string) *Watcher {
	return &Watcher{
		clientset: clientset,
		namespace: namespace,
		selector:  selector,
		log:       slog.Default().With("component", "watch", "selector", selector),
	}
}

// Run calls handle for every applied pod state, one at a time, until ctx is
// cancelled (returns nil) or the API reports an error it cannot resume from.
// Unlike tools/watch.RetryWatcher, a failed watch call or any error event other
// than an expired resource version ends Run.
func (w *Watcher) Run(ctx context.Context, handle func(context.Context, *corev1.Pod)) error {
	for {
		rv, err := w.list(ctx, handle)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = w.watch(ctx, rv, handle)
		if errors.Is(err, errResync) {
			w.log.Info("resource version expired, listing pods again")
			continue
		}
		return err
	}
}

func (w *Watcher) list(ctx context.Context, handle func(context.Context, *corev1.Pod)) (string, error) {
	pods, err := w.clientset.CoreV1().Pods(w.namespace).List(ctx, metav1.ListOptions{LabelSelector: w.selector})
	if err != nil {
		return "", fmt.Errorf("list pods: %w", err)
	}
	w.log.Debug("listed pods", "count", len(pods.Items), "resource_version", pods.ResourceVersion)

	for i := range pods.Items {
		if ctx.Err() != nil {
			break
		}
		handle(ctx, &pods.Items[i])
	}
	return pods.ResourceVersion, nil
}

func (w *Watcher) watch(ctx context.Context, rv string, handle func(context.Context, *corev1.Pod)) error {
	timeout := watchTimeoutSeconds
	for {
		wi, err := w.clientset.CoreV1().Pods(w.namespace).Watch(ctx, metav1.ListOptions{
			LabelSelector:       w.selector,
			ResourceVersion:     rv,
			AllowWatchBookmarks: true,
			TimeoutSeconds:      &timeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isExpired(err) {
				return errResync
			}
			return fmt.Errorf("watch pods: %w", err)
		}

		rv, err = w.consume(ctx, wi, rv, handle)
		wi.Stop()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		w.log.Debug("watch closed, resuming", "resource_version", rv)
	}
}

// consume drains one watch and returns the last resource version seen.
func (w *Watcher) consume(ctx context.Context, wi watch.Interface, rv string, handle func(context.Context, *corev1.Pod)) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return rv, nil
		case ev, ok := <-wi.ResultChan():
			if !ok {
				return rv, nil
			}

			switch ev.Type {
			case watch.Added, watch.Modified:
				pod, ok := ev.Object.(*corev1.Pod)
				if !ok {
					w.log.Warn("unexpected object in pod watch", "type", fmt.Sprintf("%T", ev.Object))
					continue
				}
				rv = pod.ResourceVersion
				handle(ctx, pod)
			case watch.Deleted, watch.Bookmark:
				if m, err := meta.Accessor(ev.Object); err == nil {
					rv = m.GetResourceVersion()
				}
			case watch.Error:
				err := apierrors.FromObject(ev.Object)
				if isExpired(err) {
					return rv, errResync
				}
				return rv, fmt.Errorf("pod watch: %w", err)
			}
		}
	}
}

func isExpired(err error) bool {
	return apierrors.IsGone(err) || apierrors.IsResourceExpired(err)
}
