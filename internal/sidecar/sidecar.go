// Package sidecar inspects pod snapshots for containers that are still running.
package sidecar

import (
	"errors"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// DefaultNamespace is used for pods that arrive without a namespace.
const DefaultNamespace = "default"

// ErrNoJobName is returned when a pod carries nothing to group it by.
var ErrNoJobName = errors.New("pod has no job-name label, controller owner or app label")

// Running returns the statuses of containers in the running state, in the
// order the pod reports them. It does not check whether a container is a
// known sidecar.
func Running(pod *corev1.Pod) []corev1.ContainerStatus {
	var running []corev1.ContainerStatus
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Running != nil {
			running = append(running, cs)
		}
	}
	return running
}

// MainContainer returns the status of the workload's own container: the one
// named by the app label, or else the one named jobName.
func MainContainer(pod *corev1.Pod, jobName string) (corev1.ContainerStatus, bool) {
	for _, name := range []string{pod.Labels["app"], jobName} {
		if name == "" {
			continue
		}
		for _, cs := range pod.Status.ContainerStatuses {
			if cs.Name == name {
				return cs, true
			}
		}
	}
	return corev1.ContainerStatus{}, false
}

// Finished reports whether the workload's main process has exited. When no
// container is named after the app or job, any terminated container counts.
func Finished(pod *corev1.Pod, jobName string) bool {
	if main, ok := MainContainer(pod, jobName); ok {
		return main.State.Terminated != nil
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Terminated != nil {
			return true
		}
	}
	return false
}

// Namespace returns the pod's namespace, or DefaultNamespace when it is empty.
func Namespace(pod *corev1.Pod) string {
	if pod.Namespace == "" {
		return DefaultNamespace
	}
	return pod.Namespace
}

// JobName returns the workload a pod belongs to. The Job controller's
// job-name label wins, then the controlling owner reference, then the app
// label.
func JobName(pod *corev1.Pod) (string, error) {
	if name := pod.Labels["job-name"]; name != "" {
		return name, nil
	}
	if owner := metav1.GetControllerOf(pod); owner != nil && owner.Name != "" {
		return owner.Name, nil
	}
	if name := pod.Labels["app"]; name != "" {
		return name, nil
	}
	return "", ErrNoJobName
}
