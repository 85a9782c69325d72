package kube

import (
	"context"
	"fmt"
	"time"

	"github.com/nais/hahaha/internal/sidecar"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// EventPublisher creates core/v1 events attached to pods.
type EventPublisher struct {
	clientset  kubernetes.Interface
	controller string
	instance   string
	now        func() time.Time
}

// NewEventPublisher creates a publisher that reports as controller/instance.
func NewEventPublisher(clientset kubernetes.Interface, controller, instance string) *EventPublisher {
	return &EventPublisher{
		clientset:  clientset,
		controller: controller,
		instance:   instance,
		now:        time.Now,
	}
}

// Publish posts one event about pod. Exactly one API call is made.
func (p *EventPublisher) Publish(ctx context.Context, pod *corev1.Pod, eventType, reason, message string) error {
	namespace := sidecar.Namespace(pod)
	t := p.now()
	ts := metav1.NewTime(t)

	ev := &corev1.Event{
		ObjectMeta: metav1.ObjectMeta{
			Name:      fmt.Sprintf("%s.%x", pod.Name, t.UnixNano()),
			Namespace: namespace,
		},
		InvolvedObject: corev1.ObjectReference{
			Kind:            "Pod",
			APIVersion:      "v1",
			Name:            pod.Name,
			Namespace:       namespace,
			UID:             pod.UID,
			ResourceVersion: pod.ResourceVersion,
		},
		Type:    eventType,
		Reason:  reason,
		Action:  reason,
		Message: message,
		Source: corev1.EventSource{
			Component: p.controller,
			Host:      p.instance,
		},
		FirstTimestamp:      ts,
		LastTimestamp:       ts,
		Count:               1,
		ReportingController: p.controller,
		ReportingInstance:   p.instance,
	}

	if _, err := p.clientset.CoreV1().Events(namespace).Create(ctx, ev, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("create event for pod %s/%s: %w", namespace, pod.Name, err)
	}
	return nil
}
