package kube

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/remotecommand"
)

// Exec runs command in a container without stdin, stdout or a TTY. Stderr is
// captured so it can be added to a failure. A non-zero exit comes back as a
// k8s.io/client-go/util/exec.ExitError.
func (c *Client) Exec(ctx context.Context, namespace, pod, container string, command []string) error {
	executor, err := remotecommand.NewSPDYExecutor(c.config, http.MethodPost, c.execURL(namespace, pod, container, command))
	if err != nil {
		return fmt.Errorf("create executor: %w", err)
	}

	var stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- executor.StreamWithContext(ctx, remotecommand.StreamOptions{Stderr: &stderr})
	}()

	// StreamWithContext only watches ctx once the upgrade has completed.
	select {
	case err = <-done:
	case <-ctx.Done():
		return fmt.Errorf("exec in %s/%s: %w", pod, container, ctx.Err())
	}
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("exec in %s/%s: %w (stderr: %s)", pod, container, err, msg)
		}
		return fmt.Errorf("exec in %s/%s: %w", pod, container, err)
	}
	return nil
}

func (c *Client) execURL(namespace, pod, container string, command []string) *url.URL {
	return c.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(namespace).
		Name(pod).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: container,
			Command:   command,
			Stderr:    true,
		}, scheme.ParameterCodec).
		URL()
}
