// Package dispatch carries a shutdown action to a live sidecar and classifies
// the result.
package dispatch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nais/hahaha/internal/actions"
	utilexec "k8s.io/client-go/util/exec"
)

// Executor runs a command inside a container.
type Executor interface {
	Exec(ctx context.Context, namespace, pod, container string, command []string) error
}

// PortForwarder opens a byte stream to a port inside a pod. The caller closes it.
type PortForwarder interface {
	PortForward(ctx context.Context, namespace, pod string, port uint16) (io.ReadWriteCloser, error)
}

// Target identifies the container an action is sent to.
type Target struct {
	Namespace string
	Pod       string
	Container string
}

func (t Target) String() string { return t.Container + "@" + t.Pod }

// Dispatcher sends shutdown actions. It makes exactly one attempt per call.
type Dispatcher struct {
	exec    Executor
	forward PortForwarder
	timeout time.Duration
	log     *slog.Logger
}

// New creates a dispatcher. A zero timeout means calls are only bounded by the
// caller's context.
func New(exec Executor, forward PortForwarder, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		exec:    exec,
		forward: forward,
		timeout: timeout,
		log:     slog.Default().With("component", "dispatcher"),
	}
}

// Dispatch sends action to the target container.
func (d *Dispatcher) Dispatch(ctx context.Context, action actions.Action, t Target) Outcome {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	switch action.Kind() {
	case actions.KindExec:
		ex, _ := action.Exec()
		return d.shutdownExec(ctx, ex, t)
	case actions.KindHTTPSignal:
		sig, _ := action.HTTPSignal()
		return d.shutdownHTTP(ctx, sig, t)
	default:
		return failed(fmt.Sprintf("action for %s has no transport", t.Container))
	}
}

func (d *Dispatcher) shutdownExec(ctx context.Context, ex actions.Exec, t Target) Outcome {
	cmd := strings.Join(ex.Command, " ")
	err := d.exec.Exec(ctx, t.Namespace, t.Pod, t.Container, ex.Command)

	// The command may kill the process that would report its exit status, so
	// only transport errors count.
	var exitErr utilexec.ExitError
	if err != nil && errors.As(err, &exitErr) {
		d.log.Debug("command exited non-zero", "target", t.String(), "command", cmd, "exit_code", exitErr.ExitStatus())
		err = nil
	}
	if err != nil {
		d.log.Error("exec failed", "target", t.String(), "namespace", t.Namespace, "error", err)
		return failed(fmt.Sprintf("exec `%s`: %v", cmd, err))
	}

	d.log.Info("sent command", "command", cmd, "target", t.String(), "namespace", t.Namespace)
	return succeeded()
}

func (d *Dispatcher) shutdownHTTP(ctx context.Context, sig actions.HTTPSignal, t Target) Outcome {
	tunnel, err := d.forward.PortForward(ctx, t.Namespace, t.Pod, sig.Port)
	if err != nil {
		d.log.Error("port-forward failed", "target", t.String(), "port", sig.Port, "error", err)
		return failed(fmt.Sprintf("port-forward to port %d: %v", sig.Port, err))
	}
	defer tunnel.Close()

	// Unblock a pending read if the deadline passes.
	stop := context.AfterFunc(ctx, func() { tunnel.Close() })
	defer stop()

	code, body, err := roundTrip(ctx, tunnel, sig)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
		d.log.Error("HTTP request failed", "target", t.String(), "port", sig.Port, "error", err)
		return failed(fmt.Sprintf("%s %s on port %d: %v", sig.Method, sig.Path, sig.Port, err))
	}
	if code != http.StatusOK {
		d.log.Error("HTTP request failed", "target", t.String(), "code", code, "body", body)
		return failed(fmt.Sprintf("%s %s on port %d: HTTP %d: %s", sig.Method, sig.Path, sig.Port, code, body))
	}

	d.log.Info("sent HTTP signal", "method", sig.Method, "path", sig.Path, "port", sig.Port,
		"target", t.String(), "namespace", t.Namespace)
	return succeeded()
}

// roundTrip writes one request to conn and reads the whole response.
func roundTrip(ctx context.Context, conn io.ReadWriter, sig actions.HTTPSignal) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, sig.Method, "http://127.0.0.1"+sig.Path, http.NoBody)
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Host = "127.0.0.1"
	req.Close = true

	w := bufio.NewWriter(conn)
	if err := req.Write(w); err != nil {
		return 0, "", fmt.Errorf("write request: %w", err)
	}
	if err := w.Flush(); err != nil {
		return 0, "", fmt.Errorf("write request: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return 0, "", fmt.Errorf("read response: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, strings.TrimSpace(string(body)), nil
}
