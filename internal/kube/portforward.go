package kube

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/httpstream"
	"k8s.io/client-go/tools/portforward"
	"k8s.io/client-go/transport/spdy"
)

// errorStreamWait bounds how long a failed read waits for the server to
// explain itself on the error stream.
const errorStreamWait = time.Second

// PortForward opens a tunnel to one port of a pod. The returned stream
// carries raw bytes to and from that port; closing it tears down the SPDY
// connection.
func (c *Client) PortForward(ctx context.Context, namespace, pod string, port uint16) (io.ReadWriteCloser, error) {
	transport, upgrader, err := spdy.RoundTripperFor(c.config)
	if err != nil {
		return nil, fmt.Errorf("spdy round tripper: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.portForwardURL(namespace, pod).String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build port-forward request: %w", err)
	}

	type upgraded struct {
		conn httpstream.Connection
		err  error
	}
	done := make(chan upgraded, 1)
	go func() {
		conn, _, err := spdy.Negotiate(upgrader, &http.Client{Transport: transport}, req, portforward.PortForwardProtocolV1Name)
		done <- upgraded{conn, err}
	}()

	select {
	case u := <-done:
		if u.err != nil {
			return nil, fmt.Errorf("upgrade connection: %w", u.err)
		}
		return openTunnel(u.conn, port)
	case <-ctx.Done():
		// The handshake response is read without watching ctx. Close a
		// connection that completes after we gave up.
		go func() {
			if u := <-done; u.conn != nil {
				u.conn.Close()
			}
		}()
		return nil, fmt.Errorf("upgrade connection: %w", ctx.Err())
	}
}

func (c *Client) portForwardURL(namespace, pod string) *url.URL {
	return c.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(namespace).
		Name(pod).
		SubResource("portforward").
		URL()
}

// tunnel is the data stream of a single forwarded port.
type tunnel struct {
	conn  httpstream.Connection
	data  httpstream.Stream
	errCh chan error
	once  sync.Once
}

func openTunnel(conn httpstream.Connection, port uint16) (*tunnel, error) {
	headers := http.Header{}
	headers.Set(corev1.StreamType, corev1.StreamTypeError)
	headers.Set(corev1.PortHeader, strconv.Itoa(int(port)))
	headers.Set(corev1.PortForwardRequestIDHeader, "0")

	errorStream, err := conn.CreateStream(headers)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create error stream: %w", err)
	}
	// Only the server writes to the error stream.
	errorStream.Close()

	t := &tunnel{conn: conn, errCh: make(chan error, 1)}
	go func() {
		defer close(t.errCh)
		msg, err := io.ReadAll(errorStream)
		switch {
		case err != nil:
			t.errCh <- fmt.Errorf("read error stream for port %d: %w", port, err)
		case len(msg) > 0:
			t.errCh <- fmt.Errorf("forward port %d: %s", port, msg)
		}
	}()

	headers.Set(corev1.StreamType, corev1.StreamTypeData)
	data, err := conn.CreateStream(headers)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create data stream: %w", err)
	}
	t.data = data
	return t, nil
}

func (t *tunnel) Read(p []byte) (int, error) {
	n, err := t.data.Read(p)
	if err != nil && n == 0 {
		if remote := t.remoteError(); remote != nil {
			return 0, remote
		}
	}
	return n, err
}

func (t *tunnel) Write(p []byte) (int, error) {
	return t.data.Write(p)
}

// Close is safe to call more than once.
func (t *tunnel) Close() error {
	var err error
	t.once.Do(func() {
		t.data.Close()
		err = t.conn.Close()
	})
	return err
}

func (t *tunnel) remoteError() error {
	select {
	case err := <-t.errCh:
		return err
	case <-time.After(errorStreamWait):
		return nil
	}
}
