package kube

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/httpstream"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/client-go/rest"
	k8stesting "k8s.io/client-go/testing"
)

const kubeconfig = `apiVersion: v1
kind: Config
clusters:
- cluster:
    server: https://k8s.example.com:6443
  name: test
contexts:
- context:
    cluster: test
    user: test
  name: test
current-context: test
users:
- name: test
  user:
    token: abc
`

func TestRESTConfigExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte(kubeconfig), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := RESTConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Host != "https://k8s.example.com:6443" {
		t.Errorf("host = %q", cfg.Host)
	}
	if cfg.BearerToken != "abc" {
		t.Errorf("token = %q", cfg.BearerToken)
	}
}

func TestRESTConfigMissingFile(t *testing.T) {
	if _, err := RESTConfig(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected an error for a missing kubeconfig")
	}
}

func testClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(&rest.Config{Host: "https://k8s.example.com:6443"})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestExecURL(t *testing.T) {
	u := testClient(t).execURL("ns", "job-7", "vks-sidecar", []string{"/bin/kill", "-s", "INT", "1"})

	if u.Path != "/api/v1/namespaces/ns/pods/job-7/exec" {
		t.Errorf("path = %q", u.Path)
	}
	q := u.Query()
	if q.Get("container") != "vks-sidecar" {
		t.Errorf("container = %q", q.Get("container"))
	}
	if got := strings.Join(q["command"], " "); got != "/bin/kill -s INT 1" {
		t.Errorf("command = %q", got)
	}
	if q.Get("stderr") != "true" {
		t.Error("stderr should be requested")
	}
	for _, k := range []string{"stdout", "stdin", "tty"} {
		if q.Get(k) == "true" {
			t.Errorf("%s should not be requested", k)
		}
	}
}

func TestPortForwardURL(t *testing.T) {
	u := testClient(t).portForwardURL("ns", "job-7")
	if u.Path != "/api/v1/namespaces/ns/pods/job-7/portforward" {
		t.Errorf("path = %q", u.Path)
	}
}

type fakeStream struct {
	httpstream.Stream
	headers http.Header
	rw      io.ReadWriter
	closed  atomic.Bool
}

func (s *fakeStream) Read(p []byte) (int, error)  { return s.rw.Read(p) }
func (s *fakeStream) Write(p []byte) (int, error) { return s.rw.Write(p) }
func (s *fakeStream) Headers() http.Header        { return s.headers }

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	if c, ok := s.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type fakeConn struct {
	httpstream.Connection
	mu        sync.Mutex
	streams   []*fakeStream
	errorBody string
	data      io.ReadWriter
	failOn    int
	closed    atomic.Int32
}

func (c *fakeConn) CreateStream(headers http.Header) (httpstream.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOn > 0 && len(c.streams)+1 == c.failOn {
		return nil, errors.New("stream refused")
	}
	s := &fakeStream{headers: headers.Clone()}
	if headers.Get(corev1.StreamType) == corev1.StreamTypeError {
		s.rw = &readOnly{strings.NewReader(c.errorBody)}
	} else {
		s.rw = c.data
	}
	c.streams = append(c.streams, s)
	return s, nil
}

func (c *fakeConn) Close() error {
	c.closed.Add(1)
	return nil
}

type readOnly struct{ io.Reader }

func (readOnly) Write(p []byte) (int, error) { return 0, errors.New("read only") }

func TestTunnelRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	conn := &fakeConn{data: client}

	go func() {
		defer server.Close()
		req, err := http.ReadRequest(bufio.NewReader(server))
		if err != nil {
			return
		}
		io.WriteString(server, "HTTP/1.1 200 OK\r\nContent-Length: 4\r\nConnection: close\r\n\r\n"+req.Method)
	}()

	tun, err := openTunnel(conn, 15000)
	if err != nil {
		t.Fatal(err)
	}

	if len(conn.streams) != 2 {
		t.Fatalf("created %d streams, want 2", len(conn.streams))
	}
	for i, wantType := range []string{corev1.StreamTypeError, corev1.StreamTypeData} {
		h := conn.streams[i].headers
		if h.Get(corev1.StreamType) != wantType {
			t.Errorf("stream %d type = %q, want %q", i, h.Get(corev1.StreamType), wantType)
		}
		if h.Get(corev1.PortHeader) != "15000" {
			t.Errorf("stream %d port = %q", i, h.Get(corev1.PortHeader))
		}
		if h.Get(corev1.PortForwardRequestIDHeader) != "0" {
			t.Errorf("stream %d request id = %q", i, h.Get(corev1.PortForwardRequestIDHeader))
		}
	}
	if !conn.streams[0].closed.Load() {
		t.Error("error stream should be closed for writing right away")
	}

	req, _ := http.NewRequest(http.MethodPost, "http://127.0.0.1/quitquitquit", http.NoBody)
	if err := req.Write(tun); err != nil {
		t.Fatal(err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(tun), req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || string(body) != "POST" {
		t.Errorf("got %d %q", resp.StatusCode, body)
	}

	if err := tun.Close(); err != nil {
		t.Fatal(err)
	}
	tun.Close()
	if n := conn.closed.Load(); n != 1 {
		t.Errorf("connection closed %d times, want 1", n)
	}
	if !conn.streams[1].closed.Load() {
		t.Error("data stream should be closed")
	}
}

func TestTunnelSurfacesRemoteError(t *testing.T) {
	conn := &fakeConn{
		data:      &readOnly{strings.NewReader("")},
		errorBody: "error forwarding port 15000 to pod abc: connection refused",
	}

	tun, err := openTunnel(conn, 15000)
	if err != nil {
		t.Fatal(err)
	}
	defer tun.Close()

	_, err = tun.Read(make([]byte, 16))
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Read() error = %v, want the remote error", err)
	}
}

func TestTunnelStreamCreationFails(t *testing.T) {
	for _, failOn := range []int{1, 2} {
		conn := &fakeConn{data: &readOnly{strings.NewReader("")}, failOn: failOn}
		if _, err := openTunnel(conn, 9091); err == nil {
			t.Errorf("failOn=%d: expected an error", failOn)
		}
		if conn.closed.Load() != 1 {
			t.Errorf("failOn=%d: connection should be closed on failure", failOn)
		}
	}
}

func TestEventPublisher(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	p := NewEventPublisher(clientset, "hahaha", "hahaha-abc")
	p.now = func() time.Time { return time.Unix(1700000000, 0) }

	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "job-7", Namespace: "ns", UID: "uid-1"}}
	if err := p.Publish(context.Background(), pod, corev1.EventTypeNormal, "Killing", "Successfully shut down container istio-proxy"); err != nil {
		t.Fatal(err)
	}

	list, err := clientset.CoreV1().Events("ns").List(context.Background(), metav1.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Items) != 1 {
		t.Fatalf("got %d events, want 1", len(list.Items))
	}
	ev := list.Items[0]
	if ev.InvolvedObject.Kind != "Pod" || ev.InvolvedObject.Name != "job-7" || ev.InvolvedObject.UID != "uid-1" {
		t.Errorf("involved object = %+v", ev.InvolvedObject)
	}
	if ev.Type != corev1.EventTypeNormal || ev.Reason != "Killing" {
		t.Errorf("type/reason = %s/%s", ev.Type, ev.Reason)
	}
	if ev.ReportingController != "hahaha" || ev.ReportingInstance != "hahaha-abc" || ev.Source.Component != "hahaha" {
		t.Errorf("reporter = %s/%s/%s", ev.ReportingController, ev.ReportingInstance, ev.Source.Component)
	}
	if !strings.HasPrefix(ev.Name, "job-7.") {
		t.Errorf("name = %q", ev.Name)
	}
}

func TestEventPublisherDefaultsNamespace(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	p := NewEventPublisher(clientset, "hahaha", "i")

	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "job-7"}}
	if err := p.Publish(context.Background(), pod, corev1.EventTypeWarning, "Killing", "x"); err != nil {
		t.Fatal(err)
	}
	list, _ := clientset.CoreV1().Events("default").List(context.Background(), metav1.ListOptions{})
	if len(list.Items) != 1 {
		t.Errorf("got %d events in default, want 1", len(list.Items))
	}
}

func TestEventPublisherError(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	clientset.PrependReactor("create", "events", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("events is forbidden")
	})

	p := NewEventPublisher(clientset, "hahaha", "i")
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "job-7", Namespace: "ns"}}
	err := p.Publish(context.Background(), pod, corev1.EventTypeNormal, "Killing", "x")
	if err == nil || !strings.Contains(err.Error(), "forbidden") {
		t.Errorf("Publish() error = %v, want forbidden", err)
	}
}

// hungClient points at an API server that accepts upgrade requests and never
// answers them.
func hungClient(t *testing.T) *Client {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c, err := NewClient(&rest.Config{Host: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestUpgradeHonoursDeadline(t *testing.T) {
	tests := map[string]func(ctx context.Context, c *Client) error{
		"exec": func(ctx context.Context, c *Client) error {
			return c.Exec(ctx, "ns", "job-7", "vks-sidecar", []string{"/bin/kill", "-s", "INT", "1"})
		},
		"port-forward": func(ctx context.Context, c *Client) error {
			conn, err := c.PortForward(ctx, "ns", "job-7", 15000)
			if conn != nil {
				conn.Close()
			}
			return err
		},
	}

	for name, call := range tests {
		t.Run(name, func(t *testing.T) {
			c := hungClient(t)
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- call(ctx, c) }()

			select {
			case err := <-done:
				if !errors.Is(err, context.DeadlineExceeded) {
					t.Errorf("error = %v, want deadline exceeded", err)
				}
			case <-time.After(3 * time.Second):
				t.Fatal("still blocked 3s after a 100ms deadline")
			}
		})
	}
}
