// Package actions holds the table of sidecars hahaha knows how to stop and
// the shutdown action each of them expects.
package actions

import (
	"fmt"
	"strings"
)

// Kind identifies which transport an Action is carried over.
type Kind string

const (
	KindExec       Kind = "exec"
	KindHTTPSignal Kind = "http"
)

// Action is a shutdown instruction for one sidecar. Exactly one of Exec and
// HTTP is set; use NewExec or NewHTTPSignal to build one.
type Action struct {
	kind Kind
	exec *Exec
	http *HTTPSignal
}

// Exec runs a command inside the sidecar container.
type Exec struct {
	Command []string
}

// HTTPSignal calls a control endpoint the sidecar serves on a pod-local port.
type HTTPSignal struct {
	Method string
	Path   string
	Port   uint16
}

// NewExec builds an exec action. The command is copied.
func NewExec(command ...string) Action {
	return Action{kind: KindExec, exec: &Exec{Command: append([]string(nil), command...)}}
}

// NewHTTPSignal builds an HTTP signal action.
func NewHTTPSignal(method, path string, port uint16) Action {
	return Action{kind: KindHTTPSignal, http: &HTTPSignal{Method: method, Path: path, Port: port}}
}

func (a Action) Kind() Kind { return a.kind }

// Exec returns the exec variant, or false if a carries another kind.
func (a Action) Exec() (Exec, bool) {
	if a.exec == nil {
		return Exec{}, false
	}
	return Exec{Command: append([]string(nil), a.exec.Command...)}, true
}

// HTTPSignal returns the HTTP variant, or false if a carries another kind.
func (a Action) HTTPSignal() (HTTPSignal, bool) {
	if a.http == nil {
		return HTTPSignal{}, false
	}
	return *a.http, true
}

func (a Action) String() string {
	switch a.kind {
	case KindExec:
		return "exec `" + strings.Join(a.exec.Command, " ") + "`"
	case KindHTTPSignal:
		return fmt.Sprintf("%s %s on port %d", a.http.Method, a.http.Path, a.http.Port)
	default:
		return "none"
	}
}
